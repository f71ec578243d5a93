package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAuthCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "auth <user> <text>...",
		Short: "Score a single prompt against a user's bank",
		Long: `Auth runs one prompt through the user's model bank and prints the
ensemble decision. No session state is kept; use stream for trust tracking.

Examples:
  styleauth auth alice "see you at the usual place"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			authn, err := a.authenticator()
			if err != nil {
				return err
			}
			res, err := authn.Authenticate(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if o.json() {
				return writeJSON(w, map[string]any{
					"user":      res.UserID,
					"outcome":   res.Outcome,
					"decision":  res.Decision.String(),
					"certainty": res.Certainty,
					"agreement": res.Agreement,
				})
			}
			fmt.Fprintf(w, "%s decision=%s certainty=%.3f agreement=%.2f\n",
				res.Outcome, res.Decision, res.Certainty, res.Agreement)
			return nil
		},
	}
}
