package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"styleauth/internal/model"
	"styleauth/internal/store"
)

func newUsersCmd(o *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users with a complete model bank",
		Long: `Users lists every user whose stored bank covers the configured grid.
With --all, users with missing, corrupt or mismatched bundles are listed
too, with the reason their bank cannot be served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.store.Users(ctx)
			if err != nil {
				return err
			}

			type userStatus struct {
				User   string `json:"user"`
				Models int    `json:"models"`
				Ready  bool   `json:"ready"`
				Reason string `json:"reason,omitempty"`
			}
			var out []userStatus
			for _, u := range users {
				st := userStatus{User: u, Ready: true}
				bank, err := model.LoadBank(ctx, a.store, u, a.cfg.Grid)
				if err != nil {
					st.Ready = false
					st.Reason = err.Error()
				} else {
					st.Models = bank.Len()
				}
				if st.Ready || all {
					out = append(out, st)
				}
			}

			w := cmd.OutOrStdout()
			if o.json() {
				return writeJSON(w, out)
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tMODELS\tSTATUS")
			for _, st := range out {
				status := "ready"
				if !st.Ready {
					status = st.Reason
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", st.User, st.Models, status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include users whose bank cannot be served")
	cmd.AddCommand(newUsersRemoveCmd(o), newUsersHistoryCmd(o))
	return cmd
}

func newUsersRemoveCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <user>",
		Short: "Delete every stored bundle of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			a.logger.Info("removed user", "user_id", args[0], "bundles", n)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d bundles for %s\n", n, args[0])
			return nil
		},
	}
}

func newUsersHistoryCmd(o *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "Show training runs and recent decisions of a user",
		Long: `History prints the recorded training runs of a user followed by the
most recent authentication decisions. Only the sqlite store keeps history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			h, ok := a.store.(store.HistoryReader)
			if !ok {
				return errors.New("history requires the sqlite store")
			}
			runs, err := h.TrainingRuns(ctx, args[0])
			if err != nil {
				return err
			}
			decisions, err := h.Decisions(ctx, args[0], limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if o.json() {
				type runJSON struct {
					TrainSamples  int       `json:"train_samples"`
					TestSamples   int       `json:"test_samples"`
					Models        int       `json:"models"`
					SchemaVersion int       `json:"schema_version"`
					DurationMS    int64     `json:"duration_ms"`
					CreatedAt     time.Time `json:"created_at"`
				}
				type decisionJSON struct {
					SessionID  string    `json:"session_id,omitempty"`
					Outcome    string    `json:"outcome"`
					Decision   int       `json:"decision"`
					Certainty  float64   `json:"certainty"`
					Confidence float64   `json:"confidence"`
					Locked     bool      `json:"locked"`
					CreatedAt  time.Time `json:"created_at"`
				}
				out := struct {
					User         string         `json:"user"`
					TrainingRuns []runJSON      `json:"training_runs"`
					Decisions    []decisionJSON `json:"decisions"`
				}{User: args[0], TrainingRuns: []runJSON{}, Decisions: []decisionJSON{}}
				for _, r := range runs {
					out.TrainingRuns = append(out.TrainingRuns, runJSON{
						TrainSamples:  r.TrainSamples,
						TestSamples:   r.TestSamples,
						Models:        r.Models,
						SchemaVersion: int(r.SchemaVersion),
						DurationMS:    r.Duration.Milliseconds(),
						CreatedAt:     r.CreatedAt.UTC(),
					})
				}
				for _, d := range decisions {
					out.Decisions = append(out.Decisions, decisionJSON{
						SessionID:  d.SessionID,
						Outcome:    d.Outcome,
						Decision:   d.Decision,
						Certainty:  d.Certainty,
						Confidence: d.Confidence,
						Locked:     d.Locked,
						CreatedAt:  d.CreatedAt.UTC(),
					})
				}
				return writeJSON(w, out)
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TRAINED\tTRAIN\tTEST\tMODELS\tSCHEMA\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
					r.CreatedAt.UTC().Format(time.RFC3339), r.TrainSamples, r.TestSamples,
					r.Models, int(r.SchemaVersion), r.Duration.Round(time.Millisecond))
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "DECIDED\tOUTCOME\tDECISION\tCERTAINTY\tLOCKED")
			for _, d := range decisions {
				fmt.Fprintf(tw, "%s\t%s\t%+d\t%.4f\t%t\n",
					d.CreatedAt.UTC().Format(time.RFC3339), d.Outcome, d.Decision, d.Certainty, d.Locked)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent decisions to show")
	return cmd
}
