package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"styleauth/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	output     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "styleauth",
		Short: "Continuous implicit authentication from writing style",
		Long: `styleauth decides whether prompts were written by the account holder.

Each user gets a bank of one-class SVMs trained on their own writing. Every
prompt is scored by the whole bank, the votes are combined into a decision
with a certainty, and a per-session trust score locks the session when it
falls below the floor.

Workflow:
  styleauth config init            Write a default config file
  styleauth train --data c.csv     Train banks from an author,content CSV
  styleauth eval --data c.csv      Check FAR/FRR on held-out texts
  styleauth stream alice < chat    Authenticate a prompt stream`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "text", "json":
				return nil
			default:
				return fmt.Errorf("invalid output format %q (valid: text, json)", opts.output)
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: search ./config.toml, then the platform config dir)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format (text, json)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newTrainCmd(opts),
		newAuthCmd(opts),
		newStreamCmd(opts),
		newEvalCmd(opts),
		newUsersCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// resolveConfigPath returns the --config flag, an existing config file in a
// standard location, or the default path.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if p := config.FindConfigFile(); p != "" {
		return p
	}
	return config.ConfigPath()
}

func (o *rootOptions) json() bool { return o.output == "json" }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONLine writes v as a single line for streaming consumers.
func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
