package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"styleauth/internal/config"
)

func newConfigCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(o), newConfigShowCmd(o), newConfigValidateCmd(o))
	return cmd
}

func newConfigInitCmd(o *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Init writes the default configuration to --config, or to the platform
config directory. The format follows the file extension (toml, json, yaml).
An existing file is kept unless --force is given, in which case it is
backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.configPath
			if path == "" {
				path = config.ConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Show prints the configuration after defaults, the config file and
STYLEAUTH_* environment overrides have been applied. The output is TOML
unless -o json is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.resolveConfigPath())
			if err != nil {
				return err
			}
			ext := ".toml"
			if o.json() {
				ext = ".json"
			}
			data, err := config.Encode(cfg, ext)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigValidateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors and warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			findings := config.Check(cfg)
			for _, f := range findings {
				level := "error"
				if f.IsWarning() {
					level = "warning"
				}
				fmt.Fprintf(w, "%s: %s: %s\n", level, f.Field, f.Message)
			}
			if findings.HasErrors() {
				return fmt.Errorf("%s: %w", filepath.Base(path), findings.Errors())
			}
			fmt.Fprintf(w, "%s is valid\n", path)
			return nil
		},
	}
}
