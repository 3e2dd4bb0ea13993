package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/claudeconnect/client/internal/config"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		Long: `Init writes a commented config file to --config, or to
~/.claudeconnect/config.toml when no path is given. An existing file is left
untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.flags.configPath
			if path == "" {
				p, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}

			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(a.stdout, "Config already exists: %s\n", path)
				return nil
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Created config: %s\n", path)
			return nil
		},
	}
}
