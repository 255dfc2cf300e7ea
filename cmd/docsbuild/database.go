package main

import (
	"github.com/spf13/cobra"

	"docsbuild.dev/docsbuild/pkg/config"
	"docsbuild.dev/docsbuild/pkg/store"
)

func newDatabaseCmd() *cobra.Command {
	var toVersion uint
	var toSet bool

	cmd := &cobra.Command{
		Use:   "database",
		Short: "manage the relational schema",
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return &configError{err}
			}
			if toSet {
				return store.MigrateTo(cfg.DatabaseURL, toVersion)
			}
			return store.Migrate(cfg.DatabaseURL)
		},
	}
	migrate.Flags().UintVar(&toVersion, "to", 0, "migrate to a specific schema version instead of the latest")
	migrate.PreRunE = func(cmd *cobra.Command, args []string) error {
		toSet = cmd.Flags().Changed("to")
		return nil
	}

	cmd.AddCommand(migrate)
	return cmd
}
