/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package show implements the "manager show" command, printing the
// catalog contents as tables
package show

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCmd creates the "show" subcommand
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show [cmd]",
		Short:         "Prints the catalog contents",
		SilenceErrors: true,
	}

	cmd.AddCommand(backupsCmd())
	cmd.AddCommand(serversCmd())
	cmd.AddCommand(schedulesCmd())
	cmd.AddCommand(auditCmd())

	return cmd
}

func backupsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Lists the most recent backups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(store)

			backups, err := store.ListBackups(ctx, limit)
			if err != nil {
				return fmt.Errorf("while listing backups: %w", err)
			}
			servers, err := store.ListServers(ctx)
			if err != nil {
				return fmt.Errorf("while listing servers: %w", err)
			}
			renderBackups(cmd.OutOrStdout(), backups, servers)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rows")

	return cmd
}

func serversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Lists the registered servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(store)

			servers, err := store.ListServers(ctx)
			if err != nil {
				return fmt.Errorf("while listing servers: %w", err)
			}
			renderServers(cmd.OutOrStdout(), servers)
			return nil
		},
	}
}

func schedulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "Lists the backup schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(store)

			schedules, err := store.ListSchedules(ctx)
			if err != nil {
				return fmt.Errorf("while listing schedules: %w", err)
			}
			servers, err := store.ListServers(ctx)
			if err != nil {
				return fmt.Errorf("while listing servers: %w", err)
			}
			renderSchedules(cmd.OutOrStdout(), schedules, servers)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Lists the most recent audit records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(store)

			records, err := store.ListAudit(ctx, limit)
			if err != nil {
				return fmt.Errorf("while listing the audit trail: %w", err)
			}
			renderAudit(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rows")

	return cmd
}
