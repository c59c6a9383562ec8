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

// Package restore implements the "manager restore" command, loading a
// stored backup into a target database without the daemon
package restore

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polybackup/polybackup/internal/configuration"
	"github.com/polybackup/polybackup/pkg/blob"
	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/encryption"
	"github.com/polybackup/polybackup/pkg/fileutils"
	"github.com/polybackup/polybackup/pkg/management/log"
	"github.com/polybackup/polybackup/pkg/masking"
	"github.com/polybackup/polybackup/pkg/notification"
	"github.com/polybackup/polybackup/pkg/pipeline"
)

// NewCmd creates the "restore" subcommand
func NewCmd() *cobra.Command {
	var backupID int64
	var targetDatabase string
	var targetServer string
	var maskingRuleSet string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Loads a stored backup into a target database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRestore(cmd.Context(), backupID, targetDatabase, targetServer, maskingRuleSet)
		},
	}

	cmd.Flags().Int64Var(&backupID, "backup-id", 0,
		"ID of the catalog backup to restore")
	cmd.Flags().StringVar(&targetDatabase, "target", "",
		"Database the backup is loaded into")
	cmd.Flags().StringVar(&targetServer, "target-server", "",
		"Name of the server to restore onto, defaulting to the backup source")
	cmd.Flags().StringVar(&maskingRuleSet, "masking", "",
		"Name of the masking rule set applied after the restore")
	_ = cmd.MarkFlagRequired("backup-id")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func runRestore(
	ctx context.Context,
	backupID int64,
	targetDatabase string,
	targetServer string,
	maskingRuleSet string,
) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	contextLogger := log.FromContext(ctx)

	config := configuration.Current
	config.ReadConfigMap(nil)

	if config.CatalogDSN == "" {
		return errors.New("no catalog DSN configured, set CATALOG_DSN")
	}
	if config.EncryptionPassphrase == "" {
		return errors.New("no encryption passphrase configured, set BACKUP_ENCRYPTION_KEY")
	}
	key := encryption.DeriveKey(config.EncryptionPassphrase, config.EncryptionSalt)

	var rules masking.RuleSets
	if maskingRuleSet != "" {
		if config.MaskingRulesPath == "" {
			return errors.New("no masking rules configured, set MASKING_RULES_PATH")
		}
		var err error
		if rules, err = masking.LoadRuleSets(config.MaskingRulesPath); err != nil {
			return fmt.Errorf("while loading the masking rule sets: %w", err)
		}
	}

	if err := fileutils.EnsureDirectoryExists(config.WorkDirectory); err != nil {
		return fmt.Errorf("while preparing the work directory: %w", err)
	}

	store, err := catalog.NewPostgres(ctx, config.CatalogDSN)
	if err != nil {
		return fmt.Errorf("while connecting to the catalog: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			contextLogger.Error(err, "Cannot close the catalog cleanly")
		}
	}()

	backup, err := store.GetBackup(ctx, backupID)
	if err != nil {
		return fmt.Errorf("while loading backup %d: %w", backupID, err)
	}

	targetServerID := backup.ServerID
	if targetServer != "" {
		server, err := store.GetServerByName(ctx, targetServer)
		if err != nil {
			return fmt.Errorf("while loading server %q: %w", targetServer, err)
		}
		targetServerID = server.ID
	}

	blobs, err := blob.NewFromConfiguration(config)
	if err != nil {
		return fmt.Errorf("while building the blob service: %w", err)
	}

	contextLogger.Info("Starting restore",
		"backupID", backupID,
		"targetServerID", targetServerID,
		"targetDatabase", targetDatabase,
		"masking", maskingRuleSet)

	pipe := pipeline.New(store, blobs, nil, notification.NewFromConfiguration(config), nil,
		pipeline.Options{
			WorkDirectory: config.WorkDirectory,
			Key:           key,
			ExecTimeout:   config.ExecTimeout(),
			JobTimeLimit:  config.JobTimeLimit(),
			MaskingRules:  rules,
		})
	if err := pipe.RunRestore(ctx, pipeline.RestoreRequest{
		BackupID:       backupID,
		TargetServerID: targetServerID,
		TargetDatabase: targetDatabase,
		MaskingRuleSet: maskingRuleSet,
	}); err != nil {
		return fmt.Errorf("restore of backup %d failed: %w", backupID, err)
	}

	contextLogger.Info("Restore completed",
		"backupID", backupID,
		"targetDatabase", targetDatabase)
	return nil
}
