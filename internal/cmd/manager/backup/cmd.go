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

// Package backup implements the "manager backup" command, running a
// single backup end to end without the daemon
package backup

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
	"github.com/polybackup/polybackup/pkg/notification"
	"github.com/polybackup/polybackup/pkg/pipeline"
)

// NewCmd creates the "backup" subcommand
func NewCmd() *cobra.Command {
	var serverName string
	var databaseName string
	var kindName string
	var compressionName string
	var encrypt bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Runs a single backup and waits for it to settle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := parseKind(kindName)
			if err != nil {
				return err
			}
			algo, err := parseCompression(compressionName)
			if err != nil {
				return err
			}
			return runBackup(cmd.Context(), serverName, databaseName, kind, algo, encrypt)
		},
	}

	cmd.Flags().StringVar(&serverName, "server", "",
		"Name of the catalog server to back up")
	cmd.Flags().StringVar(&databaseName, "database", "",
		"Database to back up")
	cmd.Flags().StringVar(&kindName, "kind", string(catalog.BackupKindFull),
		"Backup kind, one of full, incremental and differential")
	cmd.Flags().StringVar(&compressionName, "compression", string(catalog.CompressionGzip),
		"Compression algorithm, one of none, gzip, lz4 and zstd")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false,
		"Encrypt the artifact before uploading it")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("database")

	return cmd
}

func runBackup(
	ctx context.Context,
	serverName string,
	databaseName string,
	kind catalog.BackupKind,
	algo catalog.CompressionAlgo,
	encrypt bool,
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

	server, err := store.GetServerByName(ctx, serverName)
	if err != nil {
		return fmt.Errorf("while loading server %q: %w", serverName, err)
	}

	blobs, err := blob.NewFromConfiguration(config)
	if err != nil {
		return fmt.Errorf("while building the blob service: %w", err)
	}

	backupID, err := store.InsertBackup(ctx, &catalog.Backup{
		ServerID:        server.ID,
		DatabaseName:    databaseName,
		DatabaseFamily:  server.DatabaseFamily,
		Kind:            kind,
		Compressed:      algo != catalog.CompressionNone,
		CompressionAlgo: algo,
		Encrypted:       encrypt,
	})
	if err != nil {
		return fmt.Errorf("while registering the backup: %w", err)
	}

	contextLogger.Info("Starting backup",
		"backupID", backupID,
		"server", serverName,
		"database", databaseName,
		"kind", kind)

	pipe := pipeline.New(store, blobs, nil, notification.NewFromConfiguration(config), nil,
		pipeline.Options{
			WorkDirectory: config.WorkDirectory,
			Key:           key,
			ExecTimeout:   config.ExecTimeout(),
			JobTimeLimit:  config.JobTimeLimit(),
		})
	if err := pipe.RunBackup(ctx, backupID); err != nil {
		return fmt.Errorf("backup %d failed: %w", backupID, err)
	}

	settled, err := store.GetBackup(ctx, backupID)
	if err != nil {
		return fmt.Errorf("while reading back backup %d: %w", backupID, err)
	}
	fields := []interface{}{"backupID", backupID, "status", settled.Status}
	if settled.StorageKey != nil {
		fields = append(fields, "storageKey", *settled.StorageKey)
	}
	if settled.SizeBytes != nil {
		fields = append(fields, "sizeBytes", *settled.SizeBytes)
	}
	contextLogger.Info("Backup completed", fields...)
	return nil
}

func parseKind(value string) (catalog.BackupKind, error) {
	switch kind := catalog.BackupKind(value); kind {
	case catalog.BackupKindFull, catalog.BackupKindIncremental, catalog.BackupKindDifferential:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown backup kind %q", value)
	}
}

func parseCompression(value string) (catalog.CompressionAlgo, error) {
	switch algo := catalog.CompressionAlgo(value); algo {
	case catalog.CompressionNone, catalog.CompressionGzip,
		catalog.CompressionLZ4, catalog.CompressionZstd:
		return algo, nil
	default:
		return "", fmt.Errorf("unknown compression algorithm %q", value)
	}
}
