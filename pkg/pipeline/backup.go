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

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"

	"github.com/polybackup/polybackup/pkg/blob"
	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/compression"
	"github.com/polybackup/polybackup/pkg/encryption"
	"github.com/polybackup/polybackup/pkg/management/log"
)

// RunBackup executes one backup job end to end. The job is claimed with a
// compare-and-set on the catalog row; when another worker got there first
// the call returns nil without touching anything. Any failure past the
// claim settles the row as failed and is also returned to the caller.
func (p *Pipeline) RunBackup(ctx context.Context, backupID int64) error {
	contextLogger := log.FromContext(ctx).WithValues("backupID", backupID)
	ctx = log.IntoContext(ctx, contextLogger)

	backup, err := p.store.GetBackup(ctx, backupID)
	if err != nil {
		return fmt.Errorf("while loading backup %d: %w", backupID, err)
	}

	startedAt := time.Now().UTC()
	err = p.store.UpdateBackupStatus(ctx, backupID,
		catalog.BackupStatusPending, catalog.BackupStatusInProgress,
		catalog.BackupUpdate{StartedAt: &startedAt})
	if errors.Is(err, catalog.ErrStatusConflict) {
		contextLogger.Debug("Backup already claimed by another worker, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("while claiming backup %d: %w", backupID, err)
	}

	p.sendBackupProgress(backupID, 0, string(catalog.BackupStatusInProgress), "backup started")

	runCtx := ctx
	if p.options.JobTimeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.options.JobTimeLimit)
		defer cancel()
	}

	if err := p.produceBackup(runCtx, backup, startedAt); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil {
			err = fmt.Errorf("backup exceeded the job time limit of %s", p.options.JobTimeLimit)
		}
		// The failure is settled on the parent context: the deadline
		// that killed the job must not also kill the bookkeeping
		return p.failBackup(ctx, backup, startedAt, err)
	}
	return nil
}

// produceBackup walks the dump, compress, encrypt, checksum and upload
// stages and commits the completed row
func (p *Pipeline) produceBackup(ctx context.Context, backup *catalog.Backup, startedAt time.Time) error {
	contextLogger := log.FromContext(ctx)

	server, err := p.store.GetServer(ctx, backup.ServerID)
	if err != nil {
		return fmt.Errorf("while loading server %d: %w", backup.ServerID, err)
	}

	exec, eng, err := p.newDialect(server, backup.DatabaseFamily, backup.DatabaseName)
	if err != nil {
		return err
	}
	defer func() {
		if err := exec.Close(); err != nil {
			contextLogger.Warning("Cannot close executor",
				"server", server.Name,
				"error", err.Error())
		}
	}()

	artifactName := fmt.Sprintf("backup_%d_%s.dump", backup.ID, uuid.NewString())
	remotePath := path.Join(remoteScratchDirectory, artifactName)
	artifact := filepath.Join(p.options.WorkDirectory, artifactName)
	defer func() {
		cleanupLocal(ctx, artifact)
	}()

	contextLogger.Info("Creating backup",
		"server", server.Name,
		"database", backup.DatabaseName,
		"kind", backup.Kind)
	if result := eng.CreateBackup(ctx, remotePath, backup.Kind); !result.Success {
		return fmt.Errorf("backup command failed: %s", strings.TrimSpace(result.Stderr))
	}
	if err := exec.DownloadFile(ctx, remotePath, artifact); err != nil {
		return fmt.Errorf("while fetching the backup artifact: %w", err)
	}
	p.cleanupRemote(ctx, exec, remotePath)
	p.sendBackupProgress(backup.ID, 30, string(catalog.BackupStatusInProgress), "dump created")

	compressed := backup.Compressed && backup.CompressionAlgo != catalog.CompressionNone
	if compressed {
		next := artifact + compression.Extension(backup.CompressionAlgo)
		if err := compression.Compress(artifact, next, backup.CompressionAlgo); err != nil {
			cleanupLocal(ctx, next)
			return fmt.Errorf("while compressing the backup: %w", err)
		}
		if artifact, err = swapStage(artifact, next); err != nil {
			return err
		}
		p.sendBackupProgress(backup.ID, 50, string(catalog.BackupStatusInProgress), "compressed")
	}

	if backup.Encrypted {
		next := artifact + ".enc"
		if err := encryption.EncryptFile(artifact, next, p.options.Key); err != nil {
			cleanupLocal(ctx, next)
			return fmt.Errorf("while encrypting the backup: %w", err)
		}
		if artifact, err = swapStage(artifact, next); err != nil {
			return err
		}
		p.sendBackupProgress(backup.ID, 65, string(catalog.BackupStatusInProgress), "encrypted")
	}

	checksum, err := encryption.ChecksumFile(artifact)
	if err != nil {
		return fmt.Errorf("while computing the backup checksum: %w", err)
	}
	info, err := os.Stat(artifact)
	if err != nil {
		return fmt.Errorf("while sizing the backup artifact: %w", err)
	}
	sizeBytes := info.Size()

	key := blob.KeyFor(backup.ID, startedAt)
	p.sendBackupProgress(backup.ID, 80, string(catalog.BackupStatusInProgress), "uploading")
	err = retry.New(
		retry.Attempts(p.options.UploadAttempts),
		retry.Delay(uploadRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			contextLogger.Info("Retrying backup upload",
				"attempt", n+1,
				"key", key,
				"error", err.Error(),
			)
		}),
	).Do(
		func() error {
			return p.blobs.Upload(ctx, artifact, key)
		},
	)
	if err != nil {
		return fmt.Errorf("while uploading the backup to %q: %w", key, err)
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt).Seconds()
	encrypted := backup.Encrypted
	compressionAlgo := backup.CompressionAlgo
	if !compressed {
		compressionAlgo = catalog.CompressionNone
	}
	update := catalog.BackupUpdate{
		CompletedAt:     &completedAt,
		DurationSeconds: &duration,
		SizeBytes:       &sizeBytes,
		Checksum:        &checksum,
		StorageKey:      &key,
		Encrypted:       &encrypted,
		Compressed:      &compressed,
		CompressionAlgo: &compressionAlgo,
	}
	if encrypted {
		algo := catalog.EncryptionAlgoAESGCM
		update.EncryptionAlgo = &algo
	}
	if err := p.store.UpdateBackupStatus(ctx, backup.ID,
		catalog.BackupStatusInProgress, catalog.BackupStatusCompleted, update); err != nil {
		return fmt.Errorf("while committing backup %d: %w", backup.ID, err)
	}

	detail, _ := json.Marshal(map[string]interface{}{
		"database":         backup.DatabaseName,
		"server":           server.Name,
		"size_bytes":       sizeBytes,
		"duration_seconds": duration,
	})
	if err := p.store.InsertAudit(ctx, &catalog.AuditRecord{
		Action:        catalog.AuditBackupCreate,
		ResourceType:  "backup",
		ResourceID:    backup.ID,
		Detail:        string(detail),
		CorrelationID: uuid.NewString(),
	}); err != nil {
		contextLogger.Error(err, "Cannot audit backup completion")
	}

	p.recordBackup(string(catalog.BackupStatusCompleted), completedAt.Sub(startedAt), sizeBytes)
	p.notifyBackup(ctx, backup.ID, true,
		fmt.Sprintf("Backup completed for %s", backup.DatabaseName))
	p.sendBackupProgress(backup.ID, 100, string(catalog.BackupStatusCompleted),
		"backup stored at "+key)
	contextLogger.Info("Backup completed",
		"key", key,
		"sizeBytes", sizeBytes,
		"durationSeconds", duration)
	return nil
}

// failBackup settles a claimed job as failed and reports the failure
// through every configured channel. It returns the cause so call sites
// can hand it straight back to the worker pool.
func (p *Pipeline) failBackup(
	ctx context.Context,
	backup *catalog.Backup,
	startedAt time.Time,
	cause error,
) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Error(cause, "Backup failed", "database", backup.DatabaseName)

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt).Seconds()
	message := cause.Error()
	err := p.store.UpdateBackupStatus(ctx, backup.ID,
		catalog.BackupStatusInProgress, catalog.BackupStatusFailed,
		catalog.BackupUpdate{
			CompletedAt:     &completedAt,
			DurationSeconds: &duration,
			ErrorMessage:    &message,
		})
	if err != nil {
		contextLogger.Error(err, "Cannot mark backup as failed")
	}

	p.recordBackup(string(catalog.BackupStatusFailed), completedAt.Sub(startedAt), 0)
	p.notifyBackup(ctx, backup.ID, false,
		fmt.Sprintf("Backup failed for %s: %s", backup.DatabaseName, message))
	p.sendBackupProgress(backup.ID, 100, string(catalog.BackupStatusFailed), message)
	return cause
}
