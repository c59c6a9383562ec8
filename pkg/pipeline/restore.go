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
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/compression"
	"github.com/polybackup/polybackup/pkg/encryption"
	"github.com/polybackup/polybackup/pkg/engine"
	"github.com/polybackup/polybackup/pkg/management/log"
)

// RestoreRequest describes where a stored backup should be loaded.
// MaskingRuleSet optionally names one of the configured rule sets to
// apply after the data is in place.
type RestoreRequest struct {
	BackupID       int64
	TargetServerID int64
	TargetDatabase string
	MaskingRuleSet string
}

// RunRestore loads a stored backup into a target database. The artifact
// is verified against the catalog checksum before anything touches the
// target; a mismatch aborts with the database untouched. Restores do not
// move the backup row through the state machine, their trace is the
// audit record.
func (p *Pipeline) RunRestore(ctx context.Context, request RestoreRequest) error {
	contextLogger := log.FromContext(ctx).WithValues(
		"backupID", request.BackupID,
		"targetDatabase", request.TargetDatabase)
	ctx = log.IntoContext(ctx, contextLogger)

	fail := func(cause error) error {
		contextLogger.Error(cause, "Restore failed")
		p.recordRestore(string(catalog.BackupStatusFailed))
		p.notifyRestore(ctx, request.BackupID, false,
			fmt.Sprintf("Restore failed: %s", cause))
		p.sendRestoreProgress(request.BackupID, 100,
			string(catalog.BackupStatusFailed), cause.Error())
		return cause
	}

	backup, err := p.store.GetBackup(ctx, request.BackupID)
	if err != nil {
		return fail(fmt.Errorf("while loading backup %d: %w", request.BackupID, err))
	}
	if backup.Status != catalog.BackupStatusCompleted {
		return fail(fmt.Errorf("backup %d is %s, only completed backups can be restored",
			backup.ID, backup.Status))
	}
	if backup.StorageKey == nil {
		return fail(fmt.Errorf("backup %d has no storage key", backup.ID))
	}

	if err := p.verifyLineage(ctx, backup); err != nil {
		return fail(err)
	}

	// Resolve the masking plan up front so a bad rule set name fails
	// before any byte moves
	var maskingStatements []string
	if request.MaskingRuleSet != "" {
		set, err := p.options.MaskingRules.Get(request.MaskingRuleSet)
		if err != nil {
			return fail(err)
		}
		maskingStatements, err = set.SQLStatements(backup.DatabaseFamily)
		if err != nil {
			return fail(err)
		}
	}

	artifactName := fmt.Sprintf("restore_%d_%s.dat", backup.ID, uuid.NewString())
	artifact := filepath.Join(p.options.WorkDirectory, artifactName)
	defer func() {
		cleanupLocal(ctx, artifact)
	}()

	p.sendRestoreProgress(backup.ID, 10, string(catalog.BackupStatusInProgress), "downloading")
	if err := p.blobs.Download(ctx, *backup.StorageKey, artifact); err != nil {
		return fail(fmt.Errorf("while downloading backup from %q: %w", *backup.StorageKey, err))
	}

	// The stored checksum covers the bytes as uploaded, so it is checked
	// before any decoding stage
	if backup.Checksum != nil {
		match, err := encryption.VerifyChecksum(artifact, *backup.Checksum)
		if err != nil {
			return fail(fmt.Errorf("while verifying the backup checksum: %w", err))
		}
		if !match {
			return fail(errors.New("checksum mismatch: stored artifact does not match the catalog digest"))
		}
	}
	p.sendRestoreProgress(backup.ID, 30, string(catalog.BackupStatusInProgress), "verified")

	if backup.Encrypted {
		next := artifact + ".dec"
		if err := encryption.DecryptFile(artifact, next, p.options.Key); err != nil {
			cleanupLocal(ctx, next)
			return fail(fmt.Errorf("while decrypting the backup: %w", err))
		}
		if artifact, err = swapStage(artifact, next); err != nil {
			return fail(err)
		}
		p.sendRestoreProgress(backup.ID, 45, string(catalog.BackupStatusInProgress), "decrypted")
	}

	if backup.Compressed && backup.CompressionAlgo != catalog.CompressionNone {
		next := artifact + ".raw"
		if err := compression.Decompress(artifact, next, backup.CompressionAlgo); err != nil {
			cleanupLocal(ctx, next)
			return fail(fmt.Errorf("while decompressing the backup: %w", err))
		}
		if artifact, err = swapStage(artifact, next); err != nil {
			return fail(err)
		}
		p.sendRestoreProgress(backup.ID, 55, string(catalog.BackupStatusInProgress), "decompressed")
	}

	server, err := p.store.GetServer(ctx, request.TargetServerID)
	if err != nil {
		return fail(fmt.Errorf("while loading server %d: %w", request.TargetServerID, err))
	}

	exec, eng, err := p.newDialect(server, backup.DatabaseFamily, request.TargetDatabase)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := exec.Close(); err != nil {
			contextLogger.Warning("Cannot close executor",
				"server", server.Name,
				"error", err.Error())
		}
	}()

	remotePath := path.Join(remoteScratchDirectory, filepath.Base(artifact))
	if err := exec.UploadFile(ctx, artifact, remotePath); err != nil {
		return fail(fmt.Errorf("while pushing the artifact to %q: %w", server.Name, err))
	}

	contextLogger.Info("Restoring backup",
		"server", server.Name,
		"database", backup.DatabaseName)
	p.sendRestoreProgress(backup.ID, 70, string(catalog.BackupStatusInProgress), "restoring")
	result := eng.RestoreBackup(ctx, remotePath, request.TargetDatabase)
	p.cleanupRemote(ctx, exec, remotePath)
	if !result.Success {
		return fail(fmt.Errorf("restore command failed: %s", strings.TrimSpace(result.Stderr)))
	}

	if len(maskingStatements) > 0 {
		runner, ok := eng.(engine.SQLRunner)
		if !ok {
			return fail(fmt.Errorf("masking requested but %s has no SQL dialect",
				backup.DatabaseFamily))
		}
		for _, statement := range maskingStatements {
			if result := runner.ExecuteSQL(ctx, request.TargetDatabase, statement); !result.Success {
				return fail(fmt.Errorf("masking statement failed: %s",
					strings.TrimSpace(result.Stderr)))
			}
		}
		contextLogger.Info("Applied masking rule set",
			"ruleSet", request.MaskingRuleSet,
			"statements", len(maskingStatements))
		p.sendRestoreProgress(backup.ID, 85, string(catalog.BackupStatusInProgress), "masked")
	}

	detail, _ := json.Marshal(map[string]interface{}{
		"target_database": request.TargetDatabase,
		"target_server":   server.Name,
		"masked":          request.MaskingRuleSet != "",
	})
	if err := p.store.InsertAudit(ctx, &catalog.AuditRecord{
		Action:        catalog.AuditBackupRestore,
		ResourceType:  "backup",
		ResourceID:    backup.ID,
		Detail:        string(detail),
		CorrelationID: uuid.NewString(),
	}); err != nil {
		contextLogger.Error(err, "Cannot audit restore completion")
	}

	p.recordRestore(string(catalog.BackupStatusCompleted))
	p.notifyRestore(ctx, backup.ID, true,
		fmt.Sprintf("Restore completed to %s", request.TargetDatabase))
	p.sendRestoreProgress(backup.ID, 100, string(catalog.BackupStatusCompleted), "restore completed")
	contextLogger.Info("Restore completed", "server", server.Name)
	return nil
}

// verifyLineage walks the parent chain of an incremental backup: every
// ancestor must be completed and belong to the same server and database
func (p *Pipeline) verifyLineage(ctx context.Context, backup *catalog.Backup) error {
	child := backup
	for depth := 0; child.ParentBackupID != nil; depth++ {
		if depth >= maxLineageDepth {
			return fmt.Errorf("parent chain of backup %d exceeds %d levels",
				backup.ID, maxLineageDepth)
		}

		parent, err := p.store.GetBackup(ctx, *child.ParentBackupID)
		if err != nil {
			return fmt.Errorf("while loading parent backup %d: %w", *child.ParentBackupID, err)
		}
		if parent.Status != catalog.BackupStatusCompleted {
			return fmt.Errorf("parent backup %d is %s, not completed", parent.ID, parent.Status)
		}
		if parent.ServerID != backup.ServerID || parent.DatabaseName != backup.DatabaseName {
			return fmt.Errorf("parent backup %d belongs to another database", parent.ID)
		}
		child = parent
	}
	return nil
}
