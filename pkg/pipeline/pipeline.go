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

// Package pipeline runs backup and restore jobs end to end: it claims the
// catalog row, drives the engine over the transport, moves the artifact
// through the compression and encryption stages and settles the final
// status. One invocation owns one job; concurrent claims of the same job
// are resolved by the catalog's compare-and-set, so running the same
// backup twice is harmless.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/polybackup/polybackup/pkg/blob"
	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/engine"
	"github.com/polybackup/polybackup/pkg/executor"
	"github.com/polybackup/polybackup/pkg/hub"
	"github.com/polybackup/polybackup/pkg/management/log"
	"github.com/polybackup/polybackup/pkg/masking"
)

const (
	// remoteScratchDirectory hosts in-flight artifacts on the database host
	remoteScratchDirectory = "/tmp"

	// defaultUploadAttempts bounds the blob upload retries when the
	// options do not say otherwise
	defaultUploadAttempts = 3

	uploadRetryDelay = 2 * time.Second

	// maxLineageDepth bounds the parent chain walk of incremental
	// backups, protecting against reference cycles in the catalog
	maxLineageDepth = 64
)

// Notifier delivers the outcome of finished jobs. The notification
// manager implements it.
type Notifier interface {
	NotifyBackup(ctx context.Context, backupID int64, success bool, message string)
	NotifyRestore(ctx context.Context, backupID int64, success bool, message string)
}

// Recorder observes finished jobs for monitoring. The metrics registry
// implements it.
type Recorder interface {
	RecordBackup(result string, duration time.Duration, sizeBytes int64)
	RecordRestore(result string)
}

// Options carries the pipeline tuning knobs
type Options struct {
	// WorkDirectory hosts the local scratch artifacts of running jobs
	WorkDirectory string

	// Key opens server credential envelopes and encrypts artifacts
	Key []byte

	// ExecTimeout bounds every single remote command
	ExecTimeout time.Duration

	// JobTimeLimit bounds a whole backup job. Zero means no limit.
	JobTimeLimit time.Duration

	// UploadAttempts bounds the blob upload retries
	UploadAttempts uint

	// MaskingRules are the named rule sets a restore request can apply
	MaskingRules masking.RuleSets
}

// Pipeline executes backup and restore jobs against the catalog, the
// transports and the blob store
type Pipeline struct {
	store    catalog.Store
	blobs    blob.Service
	hub      *hub.Hub
	notifier Notifier
	recorder Recorder
	options  Options

	newDialect func(server *catalog.Server, family catalog.DatabaseFamily,
		database string) (executor.Executor, engine.Engine, error)
}

// New creates a pipeline. The hub, notifier and recorder may be nil, in
// which case the corresponding signals are not emitted.
func New(
	store catalog.Store,
	blobs blob.Service,
	eventHub *hub.Hub,
	notifier Notifier,
	recorder Recorder,
	options Options,
) *Pipeline {
	if options.UploadAttempts == 0 {
		options.UploadAttempts = defaultUploadAttempts
	}
	pipeline := &Pipeline{
		store:    store,
		blobs:    blobs,
		hub:      eventHub,
		notifier: notifier,
		recorder: recorder,
		options:  options,
	}
	pipeline.newDialect = pipeline.dialect
	return pipeline
}

// dialect opens the credentials of a server and builds the transport
// executor plus the engine speaking to the given database. The caller
// owns closing the executor.
func (p *Pipeline) dialect(
	server *catalog.Server,
	family catalog.DatabaseFamily,
	database string,
) (executor.Executor, engine.Engine, error) {
	credentials, err := executor.DecryptCredentials(server.CredentialsEnc, p.options.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("while opening credentials for %q: %w", server.Name, err)
	}

	exec, err := executor.New(server, credentials)
	if err != nil {
		return nil, nil, fmt.Errorf("while creating executor for %q: %w", server.Name, err)
	}

	eng, err := engine.New(exec, engine.Config{
		Family:    family,
		Transport: server.Transport,
		Database:  database,
		Connection: engine.Connection{
			Host:     credentials.DBHost,
			Port:     credentials.DBPort,
			Username: credentials.DBUsername,
			Password: credentials.DBPassword,
			DataDir:  credentials.DataDir,
		},
		ExecTimeout: p.options.ExecTimeout,
	})
	if err != nil {
		_ = exec.Close()
		return nil, nil, fmt.Errorf("while creating %s engine: %w", family, err)
	}

	return exec, eng, nil
}

// swapStage promotes the successor to current artifact and unlinks the
// predecessor. The successor is flushed to disk first, so a crash
// between the two operations leaves at least one complete artifact.
func swapStage(predecessor, successor string) (string, error) {
	file, err := os.Open(successor) // #nosec G304 -- paths are built by the pipeline itself
	if err != nil {
		return "", fmt.Errorf("while opening %s: %w", successor, err)
	}
	syncErr := file.Sync()
	_ = file.Close()
	if syncErr != nil {
		return "", fmt.Errorf("while flushing %s: %w", successor, syncErr)
	}

	if err := os.Remove(predecessor); err != nil {
		return "", fmt.Errorf("while removing %s: %w", predecessor, err)
	}
	return successor, nil
}

// cleanupRemote drops a scratch file from the database host. Failures
// are logged, never propagated.
func (p *Pipeline) cleanupRemote(ctx context.Context, exec executor.Executor, remotePath string) {
	result := exec.Execute(ctx, shellquote.Join("rm", "-f", remotePath), p.options.ExecTimeout)
	if !result.Success {
		log.FromContext(ctx).Warning("Cannot remove remote scratch file",
			"path", remotePath,
			"stderr", result.Stderr)
	}
}

// cleanupLocal drops a scratch file from the work directory, tolerating
// files already gone
func cleanupLocal(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.FromContext(ctx).Warning("Cannot remove scratch file",
			"path", path,
			"error", err.Error())
	}
}

func (p *Pipeline) notifyBackup(ctx context.Context, backupID int64, success bool, message string) {
	if p.notifier != nil {
		p.notifier.NotifyBackup(ctx, backupID, success, message)
	}
}

func (p *Pipeline) notifyRestore(ctx context.Context, backupID int64, success bool, message string) {
	if p.notifier != nil {
		p.notifier.NotifyRestore(ctx, backupID, success, message)
	}
}

func (p *Pipeline) recordBackup(result string, duration time.Duration, sizeBytes int64) {
	if p.recorder != nil {
		p.recorder.RecordBackup(result, duration, sizeBytes)
	}
}

func (p *Pipeline) recordRestore(result string) {
	if p.recorder != nil {
		p.recorder.RecordRestore(result)
	}
}

func (p *Pipeline) sendBackupProgress(backupID int64, progress int, status, message string) {
	if p.hub != nil {
		p.hub.SendBackupProgress(backupID, progress, status, message)
	}
}

func (p *Pipeline) sendRestoreProgress(backupID int64, progress int, status, message string) {
	if p.hub != nil {
		p.hub.SendRestoreProgress(backupID, progress, status, message)
	}
}
