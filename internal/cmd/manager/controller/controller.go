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

package controller

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/polybackup/polybackup/internal/configuration"
	"github.com/polybackup/polybackup/pkg/blob"
	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/encryption"
	"github.com/polybackup/polybackup/pkg/fileutils"
	"github.com/polybackup/polybackup/pkg/health"
	"github.com/polybackup/polybackup/pkg/hub"
	"github.com/polybackup/polybackup/pkg/management/log"
	"github.com/polybackup/polybackup/pkg/masking"
	"github.com/polybackup/polybackup/pkg/metrics"
	"github.com/polybackup/polybackup/pkg/notification"
	"github.com/polybackup/polybackup/pkg/pipeline"
	"github.com/polybackup/polybackup/pkg/retention"
	"github.com/polybackup/polybackup/pkg/scheduler"
	"github.com/polybackup/polybackup/pkg/versions"
	"github.com/polybackup/polybackup/pkg/webserver"
	"github.com/polybackup/polybackup/pkg/workerpool"
)

var setupLog = log.WithName("setup")

// RunController wires the control plane together and runs it until a
// termination signal arrives or one of its components fails
func RunController(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := configuration.Current
	config.ReadConfigMap(nil)

	if config.CatalogDSN == "" {
		return errors.New("no catalog DSN configured, set CATALOG_DSN")
	}

	// The same derived key opens the server credential envelopes and
	// encrypts backup artifacts, so the daemon cannot run without it
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
			setupLog.Error(err, "Cannot close the catalog cleanly")
		}
	}()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("while migrating the catalog schema: %w", err)
	}

	blobs, err := blob.NewFromConfiguration(config)
	if err != nil {
		return fmt.Errorf("while building the blob service: %w", err)
	}

	var rules masking.RuleSets
	if config.MaskingRulesPath != "" {
		if rules, err = masking.LoadRuleSets(config.MaskingRulesPath); err != nil {
			return fmt.Errorf("while loading the masking rule sets: %w", err)
		}
		setupLog.Info("Loaded masking rule sets",
			"path", config.MaskingRulesPath,
			"count", len(rules))
	}

	recorder, err := metrics.New()
	if err != nil {
		return fmt.Errorf("while building the metrics registry: %w", err)
	}

	eventHub := hub.New()
	notifier := notification.NewFromConfiguration(config)
	pool := workerpool.New(config.MaxConcurrentJobs)

	if err := recorder.ObservePool(pool); err != nil {
		return err
	}
	if err := recorder.ObserveHub(eventHub); err != nil {
		return err
	}

	pipe := pipeline.New(store, blobs, eventHub, notifier, recorder, pipeline.Options{
		WorkDirectory: config.WorkDirectory,
		Key:           key,
		ExecTimeout:   config.ExecTimeout(),
		JobTimeLimit:  config.JobTimeLimit(),
		MaskingRules:  rules,
	})

	sched := scheduler.New(store, pool, pipe.RunBackup, config.SchedulerInterval())
	reaper := retention.New(store, config.RetentionInterval())
	prober := health.New(store, eventHub, notifier, key, config.HealthInterval()).
		WithRecorder(recorder)
	webSrv := webserver.New(config.ListenAddress, eventHub, recorder.Registry())

	pool.Start(ctx)
	if err := sched.Recover(ctx); err != nil {
		setupLog.Error(err, "Cannot re-dispatch pending backups")
	}

	setupLog.Info("Starting the backup control plane",
		"version", versions.Info.Version,
		"build", versions.Info,
		"listenAddress", config.ListenAddress,
		"storageBackend", config.StorageBackend,
		"workers", pool.Size())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return sched.Start(groupCtx) })
	group.Go(func() error { return reaper.Start(groupCtx) })
	group.Go(func() error { return prober.Start(groupCtx) })
	group.Go(func() error { return webSrv.Start(groupCtx) })

	err = group.Wait()

	// The loops are stopped: drain the queued jobs, then end every
	// live event stream
	pool.Stop()
	eventHub.Close()

	if err != nil {
		return fmt.Errorf("control plane terminated: %w", err)
	}
	setupLog.Info("Backup control plane stopped")
	return nil
}
