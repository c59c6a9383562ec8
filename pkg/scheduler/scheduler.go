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

// Package scheduler fires backup jobs from cron schedules. A ticker
// snapshots the enabled schedules and, for every schedule whose next_run
// is due, admits a pending backup and hands it to the worker pool. The
// admission is transactional: the backup row and the schedule run markers
// move together, so a crash between the two cannot double-fire a slot.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/management/log"
	"github.com/polybackup/polybackup/pkg/workerpool"
)

// BackupRunner executes one admitted backup end to end. The pipeline
// provides the production implementation.
type BackupRunner func(ctx context.Context, backupID int64) error

// Scheduler evaluates enabled schedules on a fixed interval
type Scheduler struct {
	store     catalog.Store
	pool      *workerpool.Pool
	runBackup BackupRunner
	interval  time.Duration
}

// New creates a scheduler ticking at the given interval
func New(store catalog.Store, pool *workerpool.Pool, run BackupRunner, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:     store,
		pool:      pool,
		runBackup: run,
		interval:  interval,
	}
}

// Start runs the tick loop until the context is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Info("Starting the backup scheduler", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			contextLogger.Info("Stopping the backup scheduler")
			return nil
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick evaluates every enabled schedule once against the given time.
// A schedule that fails to evaluate is logged and skipped, the rest of
// the snapshot still runs.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	contextLogger := log.FromContext(ctx)

	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		contextLogger.Error(err, "Unable to list enabled schedules, skipping tick")
		return
	}

	for i := range schedules {
		schedule := &schedules[i]
		if err := s.evaluate(ctx, schedule, now); err != nil {
			contextLogger.Error(err, "Schedule evaluation failed",
				"scheduleID", schedule.ID,
				"database", schedule.DatabaseName)
		}
	}
}

// evaluate decides whether one schedule is due and fires it when it is
func (s *Scheduler) evaluate(ctx context.Context, schedule *catalog.Schedule, now time.Time) error {
	if schedule.NextRun == nil {
		// First time we see this schedule: seed next_run and wait for
		// the first real firing
		next, err := NextFiring(schedule.CronExpression, schedule.Timezone, now)
		if err != nil {
			return err
		}
		return s.store.UpdateScheduleRuns(ctx, schedule.ID, nil, next)
	}

	if schedule.NextRun.After(now) {
		return nil
	}

	return s.fire(ctx, schedule, now)
}

// fire admits a pending backup for a due schedule and dispatches it.
// However long the schedule has been overdue, a single backup is admitted
// and next_run lands strictly after now.
func (s *Scheduler) fire(ctx context.Context, schedule *catalog.Schedule, now time.Time) error {
	contextLogger := log.FromContext(ctx)

	server, err := s.store.GetServer(ctx, schedule.ServerID)
	if err != nil {
		return fmt.Errorf("while loading server %d: %w", schedule.ServerID, err)
	}

	next, err := NextFiring(schedule.CronExpression, schedule.Timezone, now)
	if err != nil {
		return err
	}

	if !server.Active {
		// An inactive server must not pin the schedule in the due set;
		// push next_run forward without admitting anything
		contextLogger.Info("Skipping schedule on inactive server",
			"scheduleID", schedule.ID,
			"serverName", server.Name)
		return s.store.UpdateScheduleRuns(ctx, schedule.ID, nil, next)
	}

	backup := &catalog.Backup{
		ServerID:        schedule.ServerID,
		DatabaseName:    schedule.DatabaseName,
		DatabaseFamily:  server.DatabaseFamily,
		Kind:            schedule.Kind,
		Status:          catalog.BackupStatusPending,
		Encrypted:       schedule.Encrypted,
		Compressed:      schedule.Compression != catalog.CompressionNone,
		CompressionAlgo: schedule.Compression,
	}

	backupID, err := s.store.AdmitScheduledBackup(ctx, schedule.ID, backup, now, next)
	if err != nil {
		return fmt.Errorf("while admitting backup for schedule %d: %w", schedule.ID, err)
	}

	contextLogger.Info("Admitted scheduled backup",
		"scheduleID", schedule.ID,
		"backupID", backupID,
		"serverName", server.Name,
		"database", schedule.DatabaseName,
		"nextRun", next)

	if err := s.dispatch(backupID); err != nil {
		// The backup row stays pending; Recover picks it up on the
		// next daemon start
		return fmt.Errorf("while dispatching backup %d: %w", backupID, err)
	}
	return nil
}

// Recover re-dispatches the backups a previous run left pending. Running
// a pending backup twice is harmless: the status compare-and-set lets a
// single runner through.
func (s *Scheduler) Recover(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)

	pending, err := s.store.ListBackupsByStatus(ctx, catalog.BackupStatusPending)
	if err != nil {
		return fmt.Errorf("while listing pending backups: %w", err)
	}

	for _, backup := range pending {
		if err := s.dispatch(backup.ID); err != nil {
			contextLogger.Error(err, "Unable to re-dispatch pending backup",
				"backupID", backup.ID)
			continue
		}
		contextLogger.Info("Re-dispatched pending backup", "backupID", backup.ID)
	}
	return nil
}

func (s *Scheduler) dispatch(backupID int64) error {
	return s.pool.Submit(workerpool.Job{
		ID: fmt.Sprintf("backup-%d", backupID),
		Run: func(ctx context.Context) error {
			return s.runBackup(ctx, backupID)
		},
	})
}
