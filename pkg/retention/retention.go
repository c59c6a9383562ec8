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

// Package retention expires completed backups according to the keep rules
// of the retention policy attached to their schedule. A backup survives
// when any active rule keeps it. Expiry is a catalog soft-delete: the
// blob stays in storage and can still be recovered by hand.
package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/management/log"
)

// Reaper sweeps expired backups on a fixed interval
type Reaper struct {
	store    catalog.Store
	interval time.Duration
}

// New creates a reaper ticking at the given interval
func New(store catalog.Store, interval time.Duration) *Reaper {
	return &Reaper{
		store:    store,
		interval: interval,
	}
}

// Start runs the sweep loop until the context is cancelled
func (r *Reaper) Start(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Info("Starting the retention reaper", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			contextLogger.Info("Stopping the retention reaper")
			return nil
		case <-ticker.C:
			r.Tick(ctx, time.Now())
		}
	}
}

// Tick sweeps every enabled schedule that carries a retention policy.
// A schedule that fails to sweep is logged and skipped.
func (r *Reaper) Tick(ctx context.Context, now time.Time) {
	contextLogger := log.FromContext(ctx)

	schedules, err := r.store.ListEnabledSchedules(ctx)
	if err != nil {
		contextLogger.Error(err, "Unable to list enabled schedules, skipping sweep")
		return
	}

	// One correlation ID ties together every deletion of this sweep
	correlationID := uuid.NewString()

	for i := range schedules {
		schedule := &schedules[i]
		if schedule.RetentionPolicyID == nil {
			continue
		}
		if err := r.sweep(ctx, schedule, now, correlationID); err != nil {
			contextLogger.Error(err, "Retention sweep failed",
				"scheduleID", schedule.ID,
				"database", schedule.DatabaseName)
		}
	}
}

// sweep applies one schedule's policy to its completed backups
func (r *Reaper) sweep(
	ctx context.Context,
	schedule *catalog.Schedule,
	now time.Time,
	correlationID string,
) error {
	contextLogger := log.FromContext(ctx)

	policy, err := r.store.GetRetentionPolicy(ctx, *schedule.RetentionPolicyID)
	if err != nil {
		return fmt.Errorf("while loading retention policy %d: %w",
			*schedule.RetentionPolicyID, err)
	}

	// An all-nil policy would expire everything; refuse to act on it
	if !policy.HasActiveRule() {
		contextLogger.Warning("Retention policy has no active rule, skipping",
			"policyName", policy.Name)
		return nil
	}

	backups, err := r.store.ListCompletedBackups(ctx, schedule.ServerID, schedule.DatabaseName)
	if err != nil {
		return fmt.Errorf("while listing completed backups: %w", err)
	}

	keep := KeepSet(backups, policy, now)

	for i := range backups {
		backup := &backups[i]
		if keep[backup.ID] {
			continue
		}

		err := r.store.SoftDeleteBackup(ctx, backup.ID, now)
		if errors.Is(err, catalog.ErrStatusConflict) {
			// Someone else moved the backup since we listed it
			continue
		}
		if err != nil {
			contextLogger.Error(err, "Unable to expire backup", "backupID", backup.ID)
			continue
		}

		contextLogger.Info("Expired backup",
			"backupID", backup.ID,
			"database", backup.DatabaseName,
			"policyName", policy.Name)

		detail, _ := json.Marshal(map[string]interface{}{
			"database":  backup.DatabaseName,
			"server_id": backup.ServerID,
			"policy":    policy.Name,
		})
		if err := r.store.InsertAudit(ctx, &catalog.AuditRecord{
			Action:        catalog.AuditBackupDelete,
			ResourceType:  "backup",
			ResourceID:    backup.ID,
			Detail:        string(detail),
			CorrelationID: correlationID,
		}); err != nil {
			contextLogger.Error(err, "Unable to audit backup expiry", "backupID", backup.ID)
		}
	}
	return nil
}

// KeepSet returns the IDs of the backups the policy keeps, evaluated at
// the given time. A backup is kept when any active rule keeps it.
func KeepSet(backups []catalog.Backup, policy *catalog.RetentionPolicy, now time.Time) map[int64]bool {
	ordered := make([]catalog.Backup, len(backups))
	copy(ordered, backups)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID > ordered[j].ID
		}
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	keep := make(map[int64]bool)

	if policy.KeepLastN != nil {
		for i, backup := range ordered {
			if i >= *policy.KeepLastN {
				break
			}
			keep[backup.ID] = true
		}
	}

	if policy.KeepDays != nil {
		cutoff := now.Add(-time.Duration(*policy.KeepDays) * 24 * time.Hour)
		for _, backup := range ordered {
			if backup.CreatedAt.After(cutoff) {
				keep[backup.ID] = true
			}
		}
	}

	if policy.KeepDaily != nil {
		keepBucketed(ordered, *policy.KeepDaily, keep, func(t time.Time) string {
			return t.Format("2006-01-02")
		})
	}

	if policy.KeepWeekly != nil {
		keepBucketed(ordered, *policy.KeepWeekly, keep, func(t time.Time) string {
			year, week := t.ISOWeek()
			return fmt.Sprintf("%04d-W%02d", year, week)
		})
	}

	if policy.KeepMonthly != nil {
		keepBucketed(ordered, *policy.KeepMonthly, keep, func(t time.Time) string {
			return t.Format("2006-01")
		})
	}

	return keep
}

// keepBucketed keeps the newest backup of each of the n most recent
// buckets. Buckets are computed on the UTC creation time, so a backup
// lands in the same bucket regardless of the control plane timezone.
func keepBucketed(ordered []catalog.Backup, n int, keep map[int64]bool, bucket func(time.Time) string) {
	seen := make(map[string]bool)
	for _, backup := range ordered {
		key := bucket(backup.CreatedAt.UTC())
		if seen[key] {
			continue
		}
		if len(seen) >= n {
			continue
		}
		seen[key] = true
		keep[backup.ID] = true
	}
}
