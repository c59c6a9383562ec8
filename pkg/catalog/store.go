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

package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested entity does not exist
var ErrNotFound = errors.New("catalog: entity not found")

// ErrStatusConflict is returned by UpdateBackupStatus when the backup
// is no longer in the expected source status. Callers racing on the
// pending to in_progress transition use it to detect they lost.
var ErrStatusConflict = errors.New("catalog: backup status conflict")

// Store is the transactional catalog the control plane runs on
type Store interface {
	// GetServer loads one server by ID
	GetServer(ctx context.Context, id int64) (*Server, error)

	// GetServerByName loads one server by its unique name
	GetServerByName(ctx context.Context, name string) (*Server, error)

	// ListServers returns every server, active or not, newest first
	ListServers(ctx context.Context) ([]Server, error)

	// ListActiveServers returns the servers the prober and the
	// scheduler are allowed to touch
	ListActiveServers(ctx context.Context) ([]Server, error)

	// CreateServer persists a new server and returns its ID
	CreateServer(ctx context.Context, server *Server) (int64, error)

	// UpdateServerHealth records the outcome of a health probe
	UpdateServerHealth(ctx context.Context, id int64, status HealthStatus, heartbeat *time.Time) error

	// GetSchedule loads one schedule by ID
	GetSchedule(ctx context.Context, id int64) (*Schedule, error)

	// ListSchedules returns every schedule
	ListSchedules(ctx context.Context) ([]Schedule, error)

	// ListEnabledSchedules returns the schedules the ticker evaluates
	ListEnabledSchedules(ctx context.Context) ([]Schedule, error)

	// CreateSchedule persists a new schedule and returns its ID
	CreateSchedule(ctx context.Context, schedule *Schedule) (int64, error)

	// AdmitScheduledBackup inserts a pending backup and moves the
	// schedule's last_run/next_run in one transaction, so a crash
	// between the two cannot double-fire the same slot
	AdmitScheduledBackup(ctx context.Context, scheduleID int64, backup *Backup,
		lastRun time.Time, nextRun time.Time) (int64, error)

	// UpdateScheduleRuns records a schedule's run markers outside the
	// admission transaction. The ticker uses it to seed next_run the
	// first time it sees a schedule without one.
	UpdateScheduleRuns(ctx context.Context, id int64, lastRun *time.Time, nextRun time.Time) error

	// GetBackup loads one backup by ID
	GetBackup(ctx context.Context, id int64) (*Backup, error)

	// InsertBackup persists a new backup row and returns its ID
	InsertBackup(ctx context.Context, backup *Backup) (int64, error)

	// UpdateBackupStatus moves a backup from one status to another,
	// applying the update fields in the same statement. It returns
	// ErrStatusConflict when the row is not in the from status.
	UpdateBackupStatus(ctx context.Context, id int64, from BackupStatus, to BackupStatus,
		update BackupUpdate) error

	// ListBackups returns the most recent backups up to limit,
	// soft-deleted ones included
	ListBackups(ctx context.Context, limit int) ([]Backup, error)

	// ListCompletedBackups returns the completed, not soft-deleted
	// backups of one database of one server, newest first
	ListCompletedBackups(ctx context.Context, serverID int64, database string) ([]Backup, error)

	// ListBackupsByStatus returns the backups currently in a status
	ListBackupsByStatus(ctx context.Context, status BackupStatus) ([]Backup, error)

	// SoftDeleteBackup moves a completed backup to deleted, stamping
	// deleted_at. The blob is left in place.
	SoftDeleteBackup(ctx context.Context, id int64, now time.Time) error

	// GetRetentionPolicy loads one retention policy by ID
	GetRetentionPolicy(ctx context.Context, id int64) (*RetentionPolicy, error)

	// CreateRetentionPolicy persists a new policy and returns its ID
	CreateRetentionPolicy(ctx context.Context, policy *RetentionPolicy) (int64, error)

	// InsertAudit appends an audit record
	InsertAudit(ctx context.Context, record *AuditRecord) error

	// ListAudit returns the most recent audit records up to limit
	ListAudit(ctx context.Context, limit int) ([]AuditRecord, error)
}
