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
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	// The catalog speaks to PostgreSQL through lib/pq
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore is the catalog implementation over a PostgreSQL database
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres connects to the catalog database and verifies the connection
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("while connecting to the catalog: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate brings the catalog schema up to date
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("while selecting the migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("while migrating the catalog schema: %w", err)
	}
	return nil
}

// Close releases the database connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetServer loads one server by ID
func (s *PostgresStore) GetServer(ctx context.Context, id int64) (*Server, error) {
	var server Server
	err := s.db.GetContext(ctx, &server, `SELECT * FROM servers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: server %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("while loading server %d: %w", id, err)
	}
	return &server, nil
}

// GetServerByName loads one server by its unique name
func (s *PostgresStore) GetServerByName(ctx context.Context, name string) (*Server, error) {
	var server Server
	err := s.db.GetContext(ctx, &server, `SELECT * FROM servers WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: server %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("while loading server %q: %w", name, err)
	}
	return &server, nil
}

// ListServers returns every server, active or not, newest first
func (s *PostgresStore) ListServers(ctx context.Context) ([]Server, error) {
	var servers []Server
	err := s.db.SelectContext(ctx, &servers, `SELECT * FROM servers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("while listing servers: %w", err)
	}
	return servers, nil
}

// ListActiveServers returns the servers the prober and the scheduler touch
func (s *PostgresStore) ListActiveServers(ctx context.Context) ([]Server, error) {
	var servers []Server
	err := s.db.SelectContext(ctx, &servers,
		`SELECT * FROM servers WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("while listing active servers: %w", err)
	}
	return servers, nil
}

// CreateServer persists a new server and returns its ID
func (s *PostgresStore) CreateServer(ctx context.Context, server *Server) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO servers
		    (name, transport, host, port, database_family, credentials_enc,
		     environment, health_status, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		server.Name, server.Transport, server.Host, server.Port,
		server.DatabaseFamily, server.CredentialsEnc, server.Environment,
		HealthUnknown, server.Active,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("while creating server %q: %w", server.Name, err)
	}
	return id, nil
}

// UpdateServerHealth records the outcome of a health probe
func (s *PostgresStore) UpdateServerHealth(
	ctx context.Context,
	id int64,
	status HealthStatus,
	heartbeat *time.Time,
) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE servers
		 SET health_status = $2,
		     last_heartbeat = COALESCE($3, last_heartbeat),
		     updated_at = now()
		 WHERE id = $1`,
		id, status, heartbeat)
	if err != nil {
		return fmt.Errorf("while updating health of server %d: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: server %d", ErrNotFound, id)
	}
	return nil
}

// GetSchedule loads one schedule by ID
func (s *PostgresStore) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	var schedule Schedule
	err := s.db.GetContext(ctx, &schedule, `SELECT * FROM schedules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: schedule %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("while loading schedule %d: %w", id, err)
	}
	return &schedule, nil
}

// ListSchedules returns every schedule
func (s *PostgresStore) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var schedules []Schedule
	err := s.db.SelectContext(ctx, &schedules, `SELECT * FROM schedules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("while listing schedules: %w", err)
	}
	return schedules, nil
}

// ListEnabledSchedules returns the schedules the ticker evaluates
func (s *PostgresStore) ListEnabledSchedules(ctx context.Context) ([]Schedule, error) {
	var schedules []Schedule
	err := s.db.SelectContext(ctx, &schedules,
		`SELECT * FROM schedules WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("while listing enabled schedules: %w", err)
	}
	return schedules, nil
}

// CreateSchedule persists a new schedule and returns its ID
func (s *PostgresStore) CreateSchedule(ctx context.Context, schedule *Schedule) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO schedules
		    (server_id, database_name, cron_expression, timezone, kind,
		     retention_policy_id, compression, encrypted, enabled, next_run,
		     notify_on_success, notify_on_failure)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		schedule.ServerID, schedule.DatabaseName, schedule.CronExpression,
		schedule.Timezone, schedule.Kind, schedule.RetentionPolicyID,
		schedule.Compression, schedule.Encrypted, schedule.Enabled,
		schedule.NextRun, schedule.NotifyOnSuccess, schedule.NotifyOnFailure,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("while creating schedule: %w", err)
	}
	return id, nil
}

// AdmitScheduledBackup inserts a pending backup and moves the schedule
// run markers in one transaction
func (s *PostgresStore) AdmitScheduledBackup(
	ctx context.Context,
	scheduleID int64,
	backup *Backup,
	lastRun time.Time,
	nextRun time.Time,
) (backupID int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("while opening the admission transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	backupID, err = insertBackupTx(ctx, tx, backup)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE schedules
		 SET last_run = $2, next_run = $3, updated_at = now()
		 WHERE id = $1`,
		scheduleID, lastRun, nextRun)
	if err != nil {
		return 0, fmt.Errorf("while advancing schedule %d: %w", scheduleID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return 0, fmt.Errorf("%w: schedule %d", ErrNotFound, scheduleID)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("while committing the admission transaction: %w", err)
	}
	return backupID, nil
}

// UpdateScheduleRuns records a schedule's run markers outside the
// admission transaction
func (s *PostgresStore) UpdateScheduleRuns(
	ctx context.Context,
	id int64,
	lastRun *time.Time,
	nextRun time.Time,
) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE schedules
		 SET last_run = COALESCE($2, last_run), next_run = $3, updated_at = now()
		 WHERE id = $1`,
		id, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("while updating run markers of schedule %d: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: schedule %d", ErrNotFound, id)
	}
	return nil
}

// GetBackup loads one backup by ID
func (s *PostgresStore) GetBackup(ctx context.Context, id int64) (*Backup, error) {
	var backup Backup
	err := s.db.GetContext(ctx, &backup, `SELECT * FROM backups WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: backup %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("while loading backup %d: %w", id, err)
	}
	return &backup, nil
}

// InsertBackup persists a new backup row and returns its ID
func (s *PostgresStore) InsertBackup(ctx context.Context, backup *Backup) (int64, error) {
	return insertBackupTx(ctx, s.db, backup)
}

// queryer covers both the pool and a transaction
type queryer interface {
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

func insertBackupTx(ctx context.Context, q queryer, backup *Backup) (int64, error) {
	status := backup.Status
	if status == "" {
		status = BackupStatusPending
	}
	compression := backup.CompressionAlgo
	if compression == "" {
		compression = CompressionNone
	}

	var id int64
	err := q.QueryRowxContext(ctx,
		`INSERT INTO backups
		    (server_id, database_name, database_family, kind, status,
		     encrypted, compressed, compression_algo, retry_count,
		     parent_backup_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		backup.ServerID, backup.DatabaseName, backup.DatabaseFamily,
		backup.Kind, status, backup.Encrypted, backup.Compressed,
		compression, backup.RetryCount, backup.ParentBackupID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("while inserting backup: %w", err)
	}
	return id, nil
}

// UpdateBackupStatus moves a backup between statuses with a compare-and-set
// on the source status. The update fields land in the same statement, so a
// winner commits its transition and its fields atomically.
func (s *PostgresStore) UpdateBackupStatus(
	ctx context.Context,
	id int64,
	from BackupStatus,
	to BackupStatus,
	update BackupUpdate,
) error {
	assignments := []string{"status = :to"}
	params := map[string]interface{}{
		"id":   id,
		"from": from,
		"to":   to,
	}

	set := func(column string, value interface{}) {
		assignments = append(assignments, fmt.Sprintf("%s = :%s", column, column))
		params[column] = value
	}

	if update.StartedAt != nil {
		set("started_at", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		set("completed_at", *update.CompletedAt)
	}
	if update.DurationSeconds != nil {
		set("duration_seconds", *update.DurationSeconds)
	}
	if update.SizeBytes != nil {
		set("size_bytes", *update.SizeBytes)
	}
	if update.Checksum != nil {
		set("checksum", *update.Checksum)
	}
	if update.StorageKey != nil {
		set("storage_key", *update.StorageKey)
	}
	if update.ErrorMessage != nil {
		set("error_message", *update.ErrorMessage)
	}
	if update.Encrypted != nil {
		set("encrypted", *update.Encrypted)
	}
	if update.EncryptionAlgo != nil {
		set("encryption_algo", *update.EncryptionAlgo)
	}
	if update.Compressed != nil {
		set("compressed", *update.Compressed)
	}
	if update.CompressionAlgo != nil {
		set("compression_algo", *update.CompressionAlgo)
	}
	if update.DeletedAt != nil {
		set("deleted_at", *update.DeletedAt)
	}

	query := fmt.Sprintf(
		`UPDATE backups SET %s WHERE id = :id AND status = :from`,
		strings.Join(assignments, ", "))

	result, err := s.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return fmt.Errorf("while updating backup %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("while updating backup %d: %w", id, err)
	}
	if rows > 0 {
		return nil
	}

	// No row moved: either the backup is gone or someone else won the
	// transition. Tell the two apart for the caller.
	var status BackupStatus
	err = s.db.GetContext(ctx, &status, `SELECT status FROM backups WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: backup %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("while inspecting backup %d: %w", id, err)
	}
	return fmt.Errorf("%w: backup %d is %s, expected %s", ErrStatusConflict, id, status, from)
}

// ListBackups returns the most recent backups up to limit
func (s *PostgresStore) ListBackups(ctx context.Context, limit int) ([]Backup, error) {
	var backups []Backup
	err := s.db.SelectContext(ctx, &backups,
		`SELECT * FROM backups ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("while listing backups: %w", err)
	}
	return backups, nil
}

// ListCompletedBackups returns the completed, not soft-deleted backups of
// one database of one server, newest first
func (s *PostgresStore) ListCompletedBackups(
	ctx context.Context,
	serverID int64,
	database string,
) ([]Backup, error) {
	var backups []Backup
	err := s.db.SelectContext(ctx, &backups,
		`SELECT * FROM backups
		 WHERE server_id = $1
		   AND database_name = $2
		   AND status = $3
		   AND deleted_at IS NULL
		 ORDER BY created_at DESC`,
		serverID, database, BackupStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("while listing completed backups: %w", err)
	}
	return backups, nil
}

// ListBackupsByStatus returns the backups currently in a status
func (s *PostgresStore) ListBackupsByStatus(ctx context.Context, status BackupStatus) ([]Backup, error) {
	var backups []Backup
	err := s.db.SelectContext(ctx, &backups,
		`SELECT * FROM backups WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("while listing %s backups: %w", status, err)
	}
	return backups, nil
}

// SoftDeleteBackup moves a completed backup to deleted, stamping deleted_at
func (s *PostgresStore) SoftDeleteBackup(ctx context.Context, id int64, now time.Time) error {
	return s.UpdateBackupStatus(ctx, id, BackupStatusCompleted, BackupStatusDeleted,
		BackupUpdate{DeletedAt: &now})
}

// GetRetentionPolicy loads one retention policy by ID
func (s *PostgresStore) GetRetentionPolicy(ctx context.Context, id int64) (*RetentionPolicy, error) {
	var policy RetentionPolicy
	err := s.db.GetContext(ctx, &policy, `SELECT * FROM retention_policies WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: retention policy %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("while loading retention policy %d: %w", id, err)
	}
	return &policy, nil
}

// CreateRetentionPolicy persists a new policy and returns its ID
func (s *PostgresStore) CreateRetentionPolicy(ctx context.Context, policy *RetentionPolicy) (int64, error) {
	if !policy.HasActiveRule() {
		return 0, fmt.Errorf("retention policy %q has no active rule", policy.Name)
	}

	var id int64
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO retention_policies
		    (name, keep_last_n, keep_days, keep_daily, keep_weekly, keep_monthly)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		policy.Name, policy.KeepLastN, policy.KeepDays, policy.KeepDaily,
		policy.KeepWeekly, policy.KeepMonthly,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("while creating retention policy %q: %w", policy.Name, err)
	}
	return id, nil
}

// InsertAudit appends an audit record
func (s *PostgresStore) InsertAudit(ctx context.Context, record *AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records
		    (action, resource_type, resource_id, detail, correlation_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.Action, record.ResourceType, record.ResourceID,
		record.Detail, record.CorrelationID)
	if err != nil {
		return fmt.Errorf("while appending audit record: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit records up to limit
func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	var records []AuditRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM audit_records ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("while listing audit records: %w", err)
	}
	return records, nil
}
