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

// Package catalog contains the durable entities of the control plane and
// the transactional store they live in
package catalog

import (
	"time"
)

// Transport is the kind of channel used to reach a server
type Transport string

// The transports a server can be reached over
const (
	TransportShell     Transport = "shell"
	TransportContainer Transport = "container"
	TransportPod       Transport = "pod"
)

// DatabaseFamily is the family of database engines running on a server
type DatabaseFamily string

// The supported database families
const (
	FamilyPostgreSQL DatabaseFamily = "postgresql"
	FamilyMySQL      DatabaseFamily = "mysql"
	FamilyMongoDB    DatabaseFamily = "mongodb"
	FamilyRedis      DatabaseFamily = "redis"
)

// BackupKind is the flavor of a backup
type BackupKind string

// The backup kinds
const (
	BackupKindFull         BackupKind = "full"
	BackupKindIncremental  BackupKind = "incremental"
	BackupKindDifferential BackupKind = "differential"
)

// BackupStatus is the lifecycle status of a backup job.
//
// The allowed transitions are pending to in_progress, in_progress to
// completed or failed, and completed to deleted (soft-delete). Terminal
// states are otherwise immutable.
type BackupStatus string

// The backup statuses
const (
	BackupStatusPending    BackupStatus = "pending"
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
	BackupStatusDeleted    BackupStatus = "deleted"
)

// HealthStatus is the reachability state of a server as seen by the prober
type HealthStatus string

// The health statuses. Unknown means the probe itself errored, as
// distinct from a probe that ran and failed.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// CompressionAlgo is the codec applied by the pipeline
type CompressionAlgo string

// The supported compression codecs
const (
	CompressionNone CompressionAlgo = "none"
	CompressionGzip CompressionAlgo = "gzip"
	CompressionLZ4  CompressionAlgo = "lz4"
	CompressionZstd CompressionAlgo = "zstd"
)

// EncryptionAlgoAESGCM is the only encryption algorithm the pipeline writes
const EncryptionAlgoAESGCM = "aes-256-gcm"

// Server is a database host reachable over one of the transports.
// Health fields are owned by the prober; everything else by the admin.
// A server is never destroyed while jobs reference it, only deactivated.
type Server struct {
	ID             int64          `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Transport      Transport      `db:"transport" json:"transport"`
	Host           string         `db:"host" json:"host"`
	Port           *int           `db:"port" json:"port,omitempty"`
	DatabaseFamily DatabaseFamily `db:"database_family" json:"databaseFamily"`
	CredentialsEnc []byte         `db:"credentials_enc" json:"-"`
	Environment    string         `db:"environment" json:"environment"`
	HealthStatus   HealthStatus   `db:"health_status" json:"healthStatus"`
	LastHeartbeat  *time.Time     `db:"last_heartbeat" json:"lastHeartbeat,omitempty"`
	Active         bool           `db:"active" json:"active"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}

// Backup is one backup job and, once completed, the record of the blob
// it produced. Completed backups are immutable except for soft-delete.
type Backup struct {
	ID              int64           `db:"id" json:"id"`
	ServerID        int64           `db:"server_id" json:"serverId"`
	DatabaseName    string          `db:"database_name" json:"databaseName"`
	DatabaseFamily  DatabaseFamily  `db:"database_family" json:"databaseFamily"`
	Kind            BackupKind      `db:"kind" json:"kind"`
	Status          BackupStatus    `db:"status" json:"status"`
	StorageKey      *string         `db:"storage_key" json:"storageKey,omitempty"`
	SizeBytes       *int64          `db:"size_bytes" json:"sizeBytes,omitempty"`
	Checksum        *string         `db:"checksum" json:"checksum,omitempty"`
	Encrypted       bool            `db:"encrypted" json:"encrypted"`
	EncryptionAlgo  *string         `db:"encryption_algo" json:"encryptionAlgo,omitempty"`
	Compressed      bool            `db:"compressed" json:"compressed"`
	CompressionAlgo CompressionAlgo `db:"compression_algo" json:"compressionAlgo"`
	StartedAt       *time.Time      `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	DurationSeconds *float64        `db:"duration_seconds" json:"durationSeconds,omitempty"`
	ErrorMessage    *string         `db:"error_message" json:"errorMessage,omitempty"`
	RetryCount      int             `db:"retry_count" json:"retryCount"`
	ParentBackupID  *int64          `db:"parent_backup_id" json:"parentBackupId,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	DeletedAt       *time.Time      `db:"deleted_at" json:"deletedAt,omitempty"`
}

// IsTerminal tells whether the backup reached a terminal status
func (b *Backup) IsTerminal() bool {
	switch b.Status {
	case BackupStatusCompleted, BackupStatusFailed, BackupStatusDeleted:
		return true
	default:
		return false
	}
}

// Schedule fires backups of one database of one server under a cron
// expression interpreted in its timezone
type Schedule struct {
	ID                int64           `db:"id" json:"id"`
	ServerID          int64           `db:"server_id" json:"serverId"`
	DatabaseName      string          `db:"database_name" json:"databaseName"`
	CronExpression    string          `db:"cron_expression" json:"cronExpression"`
	Timezone          string          `db:"timezone" json:"timezone"`
	Kind              BackupKind      `db:"kind" json:"kind"`
	RetentionPolicyID *int64          `db:"retention_policy_id" json:"retentionPolicyId,omitempty"`
	Compression       CompressionAlgo `db:"compression" json:"compression"`
	Encrypted         bool            `db:"encrypted" json:"encrypted"`
	Enabled           bool            `db:"enabled" json:"enabled"`
	LastRun           *time.Time      `db:"last_run" json:"lastRun,omitempty"`
	NextRun           *time.Time      `db:"next_run" json:"nextRun,omitempty"`
	NotifyOnSuccess   bool            `db:"notify_on_success" json:"notifyOnSuccess"`
	NotifyOnFailure   bool            `db:"notify_on_failure" json:"notifyOnFailure"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// RetentionPolicy is a nonempty subset of keep rules; a backup is kept
// when any active rule keeps it
type RetentionPolicy struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	KeepLastN   *int      `db:"keep_last_n" json:"keepLastN,omitempty"`
	KeepDays    *int      `db:"keep_days" json:"keepDays,omitempty"`
	KeepDaily   *int      `db:"keep_daily" json:"keepDaily,omitempty"`
	KeepWeekly  *int      `db:"keep_weekly" json:"keepWeekly,omitempty"`
	KeepMonthly *int      `db:"keep_monthly" json:"keepMonthly,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// HasActiveRule tells whether at least one keep rule is configured
func (p *RetentionPolicy) HasActiveRule() bool {
	return p.KeepLastN != nil || p.KeepDays != nil || p.KeepDaily != nil ||
		p.KeepWeekly != nil || p.KeepMonthly != nil
}

// AuditAction is the verb recorded in an audit record
type AuditAction string

// The audited actions
const (
	AuditBackupCreate  AuditAction = "backup_create"
	AuditBackupRestore AuditAction = "backup_restore"
	AuditBackupDelete  AuditAction = "backup_delete"
	AuditServerHealth  AuditAction = "server_health"
)

// AuditRecord is an append-only trace of a control plane action
type AuditRecord struct {
	ID            int64       `db:"id" json:"id"`
	Action        AuditAction `db:"action" json:"action"`
	ResourceType  string      `db:"resource_type" json:"resourceType"`
	ResourceID    int64       `db:"resource_id" json:"resourceId"`
	Detail        string      `db:"detail" json:"detail"`
	CorrelationID string      `db:"correlation_id" json:"correlationId"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
}

// BackupUpdate carries the fields settled on a backup status transition.
// Nil fields are left untouched.
type BackupUpdate struct {
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *float64
	SizeBytes       *int64
	Checksum        *string
	StorageKey      *string
	ErrorMessage    *string
	Encrypted       *bool
	EncryptionAlgo  *string
	Compressed      *bool
	CompressionAlgo *CompressionAlgo
	DeletedAt       *time.Time
}
