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

// Package configuration contains the configuration of the control plane,
// reading it from environment variables and from a data map
package configuration

import (
	"time"

	"github.com/polybackup/polybackup/pkg/configparser"
)

// DefaultEncryptionSalt is the key derivation salt used when no
// per-deployment salt is configured. Kept for compatibility with
// archives written before the salt became configurable.
const DefaultEncryptionSalt = "dbbackup_platform"

// Data is the struct containing the configuration of the control plane.
// Usually the control plane code uses the instance in the Current variable.
type Data struct {
	// CatalogDSN is the connection string of the catalog database
	CatalogDSN string `json:"catalogDSN" env:"CATALOG_DSN"`

	// WorkDirectory is the directory where the transient pipeline
	// files are spooled
	WorkDirectory string `json:"workDirectory" env:"BACKUP_TEMP_DIR"`

	// MaxConcurrentJobs is the size of the worker pool draining the
	// backup and restore queue
	MaxConcurrentJobs int `json:"maxConcurrentJobs" env:"MAX_CONCURRENT_BACKUPS"`

	// ExecTimeoutSeconds bounds every remote command execution
	ExecTimeoutSeconds int `json:"execTimeoutSeconds" env:"COMMAND_EXEC_TIMEOUT"`

	// JobTimeLimitSeconds bounds the total wall time of a backup or
	// restore job
	JobTimeLimitSeconds int `json:"jobTimeLimitSeconds" env:"JOB_TIME_LIMIT"`

	// SchedulerIntervalSeconds is the pause between two scheduler ticks
	SchedulerIntervalSeconds int `json:"schedulerIntervalSeconds" env:"SCHEDULER_INTERVAL"`

	// RetentionIntervalSeconds is the pause between two reaper ticks
	RetentionIntervalSeconds int `json:"retentionIntervalSeconds" env:"RETENTION_INTERVAL"`

	// HealthIntervalSeconds is the pause between two prober ticks
	HealthIntervalSeconds int `json:"healthIntervalSeconds" env:"HEALTH_CHECK_INTERVAL"`

	// EncryptionPassphrase is the passphrase the backup encryption key is
	// derived from. Required when a schedule requests encryption.
	EncryptionPassphrase string `json:"-" env:"BACKUP_ENCRYPTION_KEY"`

	// EncryptionSalt is the key derivation salt. Configurable per
	// deployment; the default matches the historical fixed salt so
	// existing archives stay readable.
	EncryptionSalt string `json:"-" env:"BACKUP_ENCRYPTION_SALT"`

	// StorageBackend selects where blobs are kept, one of `s3` and `local`
	StorageBackend string `json:"storageBackend" env:"STORAGE_BACKEND"`

	// S3Bucket is the bucket used by the s3 storage backend
	S3Bucket string `json:"s3Bucket" env:"S3_BUCKET"`

	// S3Region is the region used by the s3 storage backend
	S3Region string `json:"s3Region" env:"S3_REGION"`

	// S3Endpoint overrides the AWS endpoint, for S3-compatible stores
	S3Endpoint string `json:"s3Endpoint" env:"S3_ENDPOINT"`

	// S3AccessKey is the access key id for the s3 storage backend
	S3AccessKey string `json:"-" env:"S3_ACCESS_KEY"`

	// S3SecretKey is the secret access key for the s3 storage backend
	S3SecretKey string `json:"-" env:"S3_SECRET_KEY"`

	// S3ForcePathStyle enables path-style addressing, needed by most
	// S3-compatible stores
	S3ForcePathStyle bool `json:"s3ForcePathStyle" env:"S3_FORCE_PATH_STYLE"`

	// LocalStoragePath is the directory used by the local storage backend
	LocalStoragePath string `json:"localStoragePath" env:"LOCAL_STORAGE_PATH"`

	// ListenAddress is where the webserver listens
	ListenAddress string `json:"listenAddress" env:"LISTEN_ADDRESS"`

	// SlackWebhookURL enables the Slack notification sink when set
	SlackWebhookURL string `json:"-" env:"SLACK_WEBHOOK_URL"`

	// NotifyWebhookURL enables the generic webhook sink when set
	NotifyWebhookURL string `json:"-" env:"NOTIFY_WEBHOOK_URL"`

	// SMTPHost enables the mail sink when set
	SMTPHost string `json:"smtpHost" env:"SMTP_HOST"`

	// SMTPPort is the port of the mail relay
	SMTPPort int `json:"smtpPort" env:"SMTP_PORT"`

	// SMTPUser authenticates against the mail relay
	SMTPUser string `json:"-" env:"SMTP_USER"`

	// SMTPPassword authenticates against the mail relay
	SMTPPassword string `json:"-" env:"SMTP_PASSWORD"`

	// SMTPFrom is the sender address of the mail sink
	SMTPFrom string `json:"smtpFrom" env:"SMTP_FROM"`

	// SMTPTo is the recipient list of the mail sink
	SMTPTo []string `json:"smtpTo" env:"SMTP_TO"`

	// MaskingRulesPath points to the YAML file containing the named
	// masking rule sets applied at restore time
	MaskingRulesPath string `json:"maskingRulesPath" env:"MASKING_RULES_PATH"`
}

// Current is the configuration used by the control plane
var Current = NewConfiguration()

// NewConfiguration creates a new configuration holding the defaults
func NewConfiguration() *Data {
	return &Data{
		WorkDirectory:            "/tmp/backups",
		MaxConcurrentJobs:        5,
		ExecTimeoutSeconds:       300,
		JobTimeLimitSeconds:      3600,
		SchedulerIntervalSeconds: 60,
		RetentionIntervalSeconds: 3600,
		HealthIntervalSeconds:    60,
		EncryptionSalt:           DefaultEncryptionSalt,
		StorageBackend:           "local",
		LocalStoragePath:         "/var/lib/polybackup/blobs",
		ListenAddress:            ":8000",
		SMTPPort:                 587,
	}
}

// ReadConfigMap reads the configuration from the environment and the
// given data map
func (config *Data) ReadConfigMap(data map[string]string) {
	configparser.ReadConfigMap(config, NewConfiguration(), data)
}

// ExecTimeout is the bound of every remote command execution
func (config *Data) ExecTimeout() time.Duration {
	return time.Duration(config.ExecTimeoutSeconds) * time.Second
}

// JobTimeLimit is the bound of the total wall time of a job
func (config *Data) JobTimeLimit() time.Duration {
	return time.Duration(config.JobTimeLimitSeconds) * time.Second
}

// SchedulerInterval is the pause between two scheduler ticks
func (config *Data) SchedulerInterval() time.Duration {
	return time.Duration(config.SchedulerIntervalSeconds) * time.Second
}

// RetentionInterval is the pause between two reaper ticks
func (config *Data) RetentionInterval() time.Duration {
	return time.Duration(config.RetentionIntervalSeconds) * time.Second
}

// HealthInterval is the pause between two prober ticks
func (config *Data) HealthInterval() time.Duration {
	return time.Duration(config.HealthIntervalSeconds) * time.Second
}
