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

// Package blob stores backup artifacts. Two backends exist: an S3 bucket
// (or any S3-compatible store) and a local directory tree. Keys follow the
// backups/YYYY/MM/DD/backup_<id>.dat template, with the date taken from
// the backup start time in UTC.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polybackup/polybackup/internal/configuration"
)

// ErrNotSupported is returned for operations a backend cannot provide
var ErrNotSupported = errors.New("operation not supported by this storage backend")

// ErrNotFound is returned when a key does not exist in the store
var ErrNotFound = errors.New("blob not found")

// Service moves backup artifacts between the local filesystem and the
// configured store
type Service interface {
	// Upload copies a local file under the given key
	Upload(ctx context.Context, localPath, key string) error

	// Download copies the blob at key into a local file
	Download(ctx context.Context, key, localPath string) error

	// Delete removes the blob at key
	Delete(ctx context.Context, key string) error

	// Exists tells whether a blob is stored at key
	Exists(ctx context.Context, key string) (bool, error)

	// Size reports the stored size of the blob at key
	Size(ctx context.Context, key string) (int64, error)

	// PresignDownload returns a time-limited URL for direct download,
	// or ErrNotSupported where the backend has no URL space
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// KeyFor builds the storage key of a backup from its identifier and start
// time. The date path is always UTC so that a backup sorts under the same
// prefix regardless of the control plane timezone.
func KeyFor(backupID int64, startedAt time.Time) string {
	t := startedAt.UTC()
	return fmt.Sprintf("backups/%04d/%02d/%02d/backup_%d.dat",
		t.Year(), int(t.Month()), t.Day(), backupID)
}

// NewFromConfiguration creates the storage backend the configuration
// selects
func NewFromConfiguration(config *configuration.Data) (Service, error) {
	switch config.StorageBackend {
	case "s3":
		return NewS3(S3Options{
			Bucket:         config.S3Bucket,
			Region:         config.S3Region,
			Endpoint:       config.S3Endpoint,
			AccessKey:      config.S3AccessKey,
			SecretKey:      config.S3SecretKey,
			ForcePathStyle: config.S3ForcePathStyle,
		})
	case "local":
		return NewLocal(config.LocalStoragePath)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", config.StorageBackend)
	}
}
