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

package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/polybackup/polybackup/pkg/fileutils"
)

// LocalService stores blobs as files under a root directory, mirroring the
// key namespace in the directory layout
type LocalService struct {
	root string
}

// NewLocal creates the local storage backend rooted at the given directory
func NewLocal(root string) (*LocalService, error) {
	if root == "" {
		return nil, fmt.Errorf("no local storage path configured")
	}
	if err := fileutils.EnsureDirectoryExists(root); err != nil {
		return nil, fmt.Errorf("while preparing storage directory %s: %w", root, err)
	}
	return &LocalService{root: root}, nil
}

// Upload copies a local file under the given key
func (s *LocalService) Upload(_ context.Context, localPath, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := fileutils.EnsureDirectoryExists(filepath.Dir(target)); err != nil {
		return fmt.Errorf("while preparing directory for %s: %w", key, err)
	}
	if err := fileutils.CopyFile(localPath, target); err != nil {
		return fmt.Errorf("while storing %s: %w", key, err)
	}
	return nil
}

// Download copies the blob at key into a local file
func (s *LocalService) Download(_ context.Context, key, localPath string) error {
	source, err := s.resolve(key)
	if err != nil {
		return err
	}
	if exists, err := fileutils.FileExists(source); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := fileutils.CopyFile(source, localPath); err != nil {
		return fmt.Errorf("while retrieving %s: %w", key, err)
	}
	return nil
}

// Delete removes the blob at key. Deleting a missing key is not an error.
func (s *LocalService) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	return fileutils.RemoveFile(target)
}

// Exists tells whether a blob is stored at key
func (s *LocalService) Exists(_ context.Context, key string) (bool, error) {
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	return fileutils.FileExists(target)
}

// Size reports the stored size of the blob at key
func (s *LocalService) Size(_ context.Context, key string) (int64, error) {
	target, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	size, err := fileutils.FileSize(target)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return size, err
}

// PresignDownload is not available on the local backend
func (s *LocalService) PresignDownload(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", ErrNotSupported
}

// resolve maps a key into the root directory, refusing keys that would
// escape it
func (s *LocalService) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}
