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

package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/executor"

	. "github.com/onsi/gomega"
)

// fakeConduit is an in-memory transport: the database host is a map from
// remote path to content. Execute understands just enough rm to let the
// pipeline clean up after itself.
type fakeConduit struct {
	files         map[string][]byte
	commands      []string
	blockDownload bool
	closed        bool
}

func newFakeConduit() *fakeConduit {
	return &fakeConduit{files: map[string][]byte{}}
}

func (f *fakeConduit) Execute(_ context.Context, command string, _ time.Duration) executor.ExecutionResult {
	f.commands = append(f.commands, command)
	if tokens := strings.Fields(command); len(tokens) == 3 && tokens[0] == "rm" && tokens[1] == "-f" {
		delete(f.files, tokens[2])
	}
	return executor.ExecutionResult{Success: true}
}

func (f *fakeConduit) UploadFile(_ context.Context, localPath, remotePath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.files[remotePath] = content
	return nil
}

func (f *fakeConduit) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if f.blockDownload {
		<-ctx.Done()
		return ctx.Err()
	}
	content, ok := f.files[remotePath]
	if !ok {
		return fmt.Errorf("no such remote file: %s", remotePath)
	}
	return os.WriteFile(localPath, content, 0o600)
}

func (f *fakeConduit) Close() error {
	f.closed = true
	return nil
}

// fakeEngine materializes dumps on the conduit's host and records what it
// was asked to restore
type fakeEngine struct {
	conduit    *fakeConduit
	dump       []byte
	createErr  string
	restoreErr string
	creates    int
	restores   []string
	restored   [][]byte
}

func (e *fakeEngine) CreateBackup(
	_ context.Context,
	outputPath string,
	_ catalog.BackupKind,
) executor.ExecutionResult {
	e.creates++
	if e.createErr != "" {
		return executor.ExecutionResult{Success: false, Stderr: e.createErr, ExitCode: 1}
	}
	e.conduit.files[outputPath] = e.dump
	return executor.ExecutionResult{Success: true}
}

func (e *fakeEngine) RestoreBackup(
	_ context.Context,
	sourcePath, targetDatabase string,
) executor.ExecutionResult {
	if e.restoreErr != "" {
		return executor.ExecutionResult{Success: false, Stderr: e.restoreErr, ExitCode: 1}
	}
	e.restores = append(e.restores, sourcePath+" -> "+targetDatabase)
	e.restored = append(e.restored, e.conduit.files[sourcePath])
	return executor.ExecutionResult{Success: true}
}

func (e *fakeEngine) ListDatabases(_ context.Context) ([]string, error) {
	return nil, nil
}

// sqlEngine additionally speaks SQL, like the relational dialects do
type sqlEngine struct {
	fakeEngine
	statements []string
}

func (e *sqlEngine) ExecuteSQL(_ context.Context, database, statement string) executor.ExecutionResult {
	e.statements = append(e.statements, database+": "+statement)
	return executor.ExecutionResult{Success: true}
}

// jobNotifier records delivered outcomes as "success: message" strings
type jobNotifier struct {
	backups  []string
	restores []string
}

func (n *jobNotifier) NotifyBackup(_ context.Context, _ int64, success bool, message string) {
	n.backups = append(n.backups, fmt.Sprintf("%t: %s", success, message))
}

func (n *jobNotifier) NotifyRestore(_ context.Context, _ int64, success bool, message string) {
	n.restores = append(n.restores, fmt.Sprintf("%t: %s", success, message))
}

// jobRecorder records monitoring observations
type jobRecorder struct {
	backupResults  []string
	restoreResults []string
	sizes          []int64
}

func (r *jobRecorder) RecordBackup(result string, _ time.Duration, sizeBytes int64) {
	r.backupResults = append(r.backupResults, result)
	r.sizes = append(r.sizes, sizeBytes)
}

func (r *jobRecorder) RecordRestore(result string) {
	r.restoreResults = append(r.restoreResults, result)
}

func seedServer(store *catalog.MemoryStore, name string) int64 {
	id, err := store.CreateServer(context.Background(), &catalog.Server{
		Name:           name,
		Transport:      catalog.TransportShell,
		Host:           "10.0.0.5",
		DatabaseFamily: catalog.FamilyPostgreSQL,
		Environment:    "production",
		Active:         true,
	})
	ExpectWithOffset(1, err).ToNot(HaveOccurred())
	return id
}

func scratchFiles(directory string) []string {
	entries, err := os.ReadDir(directory)
	ExpectWithOffset(1, err).ToNot(HaveOccurred())
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}
