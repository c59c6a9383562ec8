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

package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/executor"
)

const (
	redisPollInterval = 2 * time.Second
	redisPollAttempts = 30
	redisProbeTimeout = 30 * time.Second
)

// redisEngine snapshots and restores RDB files. A backup triggers BGSAVE
// and waits for LASTSAVE to advance before copying the RDB aside.
//
// A restore stops the server with SHUTDOWN NOSAVE and swaps the RDB file.
// On transports that wrap commands in a shell the engine relaunches the
// daemon itself; over plain SSH the host's process supervisor owns the
// restart. Either way the restore only succeeds once the server answers
// PING again within the poll window.
type redisEngine struct {
	exec   executor.Executor
	config Config
}

func (e *redisEngine) CreateBackup(
	ctx context.Context,
	outputPath string,
	kind catalog.BackupKind,
) executor.ExecutionResult {
	if kind != catalog.BackupKindFull {
		return unsupportedKind(kind, catalog.FamilyRedis)
	}

	before, result := e.lastSave(ctx)
	if !result.Success {
		return result
	}

	if result := e.cli(ctx, "BGSAVE"); !result.Success {
		return result
	}

	if result := e.waitForSave(ctx, before); !result.Success {
		return result
	}

	dataDir, result := e.dataDir(ctx)
	if !result.Success {
		return result
	}

	copyCommand := shellquote.Join("cp", dataDir+"/dump.rdb", outputPath)
	return e.exec.Execute(ctx, copyCommand, e.config.ExecTimeout)
}

func (e *redisEngine) RestoreBackup(
	ctx context.Context,
	sourcePath, _ string,
) executor.ExecutionResult {
	dataDir, result := e.dataDir(ctx)
	if !result.Success {
		return result
	}

	// The connection dies with the server; the command outcome is moot
	_ = e.cli(ctx, "SHUTDOWN", "NOSAVE")

	copyCommand := shellquote.Join("cp", sourcePath, dataDir+"/dump.rdb")
	if result := e.exec.Execute(ctx, copyCommand, e.config.ExecTimeout); !result.Success {
		return result
	}

	if e.config.Transport != catalog.TransportShell {
		relaunch := shellquote.Join("sh", "-c", "redis-server --daemonize yes")
		if result := e.exec.Execute(ctx, relaunch, redisProbeTimeout); !result.Success {
			return result
		}
	}

	return e.waitForPing(ctx)
}

// ListDatabases reports the sixteen numbered keyspaces of a default server
func (e *redisEngine) ListDatabases(_ context.Context) ([]string, error) {
	databases := make([]string, 16)
	for i := range databases {
		databases[i] = fmt.Sprintf("db%d", i)
	}
	return databases, nil
}

// lastSave reads the epoch of the last completed snapshot
func (e *redisEngine) lastSave(ctx context.Context) (int64, executor.ExecutionResult) {
	result := e.cli(ctx, "LASTSAVE")
	if !result.Success {
		return 0, result
	}

	epoch, err := strconv.ParseInt(strings.TrimSpace(result.Stdout), 10, 64)
	if err != nil {
		return 0, executor.ExecutionResult{
			Success:  false,
			Stderr:   fmt.Sprintf("unexpected LASTSAVE output: %q", result.Stdout),
			ExitCode: -1,
		}
	}
	return epoch, result
}

// waitForSave polls LASTSAVE until it advances past the given epoch
func (e *redisEngine) waitForSave(ctx context.Context, before int64) executor.ExecutionResult {
	for attempt := 0; attempt < redisPollAttempts; attempt++ {
		current, result := e.lastSave(ctx)
		if !result.Success {
			return result
		}
		if current > before {
			return result
		}

		select {
		case <-ctx.Done():
			return executor.ExecutionResult{
				Success:  false,
				Stderr:   "interrupted while waiting for BGSAVE to complete",
				ExitCode: -1,
			}
		case <-time.After(redisPollInterval):
		}
	}

	return executor.ExecutionResult{
		Success:  false,
		Stderr:   "BGSAVE did not complete within the poll window",
		ExitCode: -1,
	}
}

// waitForPing polls the server until it answers PONG
func (e *redisEngine) waitForPing(ctx context.Context) executor.ExecutionResult {
	var last executor.ExecutionResult
	for attempt := 0; attempt < redisPollAttempts; attempt++ {
		last = e.cli(ctx, "PING")
		if last.Success && strings.Contains(last.Stdout, "PONG") {
			return last
		}

		select {
		case <-ctx.Done():
			return executor.ExecutionResult{
				Success:  false,
				Stderr:   "interrupted while waiting for the server to restart",
				ExitCode: -1,
			}
		case <-time.After(redisPollInterval):
		}
	}

	return executor.ExecutionResult{
		Success:  false,
		Stdout:   last.Stdout,
		Stderr:   "server did not answer PING after restore; restart it manually",
		ExitCode: -1,
	}
}

// dataDir resolves the directory holding dump.rdb
func (e *redisEngine) dataDir(ctx context.Context) (string, executor.ExecutionResult) {
	if e.config.Connection.DataDir != "" {
		return e.config.Connection.DataDir, executor.ExecutionResult{Success: true}
	}

	result := e.cli(ctx, "CONFIG", "GET", "dir")
	if !result.Success {
		return "", result
	}

	// CONFIG GET answers with key and value on separate lines
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) == "" {
		return "", executor.ExecutionResult{
			Success:  false,
			Stderr:   fmt.Sprintf("unexpected CONFIG GET dir output: %q", result.Stdout),
			ExitCode: -1,
		}
	}
	return strings.TrimSpace(lines[1]), result
}

// cli runs a redis-cli command with the session coordinates
func (e *redisEngine) cli(ctx context.Context, args ...string) executor.ExecutionResult {
	tokens := []string{"redis-cli",
		"-h", e.config.Connection.Host,
		"-p", fmt.Sprint(e.config.Connection.Port),
	}
	if e.config.Connection.Password != "" {
		tokens = append(tokens, "-a", e.config.Connection.Password)
	}
	tokens = append(tokens, args...)
	return e.exec.Execute(ctx, shellquote.Join(tokens...), redisProbeTimeout)
}
