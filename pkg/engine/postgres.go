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
	"strings"

	"github.com/kballard/go-shellquote"
	funk "github.com/thoas/go-funk"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/executor"
)

// postgresEngine drives pg_dump, pg_basebackup, pg_restore and psql.
// The session password travels as a PGPASSWORD environment assignment,
// never as a command line flag.
type postgresEngine struct {
	exec   executor.Executor
	config Config
}

func (e *postgresEngine) CreateBackup(
	ctx context.Context,
	outputPath string,
	kind catalog.BackupKind,
) executor.ExecutionResult {
	switch kind {
	case catalog.BackupKindFull:
		command := e.command("pg_dump",
			"-d", e.config.Database,
			"-Fc",
			"-f", outputPath,
		)
		return e.exec.Execute(ctx, command, e.config.ExecTimeout)

	case catalog.BackupKindIncremental:
		return e.physicalBackup(ctx, outputPath)

	default:
		return unsupportedKind(kind, catalog.FamilyPostgreSQL)
	}
}

// physicalBackup streams a base backup into a scratch directory, packs it
// into a single artifact and removes the scratch directory
func (e *postgresEngine) physicalBackup(ctx context.Context, outputPath string) executor.ExecutionResult {
	scratchDir := outputPath + ".base"

	baseBackup := e.command("pg_basebackup",
		"-D", scratchDir,
		"-Fp",
		"-Xs",
		"-P",
	)
	if result := e.exec.Execute(ctx, baseBackup, e.config.ExecTimeout); !result.Success {
		return result
	}

	pack := shellquote.Join("tar", "-czf", outputPath, "-C", scratchDir, ".")
	result := e.exec.Execute(ctx, pack, e.config.ExecTimeout)

	cleanup := shellquote.Join("rm", "-rf", scratchDir)
	_ = e.exec.Execute(ctx, cleanup, e.config.ExecTimeout)

	return result
}

func (e *postgresEngine) RestoreBackup(
	ctx context.Context,
	sourcePath, targetDatabase string,
) executor.ExecutionResult {
	if err := executor.ValidateDatabaseName(targetDatabase); err != nil {
		return executor.ExecutionResult{
			Success:  false,
			Stderr:   "validation failed: " + err.Error(),
			ExitCode: -1,
		}
	}

	command := e.command("pg_restore",
		"-d", targetDatabase,
		"--clean",
		"--if-exists",
		"--no-owner",
		"--no-acl",
		sourcePath,
	)
	return e.exec.Execute(ctx, command, e.config.ExecTimeout)
}

func (e *postgresEngine) ExecuteSQL(
	ctx context.Context,
	database, statement string,
) executor.ExecutionResult {
	if err := executor.ValidateDatabaseName(database); err != nil {
		return executor.ExecutionResult{
			Success:  false,
			Stderr:   "validation failed: " + err.Error(),
			ExitCode: -1,
		}
	}

	command := e.command("psql", "-d", database, "-v", "ON_ERROR_STOP=1", "-c", statement)
	return e.exec.Execute(ctx, command, e.config.ExecTimeout)
}

func (e *postgresEngine) ListDatabases(ctx context.Context) ([]string, error) {
	command := e.command("psql",
		"-t", "-A",
		"-c", "SELECT datname FROM pg_database WHERE datistemplate = false",
	)

	result := e.exec.Execute(ctx, command, e.config.ExecTimeout)
	if !result.Success {
		return nil, fmt.Errorf("while listing databases: %s", result.Stderr)
	}

	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	return funk.FilterString(lines, func(line string) bool {
		return strings.TrimSpace(line) != ""
	}), nil
}

// command assembles a client invocation with the session coordinates and
// the PGPASSWORD assignment in front. The assignment quotes the value
// alone; quoting the whole word would stop the shell from treating it as
// an assignment.
func (e *postgresEngine) command(program string, args ...string) string {
	tokens := make([]string, 0, len(args)+7)
	tokens = append(tokens, program,
		"-h", e.config.Connection.Host,
		"-p", fmt.Sprint(e.config.Connection.Port),
		"-U", e.config.Connection.Username,
	)
	tokens = append(tokens, args...)

	command := shellquote.Join(tokens...)
	if e.config.Connection.Password != "" {
		command = "PGPASSWORD=" + shellquote.Join(e.config.Connection.Password) + " " + command
	}
	return command
}
