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
	"github.com/polybackup/polybackup/pkg/stringset"
)

// mysqlSystemSchemas are filtered out of database listings
var mysqlSystemSchemas = stringset.From([]string{
	"information_schema", "performance_schema", "mysql", "sys",
})

// mysqlEngine drives mysqldump and the mysql client. Dumps run with
// --single-transaction to avoid locking InnoDB tables.
type mysqlEngine struct {
	exec   executor.Executor
	config Config
}

func (e *mysqlEngine) CreateBackup(
	ctx context.Context,
	outputPath string,
	kind catalog.BackupKind,
) executor.ExecutionResult {
	if kind != catalog.BackupKindFull {
		return unsupportedKind(kind, catalog.FamilyMySQL)
	}

	command := e.command("mysqldump",
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		e.config.Database,
	) + " > " + shellquote.Join(outputPath)
	return e.exec.Execute(ctx, command, e.config.ExecTimeout)
}

func (e *mysqlEngine) RestoreBackup(
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

	command := e.command("mysql", targetDatabase) + " < " + shellquote.Join(sourcePath)
	return e.exec.Execute(ctx, command, e.config.ExecTimeout)
}

func (e *mysqlEngine) ExecuteSQL(
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

	command := e.command("mysql", database, "-e", statement)
	return e.exec.Execute(ctx, command, e.config.ExecTimeout)
}

func (e *mysqlEngine) ListDatabases(ctx context.Context) ([]string, error) {
	command := e.command("mysql", "-N", "-e", "SHOW DATABASES")

	result := e.exec.Execute(ctx, command, e.config.ExecTimeout)
	if !result.Success {
		return nil, fmt.Errorf("while listing databases: %s", result.Stderr)
	}

	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	return funk.FilterString(lines, func(line string) bool {
		name := strings.TrimSpace(line)
		return name != "" && !mysqlSystemSchemas.Has(name)
	}), nil
}

func (e *mysqlEngine) command(program string, args ...string) string {
	tokens := make([]string, 0, len(args)+7)
	tokens = append(tokens, program,
		"-h", e.config.Connection.Host,
		"-P", fmt.Sprint(e.config.Connection.Port),
		"-u", e.config.Connection.Username,
	)
	if e.config.Connection.Password != "" {
		tokens = append(tokens, "--password="+e.config.Connection.Password)
	}
	tokens = append(tokens, args...)
	return shellquote.Join(tokens...)
}
