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

	"github.com/kballard/go-shellquote"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/executor"
)

// mongoEngine drives mongodump and mongorestore with single-file archives.
// When credentials are present the authentication database is admin.
type mongoEngine struct {
	exec   executor.Executor
	config Config
}

func (e *mongoEngine) CreateBackup(
	ctx context.Context,
	outputPath string,
	kind catalog.BackupKind,
) executor.ExecutionResult {
	if kind != catalog.BackupKindFull {
		return unsupportedKind(kind, catalog.FamilyMongoDB)
	}

	tokens := e.baseTokens("mongodump")
	tokens = append(tokens,
		"--db", e.config.Database,
		"--archive="+outputPath,
	)
	return e.exec.Execute(ctx, shellquote.Join(tokens...), e.config.ExecTimeout)
}

func (e *mongoEngine) RestoreBackup(
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

	tokens := e.baseTokens("mongorestore")
	tokens = append(tokens,
		"--archive="+sourcePath,
		"--drop",
	)
	if targetDatabase != e.config.Database {
		tokens = append(tokens,
			"--nsFrom", e.config.Database+".*",
			"--nsTo", targetDatabase+".*",
		)
	}
	return e.exec.Execute(ctx, shellquote.Join(tokens...), e.config.ExecTimeout)
}

// ListDatabases requires the mongo shell, which the command allow-list
// does not admit; enumerating databases is left to direct client sessions
// at the edge
func (e *mongoEngine) ListDatabases(_ context.Context) ([]string, error) {
	return nil, fmt.Errorf("listing databases is not supported for mongodb over the command transport")
}

func (e *mongoEngine) baseTokens(program string) []string {
	tokens := []string{program,
		"--host", e.config.Connection.Host,
		"--port", fmt.Sprint(e.config.Connection.Port),
	}
	if e.config.Connection.Username != "" {
		tokens = append(tokens,
			"--username", e.config.Connection.Username,
			"--password", e.config.Connection.Password,
			"--authenticationDatabase", "admin",
		)
	}
	return tokens
}
