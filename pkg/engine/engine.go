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

// Package engine translates backup and restore intents into the native
// tooling of each database family. Engines never open database connections
// themselves; every action goes through an executor and its validation
// gate.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/executor"
)

// defaultExecTimeout bounds engine commands when the configuration does
// not say otherwise
const defaultExecTimeout = 300 * time.Second

// Connection carries the database session coordinates as seen from the
// host where commands run. An empty host means the database listens where
// the executor lands, i.e. localhost.
type Connection struct {
	Host     string
	Port     int
	Username string
	Password string

	// DataDir overrides the server-reported data directory, only
	// meaningful for Redis
	DataDir string
}

// Config selects and parametrizes an engine dialect
type Config struct {
	Family      catalog.DatabaseFamily
	Transport   catalog.Transport
	Database    string
	Connection  Connection
	ExecTimeout time.Duration
}

// Engine is the dialect of one database family
type Engine interface {
	// CreateBackup produces a backup artifact of the given kind at
	// outputPath on the database host
	CreateBackup(ctx context.Context, outputPath string, kind catalog.BackupKind) executor.ExecutionResult

	// RestoreBackup loads the artifact at sourcePath on the database host
	// into targetDatabase
	RestoreBackup(ctx context.Context, sourcePath, targetDatabase string) executor.ExecutionResult

	// ListDatabases enumerates the user databases of the server
	ListDatabases(ctx context.Context) ([]string, error)
}

// SQLRunner is the optional capability of dialects whose family speaks
// SQL. Callers discover it with a type assertion, e.g. to apply data
// masking statements after a restore.
type SQLRunner interface {
	// ExecuteSQL runs a single SQL statement against a database of the
	// server
	ExecuteSQL(ctx context.Context, database, statement string) executor.ExecutionResult
}

// New creates the engine dialect matching a database family
func New(exec executor.Executor, config Config) (Engine, error) {
	if config.ExecTimeout == 0 {
		config.ExecTimeout = defaultExecTimeout
	}
	if config.Connection.Host == "" {
		config.Connection.Host = "localhost"
	}

	switch config.Family {
	case catalog.FamilyPostgreSQL:
		if err := executor.ValidateDatabaseName(config.Database); err != nil {
			return nil, err
		}
		if config.Connection.Port == 0 {
			config.Connection.Port = 5432
		}
		return &postgresEngine{exec: exec, config: config}, nil

	case catalog.FamilyMySQL:
		if err := executor.ValidateDatabaseName(config.Database); err != nil {
			return nil, err
		}
		if config.Connection.Port == 0 {
			config.Connection.Port = 3306
		}
		return &mysqlEngine{exec: exec, config: config}, nil

	case catalog.FamilyMongoDB:
		if err := executor.ValidateDatabaseName(config.Database); err != nil {
			return nil, err
		}
		if config.Connection.Port == 0 {
			config.Connection.Port = 27017
		}
		return &mongoEngine{exec: exec, config: config}, nil

	case catalog.FamilyRedis:
		if config.Connection.Port == 0 {
			config.Connection.Port = 6379
		}
		return &redisEngine{exec: exec, config: config}, nil

	default:
		return nil, fmt.Errorf("unknown database family: %q", config.Family)
	}
}

// unsupportedKind is the failed result returned for backup kinds a dialect
// cannot produce
func unsupportedKind(kind catalog.BackupKind, family catalog.DatabaseFamily) executor.ExecutionResult {
	return executor.ExecutionResult{
		Success:  false,
		Stderr:   fmt.Sprintf("%s backups are not supported for %s", kind, family),
		ExitCode: -1,
	}
}
