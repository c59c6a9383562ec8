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

// Package executor reaches database servers over SSH, container runtimes
// and Kubernetes pods, exposing one uniform command and file transfer
// surface to the engines above it.
//
// Every command goes through the validation gate before touching a remote
// host: an allow-list of command heads, a shell metacharacter scan and a
// restricted pipe grammar. Validation failures never leave the process.
package executor

import (
	"context"
	"time"
)

// ExecutionResult is the outcome of one remote command
type ExecutionResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Executor runs commands and moves files on a database server. Execute
// returns a failed ExecutionResult rather than an error when the command
// itself fails remotely; errors are reserved for transport breakdowns the
// result cannot express.
type Executor interface {
	// Execute runs a validated command, bounded by the timeout
	Execute(ctx context.Context, command string, timeout time.Duration) ExecutionResult

	// UploadFile copies a local file onto the server
	UploadFile(ctx context.Context, localPath, remotePath string) error

	// DownloadFile copies a file from the server to the local filesystem
	DownloadFile(ctx context.Context, remotePath, localPath string) error

	// Close releases the underlying connection, if any
	Close() error
}

// validationFailure wraps a validation error into the result the caller
// would have gotten from a remotely failing command. The remote host is
// never contacted.
func validationFailure(err error) ExecutionResult {
	return ExecutionResult{
		Success:  false,
		Stderr:   "validation failed: " + err.Error(),
		ExitCode: -1,
	}
}

// transportFailure wraps a transport-level error into a failed result
func transportFailure(err error) ExecutionResult {
	return ExecutionResult{
		Success:  false,
		Stderr:   err.Error(),
		ExitCode: -1,
	}
}
