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

package executor

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/google/shlex"

	"github.com/polybackup/polybackup/pkg/stringset"
)

// allowedCommands is the set of command heads an executor accepts. Anything
// else is rejected before reaching the remote host.
var allowedCommands = stringset.From([]string{
	"pg_dump", "pg_restore", "pg_basebackup", "psql",
	"mysqldump", "mysql",
	"mongodump", "mongorestore",
	"redis-cli",
	"tar", "gzip", "gunzip", "zstd", "lz4",
	"cat", "ls", "mkdir", "rm", "cp", "mv",
	"du", "df", "which", "echo", "test",
})

// shellEntrypoints are additionally accepted on transports that wrap
// commands for a container runtime or an orchestrator exec API
var shellEntrypoints = stringset.From([]string{"sh", "bash"})

// compressionFilters are the only command heads allowed on the right-hand
// side of a pipe
var compressionFilters = stringset.From([]string{"gzip", "gunzip", "zstd", "lz4"})

// dangerousPatterns are shell metacharacters that enable command chaining
// or substitution. Their presence anywhere in the raw command is fatal.
var dangerousPatterns = []string{";", "&", "\n", "\r", "$(", "`"}

var (
	envAssignmentRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
	hostnameRegexp      = regexp.MustCompile(
		`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	databaseNameRegexp  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)
	containerNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	namespaceRegexp     = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	cronFieldRegexp     = regexp.MustCompile(`^[0-9*,/-]+$`)
)

// forbiddenDatabaseTokens are SQL keywords a database name may not spell
var forbiddenDatabaseTokens = stringset.From([]string{
	"DROP", "DELETE", "INSERT", "UPDATE", "SELECT", "EXEC", "EXECUTE",
})

// ValidateCommand applies the validation gate to a raw command line:
// no chaining metacharacters, at most one pipe into a compression filter,
// and a command head taken from the allow-list. Leading NAME=value tokens
// are treated as environment assignments and skipped when locating the
// head, mirroring the way a shell resolves the command word.
func ValidateCommand(command string, shellEntrypointsAllowed bool) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("empty command")
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(command, pattern) {
			return fmt.Errorf("dangerous pattern %q in command", pattern)
		}
	}

	head := command
	if count := strings.Count(command, "|"); count > 0 {
		if count > 1 {
			return fmt.Errorf("at most one pipe is allowed")
		}

		parts := strings.SplitN(command, "|", 2)
		head = parts[0]
		filterHead, err := commandHead(parts[1], false)
		if err != nil {
			return err
		}
		if !compressionFilters.Has(filterHead) {
			return fmt.Errorf("pipe target %q is not a compression filter", filterHead)
		}
	}

	headToken, err := commandHead(head, true)
	if err != nil {
		return err
	}

	if allowedCommands.Has(headToken) {
		return nil
	}
	if shellEntrypointsAllowed && shellEntrypoints.Has(headToken) {
		return nil
	}

	return fmt.Errorf("command %q is not in the allowed command set", headToken)
}

// commandHead tokenizes a command fragment and returns its command word
func commandHead(fragment string, skipAssignments bool) (string, error) {
	tokens, err := shlex.Split(fragment)
	if err != nil {
		return "", fmt.Errorf("cannot tokenize command: %w", err)
	}

	for _, token := range tokens {
		if skipAssignments && envAssignmentRegexp.MatchString(token) {
			continue
		}
		return token, nil
	}

	return "", fmt.Errorf("no command word found")
}

// ValidateHostname accepts RFC 1123 host names and literal IP addresses
func ValidateHostname(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("empty hostname")
	}
	if len(hostname) > 253 {
		return fmt.Errorf("hostname longer than 253 characters")
	}
	if net.ParseIP(hostname) != nil {
		return nil
	}
	if !hostnameRegexp.MatchString(hostname) {
		return fmt.Errorf("invalid hostname: %q", hostname)
	}
	return nil
}

// ValidatePort accepts TCP port numbers
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

// ValidateDatabaseName accepts identifiers starting with a letter or
// underscore, up to 63 characters, that do not spell an SQL keyword
func ValidateDatabaseName(name string) error {
	if name == "" {
		return fmt.Errorf("empty database name")
	}
	if len(name) > 63 {
		return fmt.Errorf("database name longer than 63 characters")
	}
	if !databaseNameRegexp.MatchString(name) {
		return fmt.Errorf("invalid database name: %q", name)
	}
	if forbiddenDatabaseTokens.Has(strings.ToUpper(name)) {
		return fmt.Errorf("database name %q is a reserved SQL keyword", name)
	}
	return nil
}

// ValidateContainerName accepts container runtime identifiers
func ValidateContainerName(name string) error {
	if name == "" {
		return fmt.Errorf("empty container name")
	}
	if !containerNameRegexp.MatchString(name) {
		return fmt.Errorf("invalid container name: %q", name)
	}
	return nil
}

// ValidateNamespace accepts RFC 1123 label namespaces
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("empty namespace")
	}
	if len(namespace) > 63 {
		return fmt.Errorf("namespace longer than 63 characters")
	}
	if !namespaceRegexp.MatchString(namespace) {
		return fmt.Errorf("invalid namespace: %q", namespace)
	}
	return nil
}

// ValidateCronExpression accepts five-field cron expressions, plus an
// optional leading seconds field. Only numbers, ranges, steps, lists and
// wildcards are allowed; names and macros are not.
func ValidateCronExpression(expression string) error {
	fields := strings.Fields(expression)
	if len(fields) != 5 && len(fields) != 6 {
		return fmt.Errorf("cron expression must have 5 or 6 fields, found %d", len(fields))
	}
	for _, field := range fields {
		if !cronFieldRegexp.MatchString(field) {
			return fmt.Errorf("invalid cron field: %q", field)
		}
	}
	return nil
}
