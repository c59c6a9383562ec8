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
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"golang.org/x/crypto/ssh"

	"github.com/polybackup/polybackup/pkg/management/log"
)

const (
	defaultSSHPort    = 22
	sshConnectTimeout = 10 * time.Second
)

// ShellExecutor reaches a server over SSH and moves files over SCP. The
// connection is established lazily on first use and reused afterwards; a
// broken connection is re-established once per operation.
type ShellExecutor struct {
	host        string
	port        int
	credentials *Credentials

	mu     sync.Mutex
	client *ssh.Client
	scp    *scp.Client
}

// NewShell creates a shell executor for a host. No connection is attempted
// until the first operation.
func NewShell(host string, port int, credentials *Credentials) *ShellExecutor {
	if port == 0 {
		port = defaultSSHPort
	}
	return &ShellExecutor{
		host:        host,
		port:        port,
		credentials: credentials,
	}
}

// Execute runs a command on the remote host through the user's shell
func (e *ShellExecutor) Execute(ctx context.Context, command string, timeout time.Duration) ExecutionResult {
	if err := ValidateCommand(command, false); err != nil {
		return validationFailure(err)
	}

	result, err := e.run(ctx, command, timeout)
	if err == nil {
		return result
	}

	if !isConnectionLost(err) {
		return transportFailure(err)
	}

	// Stale connection, reconnect and retry once
	log.FromContext(ctx).Debug("reconnecting after lost SSH connection",
		"host", e.host, "error", err.Error())
	e.reset()
	result, err = e.run(ctx, command, timeout)
	if err != nil {
		return transportFailure(err)
	}
	return result
}

func (e *ShellExecutor) run(ctx context.Context, command string, timeout time.Duration) (ExecutionResult, error) {
	client, err := e.ensureClient(ctx)
	if err != nil {
		return ExecutionResult{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("while opening SSH session: %w", err)
	}
	defer func() {
		_ = session.Close()
	}()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return ExecutionResult{
			Success:  false,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command timed out after %s", timeout),
			ExitCode: -1,
		}, nil

	case err := <-done:
		result := ExecutionResult{
			Success:  err == nil,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: 0,
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				if result.Stderr == "" {
					result.Stderr = err.Error()
				}
			} else {
				return ExecutionResult{}, err
			}
		}
		return result, nil
	}
}

// UploadFile copies a local file to the remote host over SCP
func (e *ShellExecutor) UploadFile(ctx context.Context, localPath, remotePath string) error {
	if _, err := e.ensureClient(ctx); err != nil {
		return err
	}

	file, err := os.Open(localPath) // #nosec
	if err != nil {
		return fmt.Errorf("while opening %s: %w", localPath, err)
	}
	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("while inspecting %s: %w", localPath, err)
	}

	if err := e.scp.Copy(ctx, file, remotePath, "0600", info.Size()); err != nil {
		return fmt.Errorf("while uploading %s: %w", localPath, err)
	}
	return nil
}

// DownloadFile copies a remote file to the local filesystem over SCP
func (e *ShellExecutor) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if _, err := e.ensureClient(ctx); err != nil {
		return err
	}

	file, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec
	if err != nil {
		return fmt.Errorf("while creating %s: %w", localPath, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if err := e.scp.CopyFromRemote(ctx, file, remotePath); err != nil {
		return fmt.Errorf("while downloading %s: %w", remotePath, err)
	}
	return nil
}

// Close tears down the SSH connection
func (e *ShellExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	e.scp = nil
	return err
}

func (e *ShellExecutor) ensureClient(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	config, err := e.clientConfig()
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(e.host, fmt.Sprint(e.port))
	dialer := net.Dialer{Timeout: sshConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("while dialing %s: %w", address, err)
	}

	sshConn, channels, requests, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("while establishing SSH connection to %s: %w", address, err)
	}

	e.client = ssh.NewClient(sshConn, channels, requests)
	scpClient := scp.NewConfigurer("", nil).SSHClient(e.client).Create()
	e.scp = &scpClient
	return e.client, nil
}

func (e *ShellExecutor) clientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if e.credentials.PrivateKey != "" {
		signer, err := parsePrivateKey(e.credentials.PrivateKey, e.credentials.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if e.credentials.Password != "" {
		methods = append(methods, ssh.Password(e.credentials.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method available")
	}

	return &ssh.ClientConfig{
		User:            e.credentials.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec
		Timeout:         sshConnectTimeout,
	}, nil
}

func (e *ShellExecutor) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		_ = e.client.Close()
		e.client = nil
		e.scp = nil
	}
}

func parsePrivateKey(key, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("while parsing encrypted private key: %w", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("while parsing private key: %w", err)
	}
	return signer, nil
}

func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "broken pipe") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "use of closed network connection") ||
		strings.Contains(message, "EOF")
}
