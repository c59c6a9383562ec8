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
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerExecutor runs commands inside a container through the runtime
// API. Commands are wrapped in a shell so that redirects and environment
// assignments behave as they would over SSH.
type ContainerExecutor struct {
	containerName string
	cli           client.APIClient
}

// NewContainer creates an executor attached to a container. The runtime
// endpoint comes from the credentials document, falling back to the
// environment configuration.
func NewContainer(credentials *Credentials) (*ContainerExecutor, error) {
	if err := ValidateContainerName(credentials.ContainerName); err != nil {
		return nil, err
	}

	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if credentials.DockerHost != "" {
		opts = append(opts, client.WithHost(credentials.DockerHost))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("while creating container runtime client: %w", err)
	}

	return &ContainerExecutor{
		containerName: credentials.ContainerName,
		cli:           cli,
	}, nil
}

// Execute runs a command inside the container
func (e *ContainerExecutor) Execute(ctx context.Context, command string, timeout time.Duration) ExecutionResult {
	if err := ValidateCommand(command, true); err != nil {
		return validationFailure(err)
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	execID, err := e.cli.ContainerExecCreate(runCtx, e.containerName, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return transportFailure(fmt.Errorf("while creating exec in %s: %w", e.containerName, err))
	}

	attach, err := e.cli.ContainerExecAttach(runCtx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return transportFailure(fmt.Errorf("while attaching to exec: %w", err))
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- copyErr
	}()

	select {
	case <-runCtx.Done():
		return ExecutionResult{
			Success:  false,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command timed out after %s", timeout),
			ExitCode: -1,
		}

	case err := <-done:
		if err != nil {
			return transportFailure(fmt.Errorf("while reading exec output: %w", err))
		}
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return transportFailure(fmt.Errorf("while inspecting exec: %w", err))
	}

	return ExecutionResult{
		Success:  inspect.ExitCode == 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}
}

// UploadFile copies a local file into the container as a single-entry
// tar stream
func (e *ContainerExecutor) UploadFile(ctx context.Context, localPath, remotePath string) error {
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

	reader, writer := io.Pipe()
	go func() {
		tarWriter := tar.NewWriter(writer)
		header := &tar.Header{
			Name: filepath.Base(remotePath),
			Mode: 0o600,
			Size: info.Size(),
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			_ = writer.CloseWithError(err)
			return
		}
		if _, err := io.Copy(tarWriter, file); err != nil {
			_ = writer.CloseWithError(err)
			return
		}
		_ = writer.CloseWithError(tarWriter.Close())
	}()

	destination := filepath.Dir(remotePath)
	if err := e.cli.CopyToContainer(ctx, e.containerName, destination, reader,
		container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("while copying %s into %s: %w", localPath, e.containerName, err)
	}
	return nil
}

// DownloadFile copies a file out of the container, unwrapping the tar
// stream the runtime API produces
func (e *ContainerExecutor) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	reader, _, err := e.cli.CopyFromContainer(ctx, e.containerName, remotePath)
	if err != nil {
		return fmt.Errorf("while copying %s from %s: %w", remotePath, e.containerName, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return fmt.Errorf("no file found in archive for %s", remotePath)
		}
		if err != nil {
			return fmt.Errorf("while reading archive for %s: %w", remotePath, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		file, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec
		if err != nil {
			return fmt.Errorf("while creating %s: %w", localPath, err)
		}
		_, err = io.Copy(file, tarReader) // #nosec
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("while extracting %s: %w", remotePath, err)
		}
		return nil
	}
}

// Close releases the runtime client
func (e *ContainerExecutor) Close() error {
	return e.cli.Close()
}
