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
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/kballard/go-shellquote"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	k8sexec "k8s.io/client-go/util/exec"

	"github.com/polybackup/polybackup/pkg/management/log"
)

const (
	podExecRetryAttempts = 3
	podExecRetryDelay    = 2 * time.Second
)

// PodExecutor runs commands inside a pod container through the
// orchestrator exec API. Transient API failures are retried with
// exponential backoff.
type PodExecutor struct {
	namespace string
	podName   string
	container string

	client kubernetes.Interface
	config *rest.Config
}

// NewPod creates an executor attached to a pod container. The API
// configuration comes from the kubeconfig named in the credentials, the
// in-cluster environment or the default loading rules, in this order.
func NewPod(credentials *Credentials) (*PodExecutor, error) {
	if err := ValidateNamespace(credentials.Namespace); err != nil {
		return nil, err
	}
	if err := ValidateHostname(credentials.PodName); err != nil {
		return nil, fmt.Errorf("invalid pod name: %w", err)
	}
	if credentials.Container != "" {
		if err := ValidateContainerName(credentials.Container); err != nil {
			return nil, err
		}
	}

	config, err := restConfigFor(credentials.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("while loading API configuration: %w", err)
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("while creating API client: %w", err)
	}

	return &PodExecutor{
		namespace: credentials.Namespace,
		podName:   credentials.PodName,
		container: credentials.Container,
		client:    client,
		config:    config,
	}, nil
}

// Execute runs a command inside the pod, automatically retrying transient
// errors like proxy failures or network issues
func (e *PodExecutor) Execute(ctx context.Context, command string, timeout time.Duration) ExecutionResult {
	if err := ValidateCommand(command, true); err != nil {
		return validationFailure(err)
	}

	contextLogger := log.FromContext(ctx).WithValues(
		"pod", e.podName,
		"namespace", e.namespace,
	)

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result ExecutionResult
	var execErr error

	err := retry.New(
		retry.Attempts(podExecRetryAttempts),
		retry.Delay(podExecRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(execCtx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			contextLogger.Info("Retrying pod exec",
				"attempt", n+1,
				"error", err.Error(),
			)
		}),
	).Do(
		func() error {
			result, execErr = e.stream(execCtx, remotecommand.StreamOptions{},
				"sh", "-c", command)

			// Don't retry if context was cancelled or timed out
			if execCtx.Err() != nil {
				return retry.Unrecoverable(execErr)
			}

			if execErr != nil && isRetryablePodExecError(execErr) {
				return execErr
			}

			if execErr != nil {
				return retry.Unrecoverable(execErr)
			}

			return nil
		},
	)
	if err != nil || execErr != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return ExecutionResult{
				Success:  false,
				Stdout:   result.Stdout,
				Stderr:   fmt.Sprintf("command timed out after %s", timeout),
				ExitCode: -1,
			}
		}
		return transportFailure(execErr)
	}

	return result
}

// UploadFile streams a local file into the pod over the exec API
func (e *PodExecutor) UploadFile(ctx context.Context, localPath, remotePath string) error {
	file, err := os.Open(localPath) // #nosec
	if err != nil {
		return fmt.Errorf("while opening %s: %w", localPath, err)
	}
	defer func() {
		_ = file.Close()
	}()

	result, err := e.stream(ctx, remotecommand.StreamOptions{Stdin: file},
		"sh", "-c", "cat > "+shellquote.Join(remotePath))
	if err != nil {
		return fmt.Errorf("while uploading %s to pod %s: %w", localPath, e.podName, err)
	}
	if !result.Success {
		return fmt.Errorf("while uploading %s to pod %s: %s", localPath, e.podName, result.Stderr)
	}
	return nil
}

// DownloadFile streams a file out of the pod over the exec API
func (e *PodExecutor) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	file, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec
	if err != nil {
		return fmt.Errorf("while creating %s: %w", localPath, err)
	}
	defer func() {
		_ = file.Close()
	}()

	var stderr bytes.Buffer
	executor, err := e.spdyExecutor(false, "cat", remotePath)
	if err != nil {
		return err
	}

	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: file,
		Stderr: &stderr,
	})
	if err != nil {
		return fmt.Errorf("while downloading %s from pod %s: %w (stderr: %s)",
			remotePath, e.podName, err, stderr.String())
	}
	return nil
}

// Close is a no-op, the exec API is connectionless between calls
func (e *PodExecutor) Close() error {
	return nil
}

// stream performs a single exec operation without retries
func (e *PodExecutor) stream(
	ctx context.Context,
	streams remotecommand.StreamOptions,
	command ...string,
) (ExecutionResult, error) {
	executor, err := e.spdyExecutor(streams.Stdin != nil, command...)
	if err != nil {
		return ExecutionResult{}, err
	}

	var stdout, stderr bytes.Buffer
	streams.Stdout = &stdout
	streams.Stderr = &stderr

	err = executor.StreamWithContext(ctx, streams)
	if err != nil {
		var exitErr k8sexec.CodeExitError
		if errors.As(err, &exitErr) {
			return ExecutionResult{
				Success:  false,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: exitErr.Code,
			}, nil
		}
		return ExecutionResult{}, fmt.Errorf("cmd: %s\nerror: %w\nstdErr: %v",
			command, err, stderr.String())
	}

	return ExecutionResult{
		Success:  true,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}, nil
}

func (e *PodExecutor) spdyExecutor(withStdin bool, command ...string) (remotecommand.Executor, error) {
	req := e.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(e.podName).
		Namespace(e.namespace).
		SubResource("exec")

	options := &corev1.PodExecOptions{
		Container: e.container,
		Command:   command,
		Stdout:    true,
		Stderr:    true,
		Stdin:     withStdin,
	}
	req.VersionedParams(options, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(e.config, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("while creating exec stream: %w", err)
	}
	return executor, nil
}

func restConfigFor(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(),
		&clientcmd.ConfigOverrides{},
	).ClientConfig()
}

// isRetryablePodExecError returns true for transient infrastructure errors
func isRetryablePodExecError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// API proxy errors
	if strings.Contains(errStr, "proxy error") ||
		strings.Contains(errStr, "error dialing backend") {
		return true
	}

	// HTTP 500 errors from the API server
	if strings.Contains(errStr, "500 Internal Server Error") ||
		strings.Contains(errStr, "Internal error occurred") {
		return true
	}

	// Network connectivity issues
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "TLS handshake timeout") ||
		strings.Contains(errStr, "dial tcp") {
		return true
	}

	return apierrors.IsInternalError(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsTooManyRequests(err)
}
