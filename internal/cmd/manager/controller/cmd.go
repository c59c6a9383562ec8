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

// Package controller implements the control plane daemon: the scheduler,
// the worker pool, the retention reaper, the health prober and the web
// server, all running until a termination signal arrives
package controller

import (
	"github.com/spf13/cobra"
)

// NewCmd creates the cobra command running the control plane daemon
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "controller",
		Short:         "Runs the backup control plane daemon",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return RunController(cmd.Context())
		},
	}
}
