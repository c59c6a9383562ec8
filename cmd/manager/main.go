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

/*
The manager command is the main entrypoint of the polybackup control plane.
*/
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/polybackup/polybackup/internal/cmd/manager/backup"
	"github.com/polybackup/polybackup/internal/cmd/manager/controller"
	"github.com/polybackup/polybackup/internal/cmd/manager/restore"
	"github.com/polybackup/polybackup/internal/cmd/manager/show"
	"github.com/polybackup/polybackup/internal/cmd/versions"
	"github.com/polybackup/polybackup/pkg/management/log"
)

func main() {
	logFlags := &log.Flags{}

	cmd := &cobra.Command{
		Use:          "manager [cmd]",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logFlags.ConfigureLogging()
		},
	}

	logFlags.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(backup.NewCmd())
	cmd.AddCommand(controller.NewCmd())
	cmd.AddCommand(restore.NewCmd())
	cmd.AddCommand(show.NewCmd())
	cmd.AddCommand(versions.NewCmd())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
