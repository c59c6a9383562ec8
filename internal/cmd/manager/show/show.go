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

package show

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v3"

	"github.com/polybackup/polybackup/internal/configuration"
	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/management/log"
)

func openStore(ctx context.Context) (*catalog.PostgresStore, error) {
	config := configuration.Current
	config.ReadConfigMap(nil)

	if config.CatalogDSN == "" {
		return nil, errors.New("no catalog DSN configured, set CATALOG_DSN")
	}

	store, err := catalog.NewPostgres(ctx, config.CatalogDSN)
	if err != nil {
		return nil, fmt.Errorf("while connecting to the catalog: %w", err)
	}
	return store, nil
}

func closeStore(store *catalog.PostgresStore) {
	if err := store.Close(); err != nil {
		log.Error(err, "Cannot close the catalog cleanly")
	}
}

func newTable(out io.Writer) *tabby.Tabby {
	return tabby.NewCustom(tabwriter.NewWriter(out, 0, 0, 2, ' ', 0))
}

// statusCell colors a lifecycle status the way it reads on a terminal
func statusCell(status string) interface{} {
	switch status {
	case string(catalog.BackupStatusCompleted), string(catalog.HealthHealthy):
		return aurora.Green(status)
	case string(catalog.BackupStatusFailed), string(catalog.HealthUnhealthy):
		return aurora.Red(status)
	default:
		return aurora.Yellow(status)
	}
}

func sizeCell(sizeBytes *int64) string {
	if sizeBytes == nil {
		return "-"
	}
	return strconv.FormatInt(*sizeBytes, 10)
}

func timeCell(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return value.Format(time.RFC3339)
}

func serverNames(servers []catalog.Server) map[int64]string {
	names := make(map[int64]string, len(servers))
	for _, server := range servers {
		names[server.ID] = server.Name
	}
	return names
}

func renderBackups(out io.Writer, backups []catalog.Backup, servers []catalog.Server) {
	names := serverNames(servers)

	table := newTable(out)
	table.AddHeader("ID", "Server", "Database", "Kind", "Status", "Size", "Created")
	for i := range backups {
		backup := &backups[i]
		table.AddLine(
			backup.ID,
			names[backup.ServerID],
			backup.DatabaseName,
			backup.Kind,
			statusCell(string(backup.Status)),
			sizeCell(backup.SizeBytes),
			backup.CreatedAt.Format(time.RFC3339),
		)
	}
	table.Print()
}

func renderServers(out io.Writer, servers []catalog.Server) {
	table := newTable(out)
	table.AddHeader("ID", "Name", "Family", "Transport", "Host", "Health", "Heartbeat", "Active")
	for i := range servers {
		server := &servers[i]
		host := server.Host
		if server.Port != nil {
			host = fmt.Sprintf("%s:%d", server.Host, *server.Port)
		}
		table.AddLine(
			server.ID,
			server.Name,
			server.DatabaseFamily,
			server.Transport,
			host,
			statusCell(string(server.HealthStatus)),
			timeCell(server.LastHeartbeat),
			server.Active,
		)
	}
	table.Print()
}

func renderSchedules(out io.Writer, schedules []catalog.Schedule, servers []catalog.Server) {
	names := serverNames(servers)

	table := newTable(out)
	table.AddHeader("ID", "Server", "Database", "Cron", "Kind", "Enabled", "Last run", "Next run")
	for i := range schedules {
		schedule := &schedules[i]
		table.AddLine(
			schedule.ID,
			names[schedule.ServerID],
			schedule.DatabaseName,
			schedule.CronExpression,
			schedule.Kind,
			schedule.Enabled,
			timeCell(schedule.LastRun),
			timeCell(schedule.NextRun),
		)
	}
	table.Print()
}

func renderAudit(out io.Writer, records []catalog.AuditRecord) {
	table := newTable(out)
	table.AddHeader("ID", "Action", "Resource", "Detail", "Correlation", "When")
	for i := range records {
		record := &records[i]
		table.AddLine(
			record.ID,
			record.Action,
			fmt.Sprintf("%s/%d", record.ResourceType, record.ResourceID),
			record.Detail,
			record.CorrelationID,
			record.CreatedAt.Format(time.RFC3339),
		)
	}
	table.Print()
}
