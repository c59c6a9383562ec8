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
	"bytes"
	"context"
	"time"

	"github.com/polybackup/polybackup/pkg/catalog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Catalog tables", func() {
	var out *bytes.Buffer

	servers := []catalog.Server{
		{
			ID:             1,
			Name:           "db-main",
			Transport:      catalog.TransportShell,
			Host:           "10.0.0.7",
			DatabaseFamily: catalog.FamilyPostgreSQL,
			HealthStatus:   catalog.HealthHealthy,
			Active:         true,
		},
	}

	BeforeEach(func() {
		out = &bytes.Buffer{}
	})

	It("renders backups with the server name resolved", func() {
		sizeBytes := int64(1 << 20)
		renderBackups(out, []catalog.Backup{
			{
				ID:           12,
				ServerID:     1,
				DatabaseName: "orders",
				Kind:         catalog.BackupKindFull,
				Status:       catalog.BackupStatusCompleted,
				SizeBytes:    &sizeBytes,
				CreatedAt:    time.Date(2025, 3, 2, 10, 30, 0, 0, time.UTC),
			},
		}, servers)

		rendered := out.String()
		Expect(rendered).To(ContainSubstring("Database"))
		Expect(rendered).To(ContainSubstring("db-main"))
		Expect(rendered).To(ContainSubstring("orders"))
		Expect(rendered).To(ContainSubstring("completed"))
		Expect(rendered).To(ContainSubstring("1048576"))
		Expect(rendered).To(ContainSubstring("2025-03-02T10:30:00Z"))
	})

	It("renders a dash for a backup without a size", func() {
		renderBackups(out, []catalog.Backup{
			{ID: 13, ServerID: 1, DatabaseName: "orders", Status: catalog.BackupStatusPending},
		}, servers)

		Expect(out.String()).To(ContainSubstring("-"))
	})

	It("renders servers with the port folded into the host", func() {
		port := 5432
		renderServers(out, []catalog.Server{
			{
				ID:             2,
				Name:           "db-replica",
				Transport:      catalog.TransportShell,
				Host:           "10.0.0.8",
				Port:           &port,
				DatabaseFamily: catalog.FamilyPostgreSQL,
				HealthStatus:   catalog.HealthHealthy,
				Active:         true,
			},
		})

		rendered := out.String()
		Expect(rendered).To(ContainSubstring("10.0.0.8:5432"))
		Expect(rendered).To(ContainSubstring("healthy"))
		Expect(rendered).To(ContainSubstring("postgresql"))
	})

	It("renders schedules with their run markers", func() {
		nextRun := time.Date(2025, 3, 3, 2, 0, 0, 0, time.UTC)
		renderSchedules(out, []catalog.Schedule{
			{
				ID:             4,
				ServerID:       1,
				DatabaseName:   "orders",
				CronExpression: "0 2 * * *",
				Kind:           catalog.BackupKindFull,
				Enabled:        true,
				NextRun:        &nextRun,
			},
		}, servers)

		rendered := out.String()
		Expect(rendered).To(ContainSubstring("0 2 * * *"))
		Expect(rendered).To(ContainSubstring("db-main"))
		Expect(rendered).To(ContainSubstring("2025-03-03T02:00:00Z"))
	})

	It("renders the audit trail with the resource coordinates", func() {
		renderAudit(out, []catalog.AuditRecord{
			{
				ID:            9,
				Action:        catalog.AuditBackupRestore,
				ResourceType:  "backup",
				ResourceID:    12,
				Detail:        "restored into orders_staging",
				CorrelationID: "b4c0ffee",
				CreatedAt:     time.Date(2025, 3, 2, 11, 0, 0, 0, time.UTC),
			},
		})

		rendered := out.String()
		Expect(rendered).To(ContainSubstring("backup_restore"))
		Expect(rendered).To(ContainSubstring("backup/12"))
		Expect(rendered).To(ContainSubstring("b4c0ffee"))
	})
})

var _ = Describe("Store opening", func() {
	It("refuses to open without a catalog DSN", func() {
		GinkgoT().Setenv("CATALOG_DSN", "")

		_, err := openStore(context.Background())
		Expect(err).To(MatchError(ContainSubstring("catalog DSN")))
	})
})
