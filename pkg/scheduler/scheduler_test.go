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

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/workerpool"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NextFiring", func() {
	It("aligns the next firing to the cron grid", func() {
		after := time.Date(2024, 6, 15, 10, 2, 30, 0, time.UTC)
		next, err := NextFiring("*/5 * * * *", "UTC", after)
		Expect(err).ToNot(HaveOccurred())
		Expect(next).To(BeTemporally("==", time.Date(2024, 6, 15, 10, 5, 0, 0, time.UTC)))
	})

	It("returns a time strictly after the reference", func() {
		after := time.Date(2024, 6, 15, 10, 5, 0, 0, time.UTC)
		next, err := NextFiring("*/5 * * * *", "UTC", after)
		Expect(err).ToNot(HaveOccurred())
		Expect(next).To(BeTemporally("==", time.Date(2024, 6, 15, 10, 10, 0, 0, time.UTC)))
	})

	It("accepts an optional leading seconds field", func() {
		after := time.Date(2024, 6, 15, 10, 0, 10, 0, time.UTC)
		next, err := NextFiring("*/30 * * * * *", "UTC", after)
		Expect(err).ToNot(HaveOccurred())
		Expect(next).To(BeTemporally("==", time.Date(2024, 6, 15, 10, 0, 30, 0, time.UTC)))
	})

	It("interprets the expression in the schedule timezone", func() {
		// 03:00 in Tokyo is 18:00 UTC of the previous day
		after := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
		next, err := NextFiring("0 3 * * *", "Asia/Tokyo", after)
		Expect(err).ToNot(HaveOccurred())
		Expect(next).To(BeTemporally("==", time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC)))
	})

	It("defaults to UTC when the timezone is empty", func() {
		after := time.Date(2024, 6, 15, 10, 59, 0, 0, time.UTC)
		next, err := NextFiring("0 * * * *", "", after)
		Expect(err).ToNot(HaveOccurred())
		Expect(next).To(BeTemporally("==", time.Date(2024, 6, 15, 11, 0, 0, 0, time.UTC)))
	})

	It("rejects expressions with the wrong number of fields", func() {
		_, err := NextFiring("* * *", "UTC", time.Now())
		Expect(err).To(HaveOccurred())
	})

	It("rejects cron macros", func() {
		_, err := NextFiring("@daily", "UTC", time.Now())
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown timezones", func() {
		_, err := NextFiring("*/5 * * * *", "Mars/Olympus", time.Now())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Scheduler tick", func() {
	var (
		ctx       context.Context
		store     *catalog.MemoryStore
		pool      *workerpool.Pool
		ran       chan int64
		scheduler *Scheduler
		now       time.Time

		serverCount int
	)

	createServer := func(family catalog.DatabaseFamily, active bool) int64 {
		serverCount++
		id, err := store.CreateServer(ctx, &catalog.Server{
			Name:           fmt.Sprintf("db-server-%d", serverCount),
			Transport:      catalog.TransportShell,
			Host:           "10.0.0.5",
			DatabaseFamily: family,
			Environment:    "test",
			Active:         active,
		})
		Expect(err).ToNot(HaveOccurred())
		return id
	}

	createSchedule := func(serverID int64, expression string, nextRun *time.Time) int64 {
		id, err := store.CreateSchedule(ctx, &catalog.Schedule{
			ServerID:       serverID,
			DatabaseName:   "appdb",
			CronExpression: expression,
			Timezone:       "UTC",
			Kind:           catalog.BackupKindFull,
			Compression:    catalog.CompressionGzip,
			Encrypted:      true,
			Enabled:        true,
			NextRun:        nextRun,
		})
		Expect(err).ToNot(HaveOccurred())
		return id
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = catalog.NewMemory()
		pool = workerpool.New(2)
		ran = make(chan int64, 16)
		scheduler = New(store, pool, func(_ context.Context, backupID int64) error {
			ran <- backupID
			return nil
		}, time.Minute)
		now = time.Date(2024, 6, 15, 10, 2, 30, 0, time.UTC)
	})

	It("fires a due schedule exactly once, however overdue", func() {
		serverID := createServer(catalog.FamilyPostgreSQL, true)
		due := now.Add(-time.Hour)
		scheduleID := createSchedule(serverID, "*/5 * * * *", &due)

		scheduler.Tick(ctx, now)

		pending, err := store.ListBackupsByStatus(ctx, catalog.BackupStatusPending)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))

		schedule, err := store.GetSchedule(ctx, scheduleID)
		Expect(err).ToNot(HaveOccurred())
		Expect(schedule.LastRun).ToNot(BeNil())
		Expect(*schedule.LastRun).To(BeTemporally("==", now))
		Expect(schedule.NextRun).ToNot(BeNil())
		Expect(*schedule.NextRun).To(BeTemporally(">", now))
		Expect(*schedule.NextRun).To(BeTemporally("==",
			time.Date(2024, 6, 15, 10, 5, 0, 0, time.UTC)))

		// the slot moved forward, so the same tick time fires nothing
		scheduler.Tick(ctx, now)
		pending, err = store.ListBackupsByStatus(ctx, catalog.BackupStatusPending)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))
	})

	It("fires every due schedule in the same tick", func() {
		due := now.Add(-time.Minute)
		future := now.Add(time.Hour)
		for i := 0; i < 3; i++ {
			serverID := createServer(catalog.FamilyPostgreSQL, true)
			createSchedule(serverID, "*/5 * * * *", &due)
		}
		quietServer := createServer(catalog.FamilyMySQL, true)
		createSchedule(quietServer, "*/5 * * * *", &future)

		scheduler.Tick(ctx, now)

		pending, err := store.ListBackupsByStatus(ctx, catalog.BackupStatusPending)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(3))
	})

	It("derives the backup family from the server, not the schedule", func() {
		serverID := createServer(catalog.FamilyMongoDB, true)
		due := now.Add(-time.Minute)
		createSchedule(serverID, "*/5 * * * *", &due)

		scheduler.Tick(ctx, now)

		pending, err := store.ListBackupsByStatus(ctx, catalog.BackupStatusPending)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].DatabaseFamily).To(Equal(catalog.FamilyMongoDB))
		Expect(pending[0].Kind).To(Equal(catalog.BackupKindFull))
		Expect(pending[0].Encrypted).To(BeTrue())
		Expect(pending[0].Compressed).To(BeTrue())
		Expect(pending[0].CompressionAlgo).To(Equal(catalog.CompressionGzip))
	})

	It("seeds next_run the first time it sees a schedule", func() {
		serverID := createServer(catalog.FamilyPostgreSQL, true)
		scheduleID := createSchedule(serverID, "*/5 * * * *", nil)

		scheduler.Tick(ctx, now)

		pending, err := store.ListBackupsByStatus(ctx, catalog.BackupStatusPending)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(BeEmpty())

		schedule, err := store.GetSchedule(ctx, scheduleID)
		Expect(err).ToNot(HaveOccurred())
		Expect(schedule.NextRun).ToNot(BeNil())
		Expect(*schedule.NextRun).To(BeTemporally(">", now))
	})

	It("skips schedules on inactive servers and still advances them", func() {
		serverID := createServer(catalog.FamilyPostgreSQL, false)
		due := now.Add(-time.Minute)
		scheduleID := createSchedule(serverID, "*/5 * * * *", &due)

		scheduler.Tick(ctx, now)

		pending, err := store.ListBackupsByStatus(ctx, catalog.BackupStatusPending)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(BeEmpty())

		schedule, err := store.GetSchedule(ctx, scheduleID)
		Expect(err).ToNot(HaveOccurred())
		Expect(schedule.NextRun).ToNot(BeNil())
		Expect(*schedule.NextRun).To(BeTemporally(">", now))
	})

	It("keeps evaluating after one schedule fails", func() {
		brokenServer := createServer(catalog.FamilyPostgreSQL, true)
		due := now.Add(-time.Minute)
		createSchedule(brokenServer, "not a cron", &due)

		healthyServer := createServer(catalog.FamilyPostgreSQL, true)
		createSchedule(healthyServer, "*/5 * * * *", &due)

		scheduler.Tick(ctx, now)

		pending, err := store.ListBackupsByStatus(ctx, catalog.BackupStatusPending)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].ServerID).To(Equal(healthyServer))
	})

	It("hands admitted backups to the runner through the pool", func() {
		pool.Start(ctx)
		DeferCleanup(pool.Stop)

		serverID := createServer(catalog.FamilyPostgreSQL, true)
		due := now.Add(-time.Minute)
		createSchedule(serverID, "*/5 * * * *", &due)

		scheduler.Tick(ctx, now)

		var got int64
		Eventually(ran).Should(Receive(&got))
		Expect(got).To(BeNumerically(">", 0))
	})

	It("re-dispatches pending backups on recovery", func() {
		pool.Start(ctx)
		DeferCleanup(pool.Stop)

		serverID := createServer(catalog.FamilyPostgreSQL, true)
		backupID, err := store.InsertBackup(ctx, &catalog.Backup{
			ServerID:       serverID,
			DatabaseName:   "appdb",
			DatabaseFamily: catalog.FamilyPostgreSQL,
			Kind:           catalog.BackupKindFull,
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(scheduler.Recover(ctx)).To(Succeed())

		var got int64
		Eventually(ran).Should(Receive(&got))
		Expect(got).To(Equal(backupID))
	})
})
