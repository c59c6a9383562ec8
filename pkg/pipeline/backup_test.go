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

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/polybackup/polybackup/pkg/blob"
	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/compression"
	"github.com/polybackup/polybackup/pkg/encryption"
	"github.com/polybackup/polybackup/pkg/engine"
	"github.com/polybackup/polybackup/pkg/executor"
	"github.com/polybackup/polybackup/pkg/hub"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// failingBlobs makes every upload fail while delegating the rest
type failingBlobs struct {
	blob.Service
	uploads int
}

func (f *failingBlobs) Upload(_ context.Context, _, _ string) error {
	f.uploads++
	return fmt.Errorf("s3: connection refused")
}

var _ = Describe("Backup job", func() {
	var (
		ctx      context.Context
		store    *catalog.MemoryStore
		blobs    blob.Service
		workdir  string
		conduit  *fakeConduit
		eng      *fakeEngine
		notifier *jobNotifier
		recorder *jobRecorder
		eventHub *hub.Hub
		p        *Pipeline
		serverID int64
		key      []byte
		dump     []byte
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = catalog.NewMemory()
		workdir = GinkgoT().TempDir()

		var err error
		blobs, err = blob.NewLocal(GinkgoT().TempDir())
		Expect(err).ToNot(HaveOccurred())

		conduit = newFakeConduit()
		dump = []byte("pg_dump custom format payload")
		eng = &fakeEngine{conduit: conduit, dump: dump}
		notifier = &jobNotifier{}
		recorder = &jobRecorder{}
		eventHub = hub.New()
		DeferCleanup(eventHub.Close)

		key = encryption.DeriveKey("correct-horse", "battery-staple")
		serverID = seedServer(store, "db-prod-1")

		p = New(store, blobs, eventHub, notifier, recorder, Options{
			WorkDirectory:  workdir,
			Key:            key,
			ExecTimeout:    time.Second,
			UploadAttempts: 1,
		})
		p.newDialect = func(*catalog.Server, catalog.DatabaseFamily, string) (executor.Executor, engine.Engine, error) {
			return conduit, eng, nil
		}
	})

	newBackup := func(mutate func(*catalog.Backup)) int64 {
		backup := &catalog.Backup{
			ServerID:       serverID,
			DatabaseName:   "orders",
			DatabaseFamily: catalog.FamilyPostgreSQL,
			Kind:           catalog.BackupKindFull,
		}
		if mutate != nil {
			mutate(backup)
		}
		id, err := store.InsertBackup(ctx, backup)
		Expect(err).ToNot(HaveOccurred())
		return id
	}

	It("runs a plain backup end to end", func() {
		id := newBackup(nil)
		Expect(p.RunBackup(ctx, id)).To(Succeed())

		row, err := store.GetBackup(ctx, id)
		Expect(err).ToNot(HaveOccurred())
		Expect(row.Status).To(Equal(catalog.BackupStatusCompleted))
		Expect(row.StartedAt).ToNot(BeNil())
		Expect(row.CompletedAt).ToNot(BeNil())
		Expect(row.DurationSeconds).ToNot(BeNil())
		Expect(row.StorageKey).ToNot(BeNil())
		Expect(*row.StorageKey).To(Equal(blob.KeyFor(id, *row.StartedAt)))
		Expect(row.SizeBytes).ToNot(BeNil())
		Expect(*row.SizeBytes).To(Equal(int64(len(dump))))
		Expect(row.Checksum).ToNot(BeNil())
		Expect(*row.Checksum).To(HavePrefix("sha256:"))

		stored := filepath.Join(GinkgoT().TempDir(), "stored.dat")
		Expect(blobs.Download(ctx, *row.StorageKey, stored)).To(Succeed())
		Expect(os.ReadFile(stored)).To(Equal(dump))
		match, err := encryption.VerifyChecksum(stored, *row.Checksum)
		Expect(err).ToNot(HaveOccurred())
		Expect(match).To(BeTrue())

		// both scratch areas are clean and the transport is closed
		Expect(scratchFiles(workdir)).To(BeEmpty())
		Expect(conduit.files).To(BeEmpty())
		Expect(conduit.closed).To(BeTrue())

		audits, err := store.ListAudit(ctx, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(audits).To(HaveLen(1))
		Expect(audits[0].Action).To(Equal(catalog.AuditBackupCreate))
		Expect(audits[0].Detail).To(ContainSubstring(`"server":"db-prod-1"`))
		Expect(audits[0].CorrelationID).ToNot(BeEmpty())

		Expect(notifier.backups).To(Equal([]string{"true: Backup completed for orders"}))
		Expect(recorder.backupResults).To(Equal([]string{"completed"}))
		Expect(recorder.sizes).To(Equal([]int64{int64(len(dump))}))
	})

	It("moves the artifact through compression and encryption", func() {
		id := newBackup(func(b *catalog.Backup) {
			b.Compressed = true
			b.CompressionAlgo = catalog.CompressionGzip
			b.Encrypted = true
		})
		Expect(p.RunBackup(ctx, id)).To(Succeed())

		row, err := store.GetBackup(ctx, id)
		Expect(err).ToNot(HaveOccurred())
		Expect(row.Status).To(Equal(catalog.BackupStatusCompleted))
		Expect(row.Encrypted).To(BeTrue())
		Expect(row.EncryptionAlgo).ToNot(BeNil())
		Expect(*row.EncryptionAlgo).To(Equal(catalog.EncryptionAlgoAESGCM))
		Expect(row.Compressed).To(BeTrue())
		Expect(row.CompressionAlgo).To(Equal(catalog.CompressionGzip))

		scratch := GinkgoT().TempDir()
		stored := filepath.Join(scratch, "stored.dat")
		Expect(blobs.Download(ctx, *row.StorageKey, stored)).To(Succeed())
		Expect(os.ReadFile(stored)).ToNot(Equal(dump))

		// the stored bytes decode back to the original dump
		compressed := filepath.Join(scratch, "plain.gz")
		plain := filepath.Join(scratch, "plain")
		Expect(encryption.DecryptFile(stored, compressed, key)).To(Succeed())
		Expect(compression.Decompress(compressed, plain, catalog.CompressionGzip)).To(Succeed())
		Expect(os.ReadFile(plain)).To(Equal(dump))

		// the intermediate stage files are gone
		Expect(scratchFiles(workdir)).To(BeEmpty())
	})

	It("steps back silently when another worker holds the claim", func() {
		id := newBackup(func(b *catalog.Backup) {
			b.Status = catalog.BackupStatusInProgress
		})

		Expect(p.RunBackup(ctx, id)).To(Succeed())

		Expect(eng.creates).To(BeZero())
		Expect(notifier.backups).To(BeEmpty())
		row, err := store.GetBackup(ctx, id)
		Expect(err).ToNot(HaveOccurred())
		Expect(row.Status).To(Equal(catalog.BackupStatusInProgress))
	})

	It("settles the job as failed when the dump command fails", func() {
		eng.createErr = "pg_dump: connection to server failed"
		id := newBackup(nil)

		err := p.RunBackup(ctx, id)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("pg_dump: connection to server failed"))

		row, err := store.GetBackup(ctx, id)
		Expect(err).ToNot(HaveOccurred())
		Expect(row.Status).To(Equal(catalog.BackupStatusFailed))
		Expect(row.ErrorMessage).ToNot(BeNil())
		Expect(*row.ErrorMessage).To(ContainSubstring("pg_dump"))
		Expect(row.CompletedAt).ToNot(BeNil())

		Expect(notifier.backups).To(HaveLen(1))
		Expect(notifier.backups[0]).To(HavePrefix("false: Backup failed for orders"))
		Expect(recorder.backupResults).To(Equal([]string{"failed"}))
		Expect(scratchFiles(workdir)).To(BeEmpty())
	})

	It("fails the job once the upload attempts are exhausted", func() {
		failing := &failingBlobs{Service: blobs}
		p = New(store, failing, eventHub, notifier, recorder, Options{
			WorkDirectory:  workdir,
			Key:            key,
			ExecTimeout:    time.Second,
			UploadAttempts: 2,
		})
		p.newDialect = func(*catalog.Server, catalog.DatabaseFamily, string) (executor.Executor, engine.Engine, error) {
			return conduit, eng, nil
		}

		id := newBackup(nil)
		err := p.RunBackup(ctx, id)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("s3: connection refused"))
		Expect(failing.uploads).To(Equal(2))

		row, err := store.GetBackup(ctx, id)
		Expect(err).ToNot(HaveOccurred())
		Expect(row.Status).To(Equal(catalog.BackupStatusFailed))
	})

	It("enforces the job time limit", func() {
		conduit.blockDownload = true
		p.options.JobTimeLimit = 100 * time.Millisecond

		id := newBackup(nil)
		err := p.RunBackup(ctx, id)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("job time limit"))

		row, err := store.GetBackup(ctx, id)
		Expect(err).ToNot(HaveOccurred())
		Expect(row.Status).To(Equal(catalog.BackupStatusFailed))
		Expect(row.ErrorMessage).ToNot(BeNil())
		Expect(*row.ErrorMessage).To(ContainSubstring("job time limit"))
	})

	It("streams ordered progress over the backups channel", func() {
		subscriber := hub.NewSubscriberWithBuffer(32)
		eventHub.Connect(subscriber, hub.ChannelBackups, 0)

		id := newBackup(func(b *catalog.Backup) {
			b.Compressed = true
			b.CompressionAlgo = catalog.CompressionGzip
			b.Encrypted = true
		})
		Expect(p.RunBackup(ctx, id)).To(Succeed())

		var progress []int
		var last hub.Event
		for len(subscriber.Events()) > 0 {
			event := <-subscriber.Events()
			Expect(event.Type).To(Equal(hub.EventBackupProgress))
			value, ok := event.Payload["progress"].(int)
			Expect(ok).To(BeTrue())
			progress = append(progress, value)
			last = event
		}

		// claim, dump, compress, encrypt, upload start, done
		Expect(progress).To(HaveLen(6))
		Expect(sort.IntsAreSorted(progress)).To(BeTrue())
		Expect(progress[0]).To(BeZero())
		Expect(progress[len(progress)-1]).To(Equal(100))
		Expect(last.Payload).To(HaveKeyWithValue("status", "completed"))
	})
})
