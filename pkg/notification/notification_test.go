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

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// recordingSink captures every message it receives
type recordingSink struct {
	name     string
	messages []Message
	err      error
}

func (s *recordingSink) Name() string {
	return s.name
}

func (s *recordingSink) Notify(_ context.Context, message Message) error {
	s.messages = append(s.messages, message)
	return s.err
}

var _ = Describe("Notification manager", func() {
	var (
		ctx  context.Context
		sink *recordingSink
	)

	BeforeEach(func() {
		ctx = context.Background()
		sink = &recordingSink{name: "recorder"}
	})

	It("builds the backup success envelope", func() {
		manager := NewManager(sink)
		manager.NotifyBackup(ctx, 42, true, "Backup completed for appdb")

		Expect(sink.messages).To(HaveLen(1))
		Expect(sink.messages[0].Title).To(Equal("DB Backup Notification"))
		Expect(sink.messages[0].Body).To(ContainSubstring("✅ *Backup Success*"))
		Expect(sink.messages[0].Body).To(ContainSubstring("Backup completed for appdb"))
		Expect(sink.messages[0].Body).To(ContainSubstring("Backup ID: 42"))
	})

	It("builds the backup failure envelope", func() {
		manager := NewManager(sink)
		manager.NotifyBackup(ctx, 7, false, "Backup failed for appdb: dump exited 1")

		Expect(sink.messages).To(HaveLen(1))
		Expect(sink.messages[0].Body).To(ContainSubstring("❌ *Backup Failed*"))
	})

	It("builds the restore envelope", func() {
		manager := NewManager(sink)
		manager.NotifyRestore(ctx, 9, true, "Restore completed to staging")

		Expect(sink.messages).To(HaveLen(1))
		Expect(sink.messages[0].Title).To(Equal("DB Restore Notification"))
		Expect(sink.messages[0].Body).To(ContainSubstring("✅ *Restore Success*"))
	})

	It("builds the server health envelope", func() {
		manager := NewManager(sink)
		manager.NotifyServerHealth(ctx, "db-prod-1", "unhealthy",
			"Health changed from healthy to unhealthy")

		Expect(sink.messages).To(HaveLen(1))
		Expect(sink.messages[0].Title).To(Equal("Server Health Alert"))
		Expect(sink.messages[0].Body).To(ContainSubstring("⚠️"))
		Expect(sink.messages[0].Body).To(ContainSubstring("Server: db-prod-1"))
		Expect(sink.messages[0].Body).To(ContainSubstring("Status: unhealthy"))
	})

	It("keeps delivering after a sink fails", func() {
		broken := &recordingSink{name: "broken", err: errors.New("connection refused")}
		manager := NewManager(broken, sink)

		manager.NotifyBackup(ctx, 1, true, "done")

		Expect(broken.messages).To(HaveLen(1))
		Expect(sink.messages).To(HaveLen(1))
	})

	It("stays silent with no sinks configured", func() {
		manager := NewManager()
		manager.NotifyBackup(ctx, 1, true, "done")
	})
})

var _ = Describe("Webhook sink", func() {
	It("posts the message as JSON", func() {
		var received map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
			body, err := io.ReadAll(r.Body)
			Expect(err).ToNot(HaveOccurred())
			Expect(json.Unmarshal(body, &received)).To(Succeed())
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		sink := NewWebhook(server.URL)
		err := sink.Notify(context.Background(), Message{Title: "t", Body: "b"})
		Expect(err).ToNot(HaveOccurred())
		Expect(received).To(HaveKeyWithValue("title", "t"))
		Expect(received).To(HaveKeyWithValue("message", "b"))
	})

	It("reports non-2xx responses as errors", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		sink := NewWebhook(server.URL)
		err := sink.Notify(context.Background(), Message{Title: "t", Body: "b"})
		Expect(err).To(HaveOccurred())
	})

	It("opens the breaker after repeated failures", func() {
		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		sink := NewWebhook(server.URL)
		for i := 0; i < 10; i++ {
			Expect(sink.Notify(context.Background(), Message{Title: "t", Body: "b"})).
				To(HaveOccurred())
		}

		// once open, calls fail fast without touching the endpoint
		Expect(hits.Load()).To(BeNumerically("<", 10))
	})
})

var _ = Describe("Slack sink", func() {
	It("posts a block message to the webhook", func() {
		var payload map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			body, err := io.ReadAll(r.Body)
			Expect(err).ToNot(HaveOccurred())
			Expect(json.Unmarshal(body, &payload)).To(Succeed())
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		sink := NewSlack(server.URL)
		err := sink.Notify(context.Background(), Message{
			Title: "DB Backup Notification",
			Body:  "✅ *Backup Success*",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(HaveKeyWithValue("text", "DB Backup Notification"))
		Expect(payload).To(HaveKey("blocks"))
	})
})
