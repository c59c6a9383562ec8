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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/polybackup/polybackup/pkg/hub"
	"github.com/polybackup/polybackup/pkg/workerpool"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// gatherValue returns the value of the first sample of the named family,
// counters and gauges alike
func gatherValue(m *Metrics, name string) float64 {
	families, err := m.registry.Gather()
	Expect(err).ToNot(HaveOccurred())
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		Expect(family.GetMetric()).ToNot(BeEmpty())
		metric := family.GetMetric()[0]
		if metric.GetGauge() != nil {
			return metric.GetGauge().GetValue()
		}
		return metric.GetCounter().GetValue()
	}
	Fail("metric family not found: " + name)
	return 0
}

func histogramSampleCount(m *Metrics, name string) uint64 {
	families, err := m.registry.Gather()
	Expect(err).ToNot(HaveOccurred())
	for _, family := range families {
		if family.GetName() == name {
			Expect(family.GetMetric()).ToNot(BeEmpty())
			return family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	Fail("metric family not found: " + name)
	return 0
}

var _ = Describe("Control plane metrics", func() {
	var m *Metrics

	BeforeEach(func() {
		var err error
		m, err = New()
		Expect(err).ToNot(HaveOccurred())
	})

	It("counts terminated backups by result", func() {
		m.RecordBackup("completed", 42*time.Second, 1<<20)
		m.RecordBackup("completed", 12*time.Second, 1<<10)
		m.RecordBackup("failed", 0, 0)

		Expect(testutil.ToFloat64(m.BackupsTotal.WithLabelValues("completed"))).To(Equal(float64(2)))
		Expect(testutil.ToFloat64(m.BackupsTotal.WithLabelValues("failed"))).To(Equal(float64(1)))
	})

	It("observes duration and size only for completed backups", func() {
		m.RecordBackup("failed", 5*time.Second, 1<<20)
		Expect(histogramSampleCount(m, "polybackup_backup_duration_seconds")).To(BeZero())

		m.RecordBackup("completed", 5*time.Second, 1<<20)
		Expect(histogramSampleCount(m, "polybackup_backup_duration_seconds")).To(Equal(uint64(1)))
		Expect(histogramSampleCount(m, "polybackup_backup_size_bytes")).To(Equal(uint64(1)))
	})

	It("counts restores and probes", func() {
		m.RecordRestore("completed")
		m.RecordProbe("healthy")
		m.RecordProbe("unhealthy")

		Expect(testutil.ToFloat64(m.RestoresTotal.WithLabelValues("completed"))).To(Equal(float64(1)))
		Expect(testutil.ToFloat64(m.ProbesTotal.WithLabelValues("healthy"))).To(Equal(float64(1)))
		Expect(testutil.ToFloat64(m.ProbesTotal.WithLabelValues("unhealthy"))).To(Equal(float64(1)))
	})

	It("exposes the worker pool gauges", func() {
		pool := workerpool.New(3)
		Expect(m.ObservePool(pool)).To(Succeed())

		Expect(gatherValue(m, "polybackup_worker_pool_size")).To(Equal(float64(3)))
		Expect(gatherValue(m, "polybackup_worker_pool_queue_depth")).To(BeZero())
		Expect(gatherValue(m, "polybackup_worker_pool_in_flight")).To(BeZero())
	})

	It("refuses to register the pool gauges twice", func() {
		pool := workerpool.New(3)
		Expect(m.ObservePool(pool)).To(Succeed())
		Expect(m.ObservePool(pool)).To(HaveOccurred())
	})

	It("exposes the live subscriber count per channel", func() {
		eventHub := hub.New()
		DeferCleanup(eventHub.Close)
		Expect(m.ObserveHub(eventHub)).To(Succeed())

		subscriber := hub.NewSubscriber()
		eventHub.Connect(subscriber, hub.ChannelBackups, 0)
		defer subscriber.Close()

		families, err := m.registry.Gather()
		Expect(err).ToNot(HaveOccurred())
		var found bool
		for _, family := range families {
			if family.GetName() != "polybackup_hub_subscribers" {
				continue
			}
			for _, metric := range family.GetMetric() {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "channel" && label.GetValue() == "backups" {
						Expect(metric.GetGauge().GetValue()).To(Equal(float64(1)))
						found = true
					}
				}
			}
		}
		Expect(found).To(BeTrue())
	})
})
