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

// Package metrics instruments the control plane for Prometheus
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/polybackup/polybackup/pkg/hub"
	"github.com/polybackup/polybackup/pkg/workerpool"
)

// PrometheusNamespace prefixes every metric exposed by the control plane
const PrometheusNamespace = "polybackup"

// Metrics holds the control plane collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	BackupsTotal   *prometheus.CounterVec
	RestoresTotal  *prometheus.CounterVec
	BackupDuration prometheus.Histogram
	BackupSize     prometheus.Histogram
	ProbesTotal    *prometheus.CounterVec
}

// New builds the collectors and registers them, together with the
// standard Go collector
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BackupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "backups_total",
			Help:      "Total number of terminated backup jobs by result.",
		}, []string{"result"}),
		RestoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "restores_total",
			Help:      "Total number of terminated restore jobs by result.",
		}, []string{"result"}),
		BackupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: PrometheusNamespace,
			Name:      "backup_duration_seconds",
			Help:      "Wall-clock duration of completed backup jobs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 13),
		}),
		BackupSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: PrometheusNamespace,
			Name:      "backup_size_bytes",
			Help:      "Stored size of completed backups.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 10),
		}),
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "probes_total",
			Help:      "Total number of health probes by outcome.",
		}, []string{"status"}),
	}

	for _, collector := range []prometheus.Collector{
		m.BackupsTotal,
		m.RestoresTotal,
		m.BackupDuration,
		m.BackupSize,
		m.ProbesTotal,
		collectors.NewGoCollector(),
	} {
		if err := m.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("while registering control plane collectors: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the registry for the metrics endpoint
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBackup counts one terminated backup job
func (m *Metrics) RecordBackup(result string, duration time.Duration, sizeBytes int64) {
	m.BackupsTotal.WithLabelValues(result).Inc()
	if result == "completed" {
		m.BackupDuration.Observe(duration.Seconds())
		m.BackupSize.Observe(float64(sizeBytes))
	}
}

// RecordRestore counts one terminated restore job
func (m *Metrics) RecordRestore(result string) {
	m.RestoresTotal.WithLabelValues(result).Inc()
}

// RecordProbe counts one health probe outcome
func (m *Metrics) RecordProbe(status string) {
	m.ProbesTotal.WithLabelValues(status).Inc()
}

// ObservePool exposes the live worker pool gauges
func (m *Metrics) ObservePool(pool *workerpool.Pool) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: PrometheusNamespace,
			Subsystem: "worker_pool",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the worker pool queue.",
		}, func() float64 { return float64(pool.QueueDepth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: PrometheusNamespace,
			Subsystem: "worker_pool",
			Name:      "in_flight",
			Help:      "Jobs currently being executed.",
		}, func() float64 { return float64(pool.InFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: PrometheusNamespace,
			Subsystem: "worker_pool",
			Name:      "size",
			Help:      "Number of workers in the pool.",
		}, func() float64 { return float64(pool.Size()) }),
	}
	for _, gauge := range gauges {
		if err := m.registry.Register(gauge); err != nil {
			return fmt.Errorf("while registering worker pool gauges: %w", err)
		}
	}
	return nil
}

// ObserveHub exposes the live subscriber gauges, one per channel
func (m *Metrics) ObserveHub(eventHub *hub.Hub) error {
	for _, channel := range []hub.Channel{
		hub.ChannelAll, hub.ChannelBackups, hub.ChannelServers, hub.ChannelLogs,
	} {
		channel := channel
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   PrometheusNamespace,
			Subsystem:   "hub",
			Name:        "subscribers",
			Help:        "Connected subscribers per channel.",
			ConstLabels: prometheus.Labels{"channel": string(channel)},
		}, func() float64 { return float64(eventHub.SubscriberCount(channel)) })
		if err := m.registry.Register(gauge); err != nil {
			return fmt.Errorf("while registering hub gauges: %w", err)
		}
	}
	return nil
}
