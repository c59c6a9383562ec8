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

// Package health probes the reachability of every active server on a
// fixed interval. A probe that runs and fails marks the server unhealthy;
// a transport that cannot carry the probe at all marks it unknown.
// Transitions are edge-triggered: operators hear about a change once,
// not on every tick.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/executor"
	"github.com/polybackup/polybackup/pkg/hub"
	"github.com/polybackup/polybackup/pkg/management/log"
)

// probeCommand is what the prober runs on every server. It goes through
// the same validation gate as any other remote command.
const probeCommand = "echo ping"

// defaultProbeTimeout bounds one probe so a wedged server cannot stall
// the whole tick
const defaultProbeTimeout = 10 * time.Second

// Notifier carries health transition alerts. The notification manager
// implements it.
type Notifier interface {
	NotifyServerHealth(ctx context.Context, serverName, status, message string)
}

// ProbeRecorder counts probe outcomes. The metrics package implements it.
type ProbeRecorder interface {
	RecordProbe(status string)
}

// Prober checks every active server on a fixed interval
type Prober struct {
	store    catalog.Store
	hub      *hub.Hub
	notifier Notifier
	key      []byte
	interval time.Duration

	probeTimeout time.Duration
	recorder     ProbeRecorder
	newExecutor  func(server *catalog.Server, key []byte) (executor.Executor, error)
}

// New creates a prober. The key decrypts server credentials for the
// transports that need them.
func New(store catalog.Store, eventHub *hub.Hub, notifier Notifier, key []byte, interval time.Duration) *Prober {
	return &Prober{
		store:        store,
		hub:          eventHub,
		notifier:     notifier,
		key:          key,
		interval:     interval,
		probeTimeout: defaultProbeTimeout,
		newExecutor:  executor.NewForServer,
	}
}

// WithRecorder attaches a probe outcome recorder
func (p *Prober) WithRecorder(recorder ProbeRecorder) *Prober {
	p.recorder = recorder
	return p
}

// Start runs the probe loop until the context is cancelled
func (p *Prober) Start(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Info("Starting the health prober", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			contextLogger.Info("Stopping the health prober")
			return nil
		case <-ticker.C:
			p.Tick(ctx, time.Now())
		}
	}
}

// Tick probes every active server once
func (p *Prober) Tick(ctx context.Context, now time.Time) {
	contextLogger := log.FromContext(ctx)

	servers, err := p.store.ListActiveServers(ctx)
	if err != nil {
		contextLogger.Error(err, "Unable to list active servers, skipping probe round")
		return
	}

	for i := range servers {
		p.checkServer(ctx, &servers[i], now)
	}
}

// checkServer probes one server and records the outcome. The heartbeat
// only moves on a healthy probe, so its age tells how long a server has
// been unreachable.
func (p *Prober) checkServer(ctx context.Context, server *catalog.Server, now time.Time) {
	contextLogger := log.FromContext(ctx)

	current := p.probe(ctx, server)
	if p.recorder != nil {
		p.recorder.RecordProbe(string(current))
	}

	var heartbeat *time.Time
	if current == catalog.HealthHealthy {
		heartbeat = &now
	}

	if err := p.store.UpdateServerHealth(ctx, server.ID, current, heartbeat); err != nil {
		contextLogger.Error(err, "Unable to record probe outcome",
			"serverName", server.Name)
		return
	}

	previous := server.HealthStatus
	if current == previous {
		return
	}

	contextLogger.Info("Server health changed",
		"serverName", server.Name,
		"previous", previous,
		"current", current)

	if p.hub != nil {
		lastHeartbeat := now
		if heartbeat == nil && server.LastHeartbeat != nil {
			lastHeartbeat = *server.LastHeartbeat
		}
		p.hub.SendServerHealth(server.ID, string(current), lastHeartbeat)
	}

	if p.notifier != nil {
		p.notifier.NotifyServerHealth(ctx, server.Name, string(current),
			fmt.Sprintf("Health changed from %s to %s", previous, current))
	}
}

// probe runs the probe command over the server transport and classifies
// the outcome
func (p *Prober) probe(ctx context.Context, server *catalog.Server) catalog.HealthStatus {
	exec, err := p.newExecutor(server, p.key)
	if err != nil {
		return catalog.HealthUnknown
	}
	defer func() {
		_ = exec.Close()
	}()

	result := exec.Execute(ctx, probeCommand, p.probeTimeout)
	switch {
	case result.Success:
		return catalog.HealthHealthy
	case result.ExitCode < 0:
		// The command never reached the server
		return catalog.HealthUnknown
	default:
		return catalog.HealthUnhealthy
	}
}
