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

// Package notification delivers operator alerts over Slack, plain
// webhooks and SMTP. Delivery is fire and forget: a dead sink is logged
// and never fails the operation that raised the alert.
package notification

import (
	"context"
	"fmt"

	"github.com/polybackup/polybackup/internal/configuration"
	"github.com/polybackup/polybackup/pkg/management/log"
)

// Message is one notification ready for delivery
type Message struct {
	Title string
	Body  string
}

// Sink delivers messages to one destination
type Sink interface {
	// Name identifies the sink in logs
	Name() string

	// Notify delivers one message
	Notify(ctx context.Context, message Message) error
}

// Manager fans messages out to every configured sink
type Manager struct {
	sinks []Sink
}

// NewManager creates a manager over the given sinks
func NewManager(sinks ...Sink) *Manager {
	return &Manager{sinks: sinks}
}

// NewFromConfiguration builds a manager with every sink the configuration
// enables. A configuration with no sink yields a silent manager.
func NewFromConfiguration(config *configuration.Data) *Manager {
	var sinks []Sink
	if config.SlackWebhookURL != "" {
		sinks = append(sinks, NewSlack(config.SlackWebhookURL))
	}
	if config.NotifyWebhookURL != "" {
		sinks = append(sinks, NewWebhook(config.NotifyWebhookURL))
	}
	if config.SMTPHost != "" && len(config.SMTPTo) > 0 {
		sinks = append(sinks, NewSMTP(config.SMTPHost, config.SMTPPort,
			config.SMTPUser, config.SMTPPassword, config.SMTPFrom, config.SMTPTo))
	}
	return NewManager(sinks...)
}

// Broadcast delivers the message to every sink, logging failures
func (m *Manager) Broadcast(ctx context.Context, message Message) {
	contextLogger := log.FromContext(ctx)
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, message); err != nil {
			contextLogger.Error(err, "Unable to deliver notification",
				"sink", sink.Name(),
				"title", message.Title)
		}
	}
}

// NotifyBackup sends the backup completion envelope
func (m *Manager) NotifyBackup(ctx context.Context, backupID int64, success bool, message string) {
	emoji, status := "✅", "Success"
	if !success {
		emoji, status = "❌", "Failed"
	}
	m.Broadcast(ctx, Message{
		Title: "DB Backup Notification",
		Body: fmt.Sprintf("%s *Backup %s*\n\n%s\n\nBackup ID: %d",
			emoji, status, message, backupID),
	})
}

// NotifyRestore sends the restore completion envelope
func (m *Manager) NotifyRestore(ctx context.Context, backupID int64, success bool, message string) {
	emoji, status := "✅", "Success"
	if !success {
		emoji, status = "❌", "Failed"
	}
	m.Broadcast(ctx, Message{
		Title: "DB Restore Notification",
		Body: fmt.Sprintf("%s *Restore %s*\n\n%s\n\nBackup ID: %d",
			emoji, status, message, backupID),
	})
}

// NotifyServerHealth sends the health transition envelope
func (m *Manager) NotifyServerHealth(ctx context.Context, serverName, status, message string) {
	m.Broadcast(ctx, Message{
		Title: "Server Health Alert",
		Body: fmt.Sprintf("⚠️ *Server Health Alert*\n\nServer: %s\nStatus: %s\n\n%s",
			serverName, status, message),
	})
}
