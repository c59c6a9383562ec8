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

package hub

import (
	"encoding/json"
	"time"
)

// EventType tags the meaning of an event
type EventType string

// The event types flowing through the hub
const (
	EventBackupProgress  EventType = "backup_progress"
	EventRestoreProgress EventType = "restore_progress"
	EventServerHealth    EventType = "server_health"
	EventLog             EventType = "log"
	EventNotification    EventType = "notification"
	EventTaskUpdate      EventType = "task_update"
	EventCommandOutput   EventType = "command_output"
)

// Event is one broadcast record. Its JSON form is a flat object carrying
// the type, the payload fields and an ISO-8601 UTC timestamp.
type Event struct {
	Type      EventType
	Payload   map[string]interface{}
	Timestamp time.Time
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, payload map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// MarshalJSON flattens the payload fields beside type and timestamp
func (e Event) MarshalJSON() ([]byte, error) {
	envelope := make(map[string]interface{}, len(e.Payload)+2)
	for key, value := range e.Payload {
		envelope[key] = value
	}
	envelope["type"] = e.Type
	envelope["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	return json.Marshal(envelope)
}

// SendBackupProgress broadcasts a backup step to the backups channel
func (h *Hub) SendBackupProgress(backupID int64, progress int, status, message string) {
	h.Broadcast(NewEvent(EventBackupProgress, map[string]interface{}{
		"backup_id": backupID,
		"progress":  progress,
		"status":    status,
		"message":   message,
	}), ChannelBackups)
}

// SendRestoreProgress broadcasts a restore step to the backups channel
func (h *Hub) SendRestoreProgress(backupID int64, progress int, status, message string) {
	h.Broadcast(NewEvent(EventRestoreProgress, map[string]interface{}{
		"backup_id": backupID,
		"progress":  progress,
		"status":    status,
		"message":   message,
	}), ChannelBackups)
}

// SendServerHealth broadcasts a probe outcome to the servers channel
func (h *Hub) SendServerHealth(serverID int64, status string, lastHeartbeat time.Time) {
	h.Broadcast(NewEvent(EventServerHealth, map[string]interface{}{
		"server_id":      serverID,
		"health_status":  status,
		"last_heartbeat": lastHeartbeat.UTC().Format(time.RFC3339),
	}), ChannelServers)
}

// SendLogMessage broadcasts a log line to the logs channel
func (h *Hub) SendLogMessage(level, message, source string) {
	h.Broadcast(NewEvent(EventLog, map[string]interface{}{
		"level":   level,
		"message": message,
		"source":  source,
	}), ChannelLogs)
}

// SendNotification broadcasts a notification, to one user when userID is
// not zero and to the all channel otherwise
func (h *Hub) SendNotification(level, title, message string, userID int64) {
	event := NewEvent(EventNotification, map[string]interface{}{
		"level":   level,
		"title":   title,
		"message": message,
	})
	if userID != 0 {
		h.BroadcastToUser(event, userID)
		return
	}
	h.Broadcast(event, ChannelAll)
}

// SendTaskUpdate broadcasts a worker task transition to the all channel
func (h *Hub) SendTaskUpdate(taskID, status string, result map[string]interface{}) {
	h.Broadcast(NewEvent(EventTaskUpdate, map[string]interface{}{
		"task_id": taskID,
		"status":  status,
		"result":  result,
	}), ChannelAll)
}

// SendCommandOutput streams remote command output to the logs channel
func (h *Hub) SendCommandOutput(executionID int64, output, stream string) {
	h.Broadcast(NewEvent(EventCommandOutput, map[string]interface{}{
		"execution_id": executionID,
		"output":       output,
		"stream":       stream,
	}), ChannelLogs)
}
