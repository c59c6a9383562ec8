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

// Package hub broadcasts progress events to the subscribers of the
// control plane, grouped by channel tag and by user.
//
// Delivery is best-effort: sends never block the producer, and a
// subscriber whose buffer is full is considered faulty and swept out of
// the membership maps. The websocket edge drains each subscriber into its
// socket.
package hub

import (
	"sync"

	"github.com/polybackup/polybackup/pkg/management/log"
)

// Channel is a subscription tag
type Channel string

// The channels a subscriber can join
const (
	ChannelAll     Channel = "all"
	ChannelBackups Channel = "backups"
	ChannelServers Channel = "servers"
	ChannelLogs    Channel = "logs"
)

// defaultSubscriberBuffer is the number of events a subscriber may lag
// behind before being considered faulty
const defaultSubscriberBuffer = 64

// Subscriber is one consumer of broadcast events. Events are delivered
// through a buffered channel; a full buffer fails the delivery.
type Subscriber struct {
	mu     sync.Mutex
	closed bool
	events chan Event
}

// NewSubscriber creates a subscriber with the default buffer size
func NewSubscriber() *Subscriber {
	return NewSubscriberWithBuffer(defaultSubscriberBuffer)
}

// NewSubscriberWithBuffer creates a subscriber that may lag up to the
// given number of events
func NewSubscriberWithBuffer(buffer int) *Subscriber {
	return &Subscriber{events: make(chan Event, buffer)}
}

// Events is the stream the consumer drains. It is closed when the
// subscriber is swept or explicitly closed.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// TrySend offers an event without blocking. It reports false when the
// subscriber is closed or its buffer is full.
func (s *Subscriber) TrySend(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// Close ends the event stream. Closing twice is harmless.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Hub is the process-wide fan-out bus
type Hub struct {
	mu       sync.Mutex
	channels map[Channel]map[*Subscriber]struct{}
	users    map[int64]map[*Subscriber]struct{}
}

// New creates a hub with the standard channel set
func New() *Hub {
	return &Hub{
		channels: map[Channel]map[*Subscriber]struct{}{
			ChannelAll:     {},
			ChannelBackups: {},
			ChannelServers: {},
			ChannelLogs:    {},
		},
		users: make(map[int64]map[*Subscriber]struct{}),
	}
}

// Connect adds a subscriber to a channel and, when userID is not zero, to
// the per-user set. Unknown channels are ignored.
func (h *Hub) Connect(subscriber *Subscriber, channel Channel, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.channels[channel]; ok {
		members[subscriber] = struct{}{}
	} else {
		log.Debug("Ignoring subscription to unknown channel", "channel", channel)
	}

	if userID != 0 {
		if h.users[userID] == nil {
			h.users[userID] = make(map[*Subscriber]struct{})
		}
		h.users[userID][subscriber] = struct{}{}
	}
}

// Disconnect removes a subscriber from a channel and, when userID is not
// zero, from the per-user set. Disconnecting twice is harmless.
func (h *Hub) Disconnect(subscriber *Subscriber, channel Channel, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectLocked(subscriber, channel, userID)
}

func (h *Hub) disconnectLocked(subscriber *Subscriber, channel Channel, userID int64) {
	if members, ok := h.channels[channel]; ok {
		delete(members, subscriber)
	}

	if userID != 0 {
		if members, ok := h.users[userID]; ok {
			delete(members, subscriber)
			if len(members) == 0 {
				delete(h.users, userID)
			}
		}
	}
}

// Broadcast delivers an event to every subscriber of a channel. Failed
// deliveries mark their subscriber faulty; the sweep after the iteration
// removes and closes them.
func (h *Hub) Broadcast(event Event, channel Channel) {
	h.mu.Lock()
	members, ok := h.channels[channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	snapshot := make([]*Subscriber, 0, len(members))
	for subscriber := range members {
		snapshot = append(snapshot, subscriber)
	}
	h.mu.Unlock()

	var faulty []*Subscriber
	for _, subscriber := range snapshot {
		if !subscriber.TrySend(event) {
			faulty = append(faulty, subscriber)
		}
	}

	if len(faulty) == 0 {
		return
	}

	h.mu.Lock()
	for _, subscriber := range faulty {
		h.disconnectLocked(subscriber, channel, 0)
	}
	h.mu.Unlock()

	for _, subscriber := range faulty {
		subscriber.Close()
	}
	log.Debug("Swept subscribers that could not keep up",
		"channel", channel, "count", len(faulty))
}

// BroadcastToUser delivers an event to every subscriber of one user
func (h *Hub) BroadcastToUser(event Event, userID int64) {
	h.mu.Lock()
	members, ok := h.users[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	snapshot := make([]*Subscriber, 0, len(members))
	for subscriber := range members {
		snapshot = append(snapshot, subscriber)
	}
	h.mu.Unlock()

	var faulty []*Subscriber
	for _, subscriber := range snapshot {
		if !subscriber.TrySend(event) {
			faulty = append(faulty, subscriber)
		}
	}

	if len(faulty) == 0 {
		return
	}

	h.mu.Lock()
	for _, subscriber := range faulty {
		h.disconnectLocked(subscriber, "", userID)
	}
	h.mu.Unlock()

	for _, subscriber := range faulty {
		subscriber.Close()
	}
}

// SubscriberCount reports the size of a channel's membership
func (h *Hub) SubscriberCount(channel Channel) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// Close sweeps every subscriber, ending all event streams
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Subscriber
	seen := make(map[*Subscriber]struct{})
	for channel, members := range h.channels {
		for subscriber := range members {
			if _, ok := seen[subscriber]; !ok {
				seen[subscriber] = struct{}{}
				all = append(all, subscriber)
			}
		}
		h.channels[channel] = map[*Subscriber]struct{}{}
	}
	for userID, members := range h.users {
		for subscriber := range members {
			if _, ok := seen[subscriber]; !ok {
				seen[subscriber] = struct{}{}
				all = append(all, subscriber)
			}
		}
		delete(h.users, userID)
	}
	h.mu.Unlock()

	for _, subscriber := range all {
		subscriber.Close()
	}
}
