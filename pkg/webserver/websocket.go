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

package webserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/polybackup/polybackup/pkg/hub"
	"github.com/polybackup/polybackup/pkg/management/log"
)

// upgrader keeps gorilla's default origin policy: browser requests must
// come from the serving host, requests without an Origin header pass
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// controlFrame is what a client sends to manage its subscriptions
type controlFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// controlAck answers a handled control frame
type controlAck struct {
	Type    string      `json:"type"`
	Channel hub.Channel `json:"channel"`
}

// session is one websocket client: a hub subscriber plus the channels
// it joined. The reader goroutine owns the subscription set, the writer
// goroutine drains the subscriber buffer. Socket writes are serialized
// because the reader answers control frames on the same connection.
type session struct {
	eventHub   *hub.Hub
	conn       *websocket.Conn
	subscriber *hub.Subscriber
	channels   map[hub.Channel]struct{}

	writeMu sync.Mutex
}

// serveEvents upgrades the request and pumps hub events to the peer.
// Clients start on the all channel unless the query names another one,
// and rearrange their subscriptions with control frames.
func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	contextLogger := log.FromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request with an HTTP error
		contextLogger.Debug("Rejected websocket handshake", "err", err.Error())
		return
	}

	sess := &session{
		eventHub:   s.eventHub,
		conn:       conn,
		subscriber: hub.NewSubscriber(),
		channels:   make(map[hub.Channel]struct{}),
	}

	initial := hub.ChannelAll
	if requested := r.URL.Query().Get("channel"); requested != "" {
		initial = hub.Channel(requested)
	}
	sess.join(initial)

	go sess.writeLoop()
	sess.readLoop(contextLogger)
}

func (s *session) join(channel hub.Channel) {
	s.eventHub.Connect(s.subscriber, channel, 0)
	s.channels[channel] = struct{}{}
}

func (s *session) leave(channel hub.Channel) {
	s.eventHub.Disconnect(s.subscriber, channel, 0)
	delete(s.channels, channel)
}

func (s *session) write(payload interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

// readLoop consumes frames until the peer hangs up, applying
// subscription changes on the way. Anything that does not parse as a
// control frame is ignored, keepalive pings included.
func (s *session) readLoop(contextLogger log.Logger) {
	defer func() {
		for channel := range s.channels {
			s.eventHub.Disconnect(s.subscriber, channel, 0)
		}
		s.subscriber.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				contextLogger.Debug("Websocket session ended", "err", err.Error())
			}
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		s.handleControl(frame)
	}
}

// handleControl applies one subscription change and acknowledges it
func (s *session) handleControl(frame controlFrame) {
	channel := hub.ChannelAll
	if frame.Channel != "" {
		channel = hub.Channel(frame.Channel)
	}

	switch frame.Action {
	case "subscribe":
		s.join(channel)
		_ = s.write(controlAck{Type: "subscribed", Channel: channel})
	case "unsubscribe":
		s.leave(channel)
		_ = s.write(controlAck{Type: "unsubscribed", Channel: channel})
	}
}

// writeLoop drains the subscriber buffer into the socket. When the hub
// closes the subscriber, or a write fails, the connection is closed and
// the reader unwinds the session.
func (s *session) writeLoop() {
	defer func() {
		_ = s.conn.Close()
	}()

	for event := range s.subscriber.Events() {
		if err := s.write(event); err != nil {
			return
		}
	}

	// The hub hung up on us: tell the peer before closing
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
	s.writeMu.Unlock()
}
