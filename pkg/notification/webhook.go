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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// WebhookSink posts messages as JSON to a generic HTTP endpoint. A
// circuit breaker keeps a dead endpoint from slowing every alert down.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWebhook creates a webhook sink for the given endpoint
func NewWebhook(url string) *WebhookSink {
	return &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "notification-webhook",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
		}),
	}
}

// Name identifies the sink in logs
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Notify posts one message to the endpoint
func (s *WebhookSink) Notify(ctx context.Context, message Message) error {
	payload, err := json.Marshal(map[string]string{
		"title":   message.Title,
		"message": message.Body,
	})
	if err != nil {
		return fmt.Errorf("while encoding the webhook payload: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url,
			bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		request.Header.Set("Content-Type", "application/json")

		response, err := s.client.Do(request)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = response.Body.Close()
		}()

		if response.StatusCode < 200 || response.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %q", response.Status)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("while posting to the notification webhook: %w", err)
	}
	return nil
}
