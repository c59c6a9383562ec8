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
	"fmt"

	"github.com/slack-go/slack"
)

// SlackSink posts messages to a Slack incoming webhook as a single
// markdown section block
type SlackSink struct {
	webhookURL string
}

// NewSlack creates a Slack sink over an incoming webhook URL
func NewSlack(webhookURL string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL}
}

// Name identifies the sink in logs
func (s *SlackSink) Name() string {
	return "slack"
}

// Notify posts one message to the webhook
func (s *SlackSink) Notify(ctx context.Context, message Message) error {
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, message.Body, false, false),
		nil, nil)

	err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{
		Text:   message.Title,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{section}},
	})
	if err != nil {
		return fmt.Errorf("while posting to the Slack webhook: %w", err)
	}
	return nil
}
