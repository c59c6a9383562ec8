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
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SMTPSink mails messages as plain text
type SMTPSink struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// NewSMTP creates an SMTP sink. An empty username disables authentication.
func NewSMTP(host string, port int, username, password, from string, to []string) *SMTPSink {
	return &SMTPSink{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

// Name identifies the sink in logs
func (s *SMTPSink) Name() string {
	return "smtp"
}

// Notify mails one message to the configured recipients
func (s *SMTPSink) Notify(_ context.Context, message Message) error {
	var mail bytes.Buffer
	fmt.Fprintf(&mail, "From: %s\r\n", s.from)
	fmt.Fprintf(&mail, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&mail, "Subject: %s\r\n", message.Title)
	mail.WriteString("MIME-Version: 1.0\r\n")
	mail.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	mail.WriteString("\r\n")
	mail.WriteString(message.Body)
	mail.WriteString("\r\n")

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	address := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	if err := smtp.SendMail(address, auth, s.from, s.to, mail.Bytes()); err != nil {
		return fmt.Errorf("while sending the notification mail: %w", err)
	}
	return nil
}
