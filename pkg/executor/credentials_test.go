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

package executor

import (
	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/encryption"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Credentials envelope", func() {
	key := encryption.DeriveKey("an operator passphrase", "dbbackup_platform")

	It("round-trips a credentials document", func() {
		original := &Credentials{
			Username:   "postgres",
			Password:   "s3cret",
			DBUsername: "app",
			DBPassword: "app-pass",
			DBPort:     5432,
		}

		envelope, err := EncryptCredentials(original, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(envelope).NotTo(ContainSubstring("s3cret"))

		decrypted, err := DecryptCredentials(envelope, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(decrypted).To(Equal(original))
	})

	It("refuses an empty envelope", func() {
		_, err := DecryptCredentials(nil, key)
		Expect(err).To(HaveOccurred())
	})

	It("refuses a tampered envelope", func() {
		envelope, err := EncryptCredentials(&Credentials{Username: "root"}, key)
		Expect(err).NotTo(HaveOccurred())

		envelope[len(envelope)-1] ^= 0xff
		_, err = DecryptCredentials(envelope, key)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Executor factory", func() {
	key := encryption.DeriveKey("an operator passphrase", "dbbackup_platform")

	newServer := func(transport catalog.Transport, credentials *Credentials) *catalog.Server {
		envelope, err := EncryptCredentials(credentials, key)
		Expect(err).NotTo(HaveOccurred())
		return &catalog.Server{
			Name:           "db-01",
			Host:           "db-01.internal.example.com",
			Transport:      transport,
			CredentialsEnc: envelope,
		}
	}

	It("creates a shell executor without connecting", func() {
		server := newServer(catalog.TransportShell, &Credentials{
			Username: "postgres",
			Password: "s3cret",
		})

		exec, err := NewForServer(server, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(exec).To(BeAssignableToTypeOf(&ShellExecutor{}))
		Expect(exec.Close()).To(Succeed())
	})

	It("rejects an unknown transport", func() {
		server := newServer(catalog.Transport("carrier-pigeon"), &Credentials{})
		_, err := NewForServer(server, key)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown transport"))
	})

	It("rejects a malformed server host", func() {
		server := newServer(catalog.TransportShell, &Credentials{Username: "postgres"})
		server.Host = "bad host"
		_, err := NewForServer(server, key)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a container transport without a container name", func() {
		server := newServer(catalog.TransportContainer, &Credentials{})
		_, err := NewForServer(server, key)
		Expect(err).To(HaveOccurred())
	})

	It("surfaces envelope decryption failures", func() {
		server := newServer(catalog.TransportShell, &Credentials{Username: "postgres"})
		wrongKey := encryption.DeriveKey("another passphrase", "dbbackup_platform")
		_, err := NewForServer(server, wrongKey)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("db-01"))
	})
})
