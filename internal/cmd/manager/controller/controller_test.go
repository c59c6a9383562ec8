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

package controller

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Control plane startup", func() {
	It("refuses to start without a catalog DSN", func() {
		GinkgoT().Setenv("CATALOG_DSN", "")

		err := RunController(context.Background())
		Expect(err).To(MatchError(ContainSubstring("catalog DSN")))
	})

	It("refuses to start without the encryption passphrase", func() {
		GinkgoT().Setenv("CATALOG_DSN", "postgres://postgres@localhost:5432/polybackup")
		GinkgoT().Setenv("BACKUP_ENCRYPTION_KEY", "")

		err := RunController(context.Background())
		Expect(err).To(MatchError(ContainSubstring("encryption passphrase")))
	})
})
