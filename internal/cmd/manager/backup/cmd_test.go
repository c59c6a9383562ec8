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

package backup

import (
	"io"

	"github.com/polybackup/polybackup/pkg/catalog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Backup command", func() {
	It("accepts every known backup kind", func() {
		for _, value := range []string{"full", "incremental", "differential"} {
			kind, err := parseKind(value)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(kind)).To(Equal(value))
		}
	})

	It("rejects an unknown backup kind", func() {
		_, err := parseKind("snapshot")
		Expect(err).To(MatchError(ContainSubstring("snapshot")))
	})

	It("accepts every known compression algorithm", func() {
		for _, value := range []string{"none", "gzip", "lz4", "zstd"} {
			algo, err := parseCompression(value)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(algo)).To(Equal(value))
		}
	})

	It("rejects an unknown compression algorithm", func() {
		_, err := parseCompression("bzip2")
		Expect(err).To(MatchError(ContainSubstring("bzip2")))
	})

	It("defaults to a full gzip backup", func() {
		cmd := NewCmd()
		Expect(cmd.Flag("kind").DefValue).To(Equal(string(catalog.BackupKindFull)))
		Expect(cmd.Flag("compression").DefValue).To(Equal(string(catalog.CompressionGzip)))
	})

	It("requires the server and database flags", func() {
		cmd := NewCmd()
		cmd.SetArgs([]string{})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)

		err := cmd.Execute()
		Expect(err).To(MatchError(ContainSubstring("required flag")))
	})

	It("refuses to run without a catalog DSN", func() {
		GinkgoT().Setenv("CATALOG_DSN", "")

		cmd := NewCmd()
		cmd.SetArgs([]string{"--server", "db-main", "--database", "orders"})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)

		err := cmd.Execute()
		Expect(err).To(MatchError(ContainSubstring("catalog DSN")))
	})
})
