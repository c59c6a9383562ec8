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

package fileutils

import (
	"os"
	"path"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("File writing functions", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	It("writes a new file and flushes it", func() {
		fileName := path.Join(tempDir, "dump.dat")
		err := WriteFileSync(fileName, []byte("this is a dump"))
		Expect(err).ToNot(HaveOccurred())

		exists, err := FileExists(fileName)
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeTrue())
	})

	It("reads back what it wrote", func() {
		fileName := path.Join(tempDir, "dump.dat")
		Expect(WriteFileSync(fileName, []byte("payload"))).To(Succeed())

		content, err := ReadFile(fileName)
		Expect(err).ToNot(HaveOccurred())
		Expect(content).To(Equal([]byte("payload")))
	})

	It("errors when reading a missing file", func() {
		_, err := ReadFile(path.Join(tempDir, "missing.dat"))
		Expect(err).To(HaveOccurred())
	})

	It("reports the size of a file", func() {
		fileName := path.Join(tempDir, "sized.dat")
		Expect(WriteFileSync(fileName, []byte("12345"))).To(Succeed())

		size, err := FileSize(fileName)
		Expect(err).ToNot(HaveOccurred())
		Expect(size).To(Equal(int64(5)))
	})
})

var _ = Describe("File copying functions", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	It("copies a file to a new location", func() {
		source := path.Join(tempDir, "source.dat")
		destination := path.Join(tempDir, "dest.dat")
		Expect(WriteFileSync(source, []byte("bytes to move"))).To(Succeed())

		Expect(CopyFile(source, destination)).To(Succeed())

		content, err := ReadFile(destination)
		Expect(err).ToNot(HaveOccurred())
		Expect(content).To(Equal([]byte("bytes to move")))
	})

	It("creates the destination directory when missing", func() {
		source := path.Join(tempDir, "source.dat")
		destination := path.Join(tempDir, "nested", "deeper", "dest.dat")
		Expect(WriteFileSync(source, []byte("x"))).To(Succeed())

		Expect(CopyFile(source, destination)).To(Succeed())

		exists, err := FileExists(destination)
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeTrue())
	})

	It("errors when the source is missing", func() {
		err := CopyFile(path.Join(tempDir, "nope.dat"), path.Join(tempDir, "dest.dat"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("File removal functions", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	It("removes an existing file", func() {
		fileName := path.Join(tempDir, "victim.dat")
		Expect(WriteFileSync(fileName, []byte("x"))).To(Succeed())

		Expect(RemoveFile(fileName)).To(Succeed())

		exists, err := FileExists(fileName)
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeFalse())
	})

	It("is a no-op on a missing file", func() {
		Expect(RemoveFile(path.Join(tempDir, "already-gone.dat"))).To(Succeed())
	})
})

var _ = Describe("Directory functions", func() {
	It("creates nested directories", func() {
		tempDir := GinkgoT().TempDir()
		target := path.Join(tempDir, "a", "b", "c")

		Expect(EnsureDirectoryExists(target)).To(Succeed())

		info, err := os.Stat(target)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("is a no-op when the directory is already there", func() {
		tempDir := GinkgoT().TempDir()
		Expect(EnsureDirectoryExists(tempDir)).To(Succeed())
	})
})
