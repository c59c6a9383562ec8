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

package encryption

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChecksumPrefix identifies the digest algorithm inside a stored checksum
const ChecksumPrefix = "sha256:"

const checksumChunkSize = 4096

// ChecksumFile digests a file in fixed-size chunks and returns the
// algorithm-prefixed hex checksum, e.g. "sha256:9f86d0…"
func ChecksumFile(path string) (string, error) {
	file, err := os.Open(path) // #nosec
	if err != nil {
		return "", fmt.Errorf("while opening %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	digest := sha256.New()
	buffer := make([]byte, checksumChunkSize)
	for {
		read, err := file.Read(buffer)
		if read > 0 {
			digest.Write(buffer[:read])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("while reading %s: %w", path, err)
		}
	}

	return ChecksumPrefix + hex.EncodeToString(digest.Sum(nil)), nil
}

// VerifyChecksum recomputes the digest of a file and compares it with the
// expected algorithm-prefixed value
func VerifyChecksum(path, expected string) (bool, error) {
	if !strings.HasPrefix(expected, ChecksumPrefix) {
		return false, fmt.Errorf("unsupported checksum format: %q", expected)
	}

	actual, err := ChecksumFile(path)
	if err != nil {
		return false, err
	}

	return actual == expected, nil
}
