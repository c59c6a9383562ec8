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

// Package compression implements the streaming codecs the pipeline applies
// to backup artifacts before encryption and upload
package compression

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/polybackup/polybackup/pkg/catalog"
)

const gzipLevel = 6

// Extension returns the file name suffix conventionally used for artifacts
// compressed with the given codec
func Extension(algo catalog.CompressionAlgo) string {
	switch algo {
	case catalog.CompressionGzip:
		return ".gz"
	case catalog.CompressionZstd:
		return ".zst"
	case catalog.CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Compress writes the content of sourcePath into destinationPath through the
// requested codec. The "none" codec copies the content verbatim.
func Compress(sourcePath, destinationPath string, algo catalog.CompressionAlgo) error {
	return transform(sourcePath, destinationPath, algo, func(dst io.Writer, algo catalog.CompressionAlgo) (io.WriteCloser, error) {
		switch algo {
		case catalog.CompressionGzip:
			return gzip.NewWriterLevel(dst, gzipLevel)
		case catalog.CompressionZstd:
			return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
		case catalog.CompressionLZ4:
			return lz4.NewWriter(dst), nil
		default:
			return nil, fmt.Errorf("unsupported compression algorithm: %q", algo)
		}
	})
}

// Decompress writes the content of sourcePath into destinationPath undoing
// the requested codec. The "none" codec copies the content verbatim.
func Decompress(sourcePath, destinationPath string, algo catalog.CompressionAlgo) error {
	source, err := os.Open(sourcePath) // #nosec
	if err != nil {
		return fmt.Errorf("while opening %s: %w", sourcePath, err)
	}
	defer func() {
		_ = source.Close()
	}()

	destination, err := os.OpenFile(destinationPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec
	if err != nil {
		return fmt.Errorf("while creating %s: %w", destinationPath, err)
	}
	defer func() {
		_ = destination.Close()
	}()

	var reader io.Reader
	switch algo {
	case catalog.CompressionNone, "":
		reader = source
	case catalog.CompressionGzip:
		gzipReader, err := gzip.NewReader(source)
		if err != nil {
			return fmt.Errorf("while opening gzip stream: %w", err)
		}
		defer func() {
			_ = gzipReader.Close()
		}()
		reader = gzipReader
	case catalog.CompressionZstd:
		zstdReader, err := zstd.NewReader(source)
		if err != nil {
			return fmt.Errorf("while opening zstd stream: %w", err)
		}
		defer zstdReader.Close()
		reader = zstdReader
	case catalog.CompressionLZ4:
		reader = lz4.NewReader(source)
	default:
		return fmt.Errorf("unsupported compression algorithm: %q", algo)
	}

	if _, err := io.Copy(destination, reader); err != nil {
		return fmt.Errorf("while decompressing %s: %w", sourcePath, err)
	}

	if err := destination.Sync(); err != nil {
		return fmt.Errorf("while flushing %s: %w", destinationPath, err)
	}

	return nil
}

type writerBuilder func(dst io.Writer, algo catalog.CompressionAlgo) (io.WriteCloser, error)

func transform(sourcePath, destinationPath string, algo catalog.CompressionAlgo, build writerBuilder) error {
	source, err := os.Open(sourcePath) // #nosec
	if err != nil {
		return fmt.Errorf("while opening %s: %w", sourcePath, err)
	}
	defer func() {
		_ = source.Close()
	}()

	destination, err := os.OpenFile(destinationPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec
	if err != nil {
		return fmt.Errorf("while creating %s: %w", destinationPath, err)
	}
	defer func() {
		_ = destination.Close()
	}()

	if algo == catalog.CompressionNone || algo == "" {
		if _, err := io.Copy(destination, source); err != nil {
			return fmt.Errorf("while copying %s: %w", sourcePath, err)
		}
		return destination.Sync()
	}

	writer, err := build(destination, algo)
	if err != nil {
		return err
	}

	if _, err := io.Copy(writer, source); err != nil {
		_ = writer.Close()
		return fmt.Errorf("while compressing %s: %w", sourcePath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("while finishing compression of %s: %w", sourcePath, err)
	}

	return destination.Sync()
}
