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

// Package fileutils contains the utility functions about
// file management
package fileutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileExists check if a file exists, and return an error otherwise
func FileExists(fileName string) (bool, error) {
	if _, err := os.Stat(fileName); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FileSize returns the size in bytes of the given file
func FileSize(fileName string) (int64, error) {
	info, err := os.Stat(fileName)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// EnsureDirectoryExists creates the directory and its missing parents
// if it is not already present
func EnsureDirectoryExists(destinationDir string) error {
	if _, err := os.Stat(destinationDir); os.IsNotExist(err) {
		return os.MkdirAll(destinationDir, 0o700)
	} else if err != nil {
		return err
	}
	return nil
}

// CopyFile copy a file from a location to another one, flushing the
// destination before returning
func CopyFile(source, destination string) (err error) {
	if err = EnsureDirectoryExists(filepath.Dir(destination)); err != nil {
		return err
	}

	var in *os.File
	if in, err = os.Open(source); err != nil { // #nosec
		return err
	}
	defer func() {
		closeError := in.Close()
		if err == nil && closeError != nil {
			err = closeError
		}
	}()

	var out *os.File
	if out, err = os.Create(destination); err != nil {
		return err
	}
	defer func() {
		closeError := out.Close()
		if err == nil && closeError != nil {
			err = closeError
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}

	return out.Sync()
}

// RemoveFile removes a file, and is a no-op when the file is
// already gone
func RemoveFile(fileName string) error {
	err := os.Remove(fileName)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// WriteFileSync replaces the contents of a certain file with the given
// bytes, flushing to stable storage before returning
func WriteFileSync(fileName string, contents []byte) (err error) {
	var out *os.File
	if out, err = os.Create(fileName); err != nil {
		return err
	}
	defer func() {
		closeError := out.Close()
		if err == nil && closeError != nil {
			err = closeError
		}
	}()

	if _, err = out.Write(contents); err != nil {
		return err
	}

	return out.Sync()
}

// ReadFile reads the source file and output the content as bytes
func ReadFile(fileName string) ([]byte, error) {
	exists, err := FileExists(fileName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("file %q does not exist", fileName)
	}

	return os.ReadFile(fileName) // #nosec
}
