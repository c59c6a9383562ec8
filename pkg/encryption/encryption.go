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

// Package encryption implements the at-rest protection applied to backup
// artifacts and credential envelopes: AES-256-GCM with keys derived from an
// operator passphrase via PBKDF2
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyLength is the length in bytes of the AES-256 key material
	KeyLength = 32

	// KeyIterations is the PBKDF2 iteration count used when deriving
	// a key from a passphrase
	KeyIterations = 100000
)

// DeriveKey turns an operator passphrase into a 32-byte AES key. A
// passphrase that is already exactly 32 bytes long is used verbatim,
// everything else goes through PBKDF2-HMAC-SHA256 with the given salt.
func DeriveKey(passphrase, salt string) []byte {
	if len(passphrase) == KeyLength {
		return []byte(passphrase)
	}

	return pbkdf2.Key([]byte(passphrase), []byte(salt), KeyIterations, KeyLength, sha256.New)
}

// Encrypt seals a plaintext with AES-256-GCM. The random nonce is
// prepended to the returned ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("while generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt, verifying its
// authentication tag. A wrong key or a tampered payload results in an error.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}

	nonce := ciphertext[:aead.NonceSize()]
	payload := ciphertext[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("while decrypting payload: %w", err)
	}

	return plaintext, nil
}

// EncryptFile seals the content of sourcePath into destinationPath
func EncryptFile(sourcePath, destinationPath string, key []byte) error {
	plaintext, err := os.ReadFile(sourcePath) // #nosec
	if err != nil {
		return fmt.Errorf("while reading %s: %w", sourcePath, err)
	}

	ciphertext, err := Encrypt(plaintext, key)
	if err != nil {
		return err
	}

	if err := os.WriteFile(destinationPath, ciphertext, 0o600); err != nil {
		return fmt.Errorf("while writing %s: %w", destinationPath, err)
	}

	return nil
}

// DecryptFile opens the content of sourcePath into destinationPath
func DecryptFile(sourcePath, destinationPath string, key []byte) error {
	ciphertext, err := os.ReadFile(sourcePath) // #nosec
	if err != nil {
		return fmt.Errorf("while reading %s: %w", sourcePath, err)
	}

	plaintext, err := Decrypt(ciphertext, key)
	if err != nil {
		return err
	}

	if err := os.WriteFile(destinationPath, plaintext, 0o600); err != nil {
		return fmt.Errorf("while writing %s: %w", destinationPath, err)
	}

	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("invalid key length %d, expected %d bytes", len(key), KeyLength)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("while creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("while creating GCM: %w", err)
	}

	return aead, nil
}
