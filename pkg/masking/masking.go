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

// Package masking rewrites sensitive values during cross-environment
// restores, so production data never lands readable in staging. MD5 and
// math/rand appear here as format-preserving scramblers, not as
// cryptography; confidentiality comes from the values being replaced,
// not from the digest.
package masking

import (
	"crypto/md5" // #nosec G501
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"unicode"
)

// Strategy names one way of rewriting a value
type Strategy string

// The masking strategies
const (
	StrategyEmail      Strategy = "email"
	StrategyPhone      Strategy = "phone"
	StrategySSN        Strategy = "ssn"
	StrategyCreditCard Strategy = "credit_card"
	StrategyName       Strategy = "name"
	StrategyAddress    Strategy = "address"
	StrategyHash       Strategy = "hash"
	StrategyRandomize  Strategy = "randomize"
	StrategyNull       Strategy = "null"
)

// KnownStrategy tells whether the strategy is one of the supported names
func KnownStrategy(strategy Strategy) bool {
	switch strategy {
	case StrategyEmail, StrategyPhone, StrategySSN, StrategyCreditCard,
		StrategyName, StrategyAddress, StrategyHash, StrategyRandomize,
		StrategyNull:
		return true
	default:
		return false
	}
}

var (
	maskFirstNames = []string{"John", "Jane", "Alex", "Sam", "Chris", "Pat", "Jordan"}
	maskLastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia"}
	maskStreets    = []string{"Main St", "Oak Ave", "Park Rd", "Elm Dr", "Pine Ln"}
)

// MaskEmail replaces the local part with a short digest under a fixed
// domain. A value without an @ comes back unchanged.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return email
	}
	digest := md5.Sum([]byte(email[:at])) // #nosec G401
	return hex.EncodeToString(digest[:])[:8] + "@example.com"
}

// MaskPhone randomizes every digit while keeping the formatting
func MaskPhone(phone string) string {
	var masked strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			masked.WriteRune(rune('0' + rand.Intn(10))) // #nosec G404
		} else {
			masked.WriteRune(r)
		}
	}
	return masked.String()
}

// MaskSSN returns a random social security number in XXX-XX-XXXX form
func MaskSSN(_ string) string {
	digits := make([]byte, 9)
	for i := range digits {
		digits[i] = byte('0' + rand.Intn(10)) // #nosec G404
	}
	return fmt.Sprintf("%s-%s-%s", digits[:3], digits[3:5], digits[5:])
}

// MaskCreditCard keeps the issuer prefix and the last four digits,
// starring the middle. Values too short to split are fully starred.
func MaskCreditCard(card string) string {
	if len(card) < 10 {
		return "****"
	}
	return card[:6] + strings.Repeat("*", len(card)-10) + card[len(card)-4:]
}

// MaskName maps a name onto a fake one, deterministically: the same
// input always masks to the same output, so joins across tables survive
func MaskName(name string) string {
	digest := md5.Sum([]byte(name)) // #nosec G401
	seed := binary.BigEndian.Uint64(digest[:8])
	first := maskFirstNames[seed%uint64(len(maskFirstNames))]
	last := maskLastNames[(seed/uint64(len(maskFirstNames)))%uint64(len(maskLastNames))]
	return first + " " + last
}

// MaskAddress returns a random fake street address
func MaskAddress(_ string) string {
	number := 100 + rand.Intn(9900)                    // #nosec G404
	street := maskStreets[rand.Intn(len(maskStreets))] // #nosec G404
	return fmt.Sprintf("%d %s", number, street)
}

// HashValue returns the SHA-256 digest of the value in hex
func HashValue(value string) string {
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])
}

const randomAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns a random alphanumeric string of the given length
func RandomString(length int) string {
	out := make([]byte, length)
	for i := range out {
		out[i] = randomAlphabet[rand.Intn(len(randomAlphabet))] // #nosec G404
	}
	return string(out)
}

// ApplyRules masks a map-shaped payload in a copy, leaving the input
// untouched. Fields absent from the payload are skipped; a null strategy
// sets the field to nil.
func ApplyRules(data map[string]interface{}, rules map[string]Strategy) map[string]interface{} {
	masked := make(map[string]interface{}, len(data))
	for key, value := range data {
		masked[key] = value
	}

	for field, strategy := range rules {
		raw, ok := masked[field]
		if !ok {
			continue
		}
		value := fmt.Sprintf("%v", raw)

		switch strategy {
		case StrategyEmail:
			masked[field] = MaskEmail(value)
		case StrategyPhone:
			masked[field] = MaskPhone(value)
		case StrategySSN:
			masked[field] = MaskSSN(value)
		case StrategyCreditCard:
			masked[field] = MaskCreditCard(value)
		case StrategyName:
			masked[field] = MaskName(value)
		case StrategyAddress:
			masked[field] = MaskAddress(value)
		case StrategyHash:
			masked[field] = HashValue(value)
		case StrategyRandomize:
			masked[field] = RandomString(len(value))
		case StrategyNull:
			masked[field] = nil
		}
	}
	return masked
}
