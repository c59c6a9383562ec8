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

package masking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Value maskers", func() {
	It("rewrites the email local part under a fixed domain", func() {
		masked := MaskEmail("alice@corp.internal")
		Expect(masked).To(HaveSuffix("@example.com"))
		Expect(masked).ToNot(ContainSubstring("alice"))
		Expect(MaskEmail("alice@corp.internal")).To(Equal(masked))
	})

	It("leaves values without an @ alone", func() {
		Expect(MaskEmail("not-an-email")).To(Equal("not-an-email"))
	})

	It("keeps the phone formatting while scrambling digits", func() {
		masked := MaskPhone("+1 (555) 123-4567")
		Expect(masked).To(HaveLen(len("+1 (555) 123-4567")))
		Expect(masked).To(MatchRegexp(`^\+\d \(\d{3}\) \d{3}-\d{4}$`))
	})

	It("produces a well-formed fake SSN", func() {
		Expect(MaskSSN("123-45-6789")).To(MatchRegexp(`^\d{3}-\d{2}-\d{4}$`))
	})

	It("keeps the card issuer prefix and the last four digits", func() {
		Expect(MaskCreditCard("4532015112830366")).To(Equal("453201******0366"))
		Expect(MaskCreditCard("123456789")).To(Equal("****"))
	})

	It("masks names deterministically", func() {
		first := MaskName("Ada Lovelace")
		Expect(MaskName("Ada Lovelace")).To(Equal(first))
		Expect(first).To(MatchRegexp(`^[A-Za-z]+ [A-Za-z]+$`))
		Expect(first).ToNot(Equal("Ada Lovelace"))
	})

	It("hashes values with SHA-256", func() {
		Expect(HashValue("secret")).To(HaveLen(64))
		Expect(HashValue("secret")).To(Equal(HashValue("secret")))
	})

	It("generates random strings of the requested length", func() {
		Expect(RandomString(12)).To(HaveLen(12))
		Expect(RandomString(12)).To(MatchRegexp(`^[A-Za-z0-9]{12}$`))
	})
})

var _ = Describe("ApplyRules", func() {
	It("masks only the ruled fields and never mutates the input", func() {
		data := map[string]interface{}{
			"email":  "bob@corp.internal",
			"ssn":    "123-45-6789",
			"note":   "keep me",
			"secret": "hunter2",
		}
		rules := map[string]Strategy{
			"email":   StrategyEmail,
			"secret":  StrategyNull,
			"missing": StrategyHash,
		}

		masked := ApplyRules(data, rules)

		Expect(masked["email"]).To(HaveSuffix("@example.com"))
		Expect(masked["secret"]).To(BeNil())
		Expect(masked["note"]).To(Equal("keep me"))
		Expect(masked["ssn"]).To(Equal("123-45-6789"))
		Expect(masked).ToNot(HaveKey("missing"))

		Expect(data["email"]).To(Equal("bob@corp.internal"))
		Expect(data["secret"]).To(Equal("hunter2"))
	})
})
