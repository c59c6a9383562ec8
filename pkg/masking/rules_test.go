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
	"os"
	"path/filepath"

	"github.com/polybackup/polybackup/pkg/catalog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Rule set loading", func() {
	writeRules := func(content string) string {
		path := filepath.Join(GinkgoT().TempDir(), "masking.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		return path
	}

	It("loads named rule sets from YAML", func() {
		path := writeRules(`
staging:
  users:
    email: email
    password_hash: "null"
    api_token: hash
  payments:
    card_number: credit_card
`)
		sets, err := LoadRuleSets(path)
		Expect(err).ToNot(HaveOccurred())

		set, err := sets.Get("staging")
		Expect(err).ToNot(HaveOccurred())
		Expect(set).To(HaveKey("users"))
		Expect(set["users"]).To(HaveKeyWithValue("email", StrategyEmail))
		Expect(set["users"]).To(HaveKeyWithValue("password_hash", StrategyNull))
	})

	It("rejects unknown strategies", func() {
		path := writeRules(`
staging:
  users:
    email: rot13
`)
		_, err := LoadRuleSets(path)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("rot13"))
	})

	It("rejects identifiers that are not plain SQL names", func() {
		path := writeRules(`
staging:
  "users; DROP TABLE users":
    email: email
`)
		_, err := LoadRuleSets(path)
		Expect(err).To(HaveOccurred())
	})

	It("tells a missing rule set apart from an empty one", func() {
		sets := RuleSets{"staging": RuleSet{}}
		_, err := sets.Get("production")
		Expect(err).To(HaveOccurred())
		_, err = sets.Get("staging")
		Expect(err).ToNot(HaveOccurred())
	})
})

var _ = Describe("SQL statement generation", func() {
	set := RuleSet{
		"users": TableRules{
			"email":      StrategyEmail,
			"api_token":  StrategyHash,
			"phone":      StrategyPhone, // no SQL form, skipped
			"deleted_by": StrategyNull,
		},
	}

	It("renders the PostgreSQL dialect in column order", func() {
		statements, err := set.SQLStatements(catalog.FamilyPostgreSQL)
		Expect(err).ToNot(HaveOccurred())
		Expect(statements).To(Equal([]string{
			"UPDATE users SET api_token = MD5(api_token::text)",
			"UPDATE users SET deleted_by = NULL",
			"UPDATE users SET email = CONCAT(MD5(email::text), '@example.com')",
		}))
	})

	It("never renders a statement the command gate would read as a pipe", func() {
		for _, family := range []catalog.DatabaseFamily{catalog.FamilyPostgreSQL, catalog.FamilyMySQL} {
			statements, err := set.SQLStatements(family)
			Expect(err).ToNot(HaveOccurred())
			for _, statement := range statements {
				Expect(statement).ToNot(ContainSubstring("|"))
			}
		}
	})

	It("renders the MySQL dialect", func() {
		statements, err := set.SQLStatements(catalog.FamilyMySQL)
		Expect(err).ToNot(HaveOccurred())
		Expect(statements).To(ContainElement(
			"UPDATE users SET email = CONCAT(MD5(email), '@example.com')"))
	})

	It("refuses families without a SQL dialect", func() {
		_, err := set.SQLStatements(catalog.FamilyMongoDB)
		Expect(err).To(HaveOccurred())
		_, err = set.SQLStatements(catalog.FamilyRedis)
		Expect(err).To(HaveOccurred())
	})
})
