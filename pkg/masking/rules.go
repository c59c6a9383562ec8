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
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/polybackup/polybackup/pkg/catalog"
	"github.com/polybackup/polybackup/pkg/fileutils"
)

// TableRules maps a column to the strategy masking it
type TableRules map[string]Strategy

// RuleSet maps a table to its column rules
type RuleSet map[string]TableRules

// RuleSets is the named collection of rule sets a restore request can
// point at
type RuleSets map[string]RuleSet

// identifierRegexp accepts plain SQL identifiers. Table and column names
// land verbatim in UPDATE statements, so anything fancier is rejected at
// load time.
var identifierRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadRuleSets reads and validates the rule sets from a YAML file shaped
// as {name: {table: {column: strategy}}}
func LoadRuleSets(path string) (RuleSets, error) {
	content, err := fileutils.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("while reading masking rules: %w", err)
	}

	var sets RuleSets
	if err := yaml.Unmarshal(content, &sets); err != nil {
		return nil, fmt.Errorf("while decoding masking rules from %q: %w", path, err)
	}

	if err := sets.Validate(); err != nil {
		return nil, err
	}
	return sets, nil
}

// Validate rejects malformed identifiers and unknown strategies
func (r RuleSets) Validate() error {
	for name, set := range r {
		for table, rules := range set {
			if !identifierRegexp.MatchString(table) {
				return fmt.Errorf("rule set %q: invalid table name %q", name, table)
			}
			for column, strategy := range rules {
				if !identifierRegexp.MatchString(column) {
					return fmt.Errorf("rule set %q: invalid column name %q in table %q",
						name, column, table)
				}
				if !KnownStrategy(strategy) {
					return fmt.Errorf("rule set %q: unknown strategy %q for %s.%s",
						name, strategy, table, column)
				}
			}
		}
	}
	return nil
}

// Get returns one rule set by name
func (r RuleSets) Get(name string) (RuleSet, error) {
	set, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("masking rule set %q not found", name)
	}
	return set, nil
}

// SQLStatements renders the strategies that have a SQL form into UPDATE
// statements for the given family, in a stable table/column order.
// Strategies that need application logic are skipped. Only the
// relational families have a dialect.
func (r RuleSet) SQLStatements(family catalog.DatabaseFamily) ([]string, error) {
	switch family {
	case catalog.FamilyPostgreSQL, catalog.FamilyMySQL:
	default:
		return nil, fmt.Errorf("no masking dialect for database family %q", family)
	}

	tables := make([]string, 0, len(r))
	for table := range r {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var statements []string
	for _, table := range tables {
		rules := r[table]
		columns := make([]string, 0, len(rules))
		for column := range rules {
			columns = append(columns, column)
		}
		sort.Strings(columns)

		for _, column := range columns {
			if statement, ok := sqlFor(table, column, rules[column], family); ok {
				statements = append(statements, statement)
			}
		}
	}
	return statements, nil
}

// sqlFor spells one masking rule in the dialect of the family. The
// concatenation always uses CONCAT, never the || operator: rendered
// statements travel through the executor validation gate, which reads a
// bare | as a shell pipe.
func sqlFor(table, column string, strategy Strategy, family catalog.DatabaseFamily) (string, bool) {
	switch strategy {
	case StrategyEmail:
		if family == catalog.FamilyPostgreSQL {
			return fmt.Sprintf("UPDATE %s SET %s = CONCAT(MD5(%s::text), '@example.com')",
				table, column, column), true
		}
		return fmt.Sprintf("UPDATE %s SET %s = CONCAT(MD5(%s), '@example.com')",
			table, column, column), true
	case StrategyNull:
		return fmt.Sprintf("UPDATE %s SET %s = NULL", table, column), true
	case StrategyHash:
		if family == catalog.FamilyPostgreSQL {
			return fmt.Sprintf("UPDATE %s SET %s = MD5(%s::text)", table, column, column), true
		}
		return fmt.Sprintf("UPDATE %s SET %s = MD5(%s)", table, column, column), true
	default:
		return "", false
	}
}
