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

package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/polybackup/polybackup/pkg/executor"
)

// cronParser accepts the standard five fields plus an optional leading
// seconds field
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextFiring computes the first activation strictly after the given time,
// interpreting the expression in the schedule timezone. An empty timezone
// means UTC.
func NextFiring(expression string, timezone string, after time.Time) (time.Time, error) {
	// The grammar check runs first so a malformed expression is rejected
	// the same way everywhere, names and macros included
	if err := executor.ValidateCronExpression(expression); err != nil {
		return time.Time{}, fmt.Errorf("while validating cron expression %q: %w", expression, err)
	}

	spec, err := cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("while parsing cron expression %q: %w", expression, err)
	}

	location := time.UTC
	if timezone != "" {
		location, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("while loading timezone %q: %w", timezone, err)
		}
	}

	return spec.Next(after.In(location)), nil
}
