/*
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

package eventbridge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron"
)

// Schedule yields successive fire times for a rate(...) or cron(...)
// expression.
type Schedule interface {
	Next(after time.Time) time.Time
}

var rateRe = regexp.MustCompile(`^rate\((\d+)\s+(minute|minutes|hour|hours|day|days)\)$`)

// ParseSchedule accepts the AWS schedule-expression forms: rate(N unit) and
// the 6-field cron(min hour dom mon dow year).
func ParseSchedule(expression string) (Schedule, error) {
	expression = strings.TrimSpace(expression)
	if m := rateRe.FindStringSubmatch(expression); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return nil, fmt.Errorf("rate value must be positive in %q", expression)
		}
		if n == 1 && strings.HasSuffix(m[2], "s") {
			return nil, fmt.Errorf("rate unit must be singular for 1 in %q", expression)
		}
		var unit time.Duration
		switch strings.TrimSuffix(m[2], "s") {
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		}
		return rateSchedule{interval: time.Duration(n) * unit}, nil
	}
	if inner, ok := cutWrap(expression, "cron(", ")"); ok {
		return parseCron(inner)
	}
	return nil, fmt.Errorf("unrecognized schedule expression %q", expression)
}

func cutWrap(s, prefix, suffix string) (string, bool) {
	if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) {
		return s[len(prefix) : len(s)-len(suffix)], true
	}
	return "", false
}

type rateSchedule struct {
	interval time.Duration
}

func (s rateSchedule) Next(after time.Time) time.Time {
	return after.Add(s.interval)
}

// cronSchedule wraps a standard 5-field cron spec plus the AWS year field,
// which is filtered after the fact.
type cronSchedule struct {
	inner cron.Schedule
	year  string
}

// parseCron translates AWS's 6-field form (minutes hours dom month dow year,
// "?" permitted in dom/dow) into a standard 5-field spec.
func parseCron(inner string) (Schedule, error) {
	fields := strings.Fields(inner)
	if len(fields) != 6 {
		return nil, fmt.Errorf("cron expression must have 6 fields, got %d in %q", len(fields), inner)
	}
	translated := make([]string, 5)
	for i, field := range fields[:5] {
		if field == "?" {
			field = "*"
		}
		translated[i] = field
	}
	spec, err := cron.ParseStandard(strings.Join(translated, " "))
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q, %w", inner, err)
	}
	return cronSchedule{inner: spec, year: fields[5]}, nil
}

func (s cronSchedule) Next(after time.Time) time.Time {
	next := after
	// bounded walk so an impossible year constraint cannot spin forever
	for i := 0; i < 366*5; i++ {
		next = s.inner.Next(next)
		if s.yearMatches(next.Year()) {
			return next
		}
	}
	return time.Time{}
}

func (s cronSchedule) yearMatches(year int) bool {
	if s.year == "*" || s.year == "?" {
		return true
	}
	for _, part := range strings.Split(s.year, ",") {
		if low, high, ok := strings.Cut(part, "-"); ok {
			lo, err1 := strconv.Atoi(low)
			hi, err2 := strconv.Atoi(high)
			if err1 == nil && err2 == nil && year >= lo && year <= hi {
				return true
			}
			continue
		}
		if n, err := strconv.Atoi(part); err == nil && n == year {
			return true
		}
	}
	return false
}
