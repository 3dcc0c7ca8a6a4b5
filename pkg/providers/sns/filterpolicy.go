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

package sns

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// matchesFilterPolicy evaluates the AWS filter-policy dialect: the message
// matches iff every policy attribute is satisfied by at least one of its
// matchers. {"exists": false} matches when the attribute is absent.
func matchesFilterPolicy(policy map[string]interface{}, attributes map[string]string) bool {
	for name, raw := range policy {
		matchers, ok := raw.([]interface{})
		if !ok {
			matchers = []interface{}{raw}
		}
		value, present := attributes[name]
		if !lo.SomeBy(matchers, func(m interface{}) bool { return matcherApplies(m, value, present) }) {
			return false
		}
	}
	return true
}

func matcherApplies(matcher interface{}, value string, present bool) bool {
	switch m := matcher.(type) {
	case string:
		return present && m == value
	case float64:
		n, err := strconv.ParseFloat(value, 64)
		return present && err == nil && n == m
	case map[string]interface{}:
		return complexMatcherApplies(m, value, present)
	default:
		return false
	}
}

func complexMatcherApplies(m map[string]interface{}, value string, present bool) bool {
	if exists, ok := m["exists"].(bool); ok {
		return present == exists
	}
	if !present {
		return false
	}
	if prefix, ok := m["prefix"].(string); ok {
		return strings.HasPrefix(value, prefix)
	}
	if anythingBut, ok := m["anything-but"].([]interface{}); ok {
		return !lo.SomeBy(anythingBut, func(excluded interface{}) bool {
			if s, isStr := excluded.(string); isStr {
				return s == value
			}
			if f, isNum := excluded.(float64); isNum {
				n, err := strconv.ParseFloat(value, 64)
				return err == nil && n == f
			}
			return false
		})
	}
	if ops, ok := m["numeric"].([]interface{}); ok {
		return numericMatches(ops, value)
	}
	return false
}

// numericMatches evaluates ["op", n, "op", n, ...] comparator chains.
func numericMatches(ops []interface{}, value string) bool {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	for i := 0; i+1 < len(ops); i += 2 {
		op, opOK := ops[i].(string)
		bound, boundOK := ops[i+1].(float64)
		if !opOK || !boundOK {
			return false
		}
		var holds bool
		switch op {
		case "=":
			holds = n == bound
		case "<":
			holds = n < bound
		case "<=":
			holds = n <= bound
		case ">":
			holds = n > bound
		case ">=":
			holds = n >= bound
		}
		if !holds {
			return false
		}
	}
	return true
}
