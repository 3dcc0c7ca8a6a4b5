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
	"strings"

	"github.com/samber/lo"
)

// matchesPattern evaluates an event pattern against an event document. Every
// key in the pattern must be satisfied; nested maps recurse, leaf lists hold
// literals or matcher documents (prefix, anything-but, numeric, exists).
func matchesPattern(pattern, event map[string]interface{}) bool {
	for key, expected := range pattern {
		actual, present := event[key]
		switch want := expected.(type) {
		case map[string]interface{}:
			child, ok := actual.(map[string]interface{})
			if !ok || !matchesPattern(want, child) {
				return false
			}
		case []interface{}:
			if !lo.SomeBy(want, func(m interface{}) bool { return leafMatches(m, actual, present) }) {
				return false
			}
		default:
			if !present || !literalEquals(expected, actual) {
				return false
			}
		}
	}
	return true
}

func leafMatches(matcher, actual interface{}, present bool) bool {
	if doc, ok := matcher.(map[string]interface{}); ok {
		return docMatches(doc, actual, present)
	}
	return present && literalEquals(matcher, actual)
}

func docMatches(doc map[string]interface{}, actual interface{}, present bool) bool {
	if exists, ok := doc["exists"].(bool); ok {
		return present == exists
	}
	if !present {
		return false
	}
	if prefix, ok := doc["prefix"].(string); ok {
		s, isStr := actual.(string)
		return isStr && strings.HasPrefix(s, prefix)
	}
	if anythingBut, ok := doc["anything-but"].([]interface{}); ok {
		return !lo.SomeBy(anythingBut, func(excluded interface{}) bool { return literalEquals(excluded, actual) })
	}
	if ops, ok := doc["numeric"].([]interface{}); ok {
		n, isNum := actual.(float64)
		return isNum && numericChainHolds(ops, n)
	}
	return false
}

func literalEquals(expected, actual interface{}) bool {
	if en, ok := expected.(float64); ok {
		an, isNum := actual.(float64)
		return isNum && en == an
	}
	return expected == actual
}

func numericChainHolds(ops []interface{}, n float64) bool {
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
