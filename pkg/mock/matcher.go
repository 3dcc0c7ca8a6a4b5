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

package mock

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// bodyMatches evaluates every matcher in the rule body against the request
// body parsed as JSON. Paths are dotted ("Item.pk.S"). A request with an
// unparseable body only matches rules without body matchers.
func bodyMatches(matchers map[string]interface{}, body []byte) bool {
	if len(matchers) == 0 {
		return true
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	for path, matcher := range matchers {
		value, found := lookupPath(doc, path)
		if !evalMatcher(matcher, value, found) {
			return false
		}
	}
	return true
}

func lookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func evalMatcher(matcher, value interface{}, found bool) bool {
	ops, isDoc := matcher.(map[string]interface{})
	if !isDoc || !hasOperator(ops) {
		return found && looseEqual(matcher, value)
	}
	for op, arg := range ops {
		if !evalOperator(op, arg, value, found) {
			return false
		}
	}
	return true
}

func hasOperator(doc map[string]interface{}) bool {
	return lo.SomeBy(lo.Keys(doc), func(k string) bool { return strings.HasPrefix(k, "$") })
}

func evalOperator(op string, arg, value interface{}, found bool) bool {
	switch op {
	case "$exists":
		want, _ := arg.(bool)
		return found == want
	case "$eq":
		return found && looseEqual(arg, value)
	case "$ne":
		return !found || !looseEqual(arg, value)
	case "$gt", "$gte", "$lt", "$lte":
		a, aok := toFloat(value)
		b, bok := toFloat(arg)
		if !found || !aok || !bok {
			return false
		}
		switch op {
		case "$gt":
			return a > b
		case "$gte":
			return a >= b
		case "$lt":
			return a < b
		default:
			return a <= b
		}
	case "$regex":
		pattern, ok := arg.(string)
		str, strOK := value.(string)
		if !found || !ok || !strOK {
			return false
		}
		matched, err := regexp.MatchString(pattern, str)
		return err == nil && matched
	case "$in":
		options, ok := arg.([]interface{})
		if !found || !ok {
			return false
		}
		return lo.SomeBy(options, func(opt interface{}) bool { return looseEqual(opt, value) })
	default:
		return false
	}
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
