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

package registry

import (
	"encoding/json"
	"regexp"
)

var refPlaceholder = regexp.MustCompile(`\$\{([A-Za-z0-9:_.-]+)\}`)

// ResolveRefs rewrites CloudFormation-shaped references in configured
// environment values. Two forms are handled: a JSON {"Ref": "X"} value and
// raw ${X} placeholders inside strings. Unresolved references pass through
// unchanged.
func ResolveRefs(env map[string]string, names map[string]string) map[string]string {
	resolved := make(map[string]string, len(env))
	for key, value := range env {
		resolved[key] = resolveRef(value, names)
	}
	return resolved
}

func resolveRef(value string, names map[string]string) string {
	var ref struct {
		Ref string `json:"Ref"`
	}
	if err := json.Unmarshal([]byte(value), &ref); err == nil && ref.Ref != "" {
		if target, ok := names[ref.Ref]; ok {
			return target
		}
		return value
	}
	return refPlaceholder.ReplaceAllStringFunc(value, func(match string) string {
		name := refPlaceholder.FindStringSubmatch(match)[1]
		if target, ok := names[name]; ok {
			return target
		}
		return match
	})
}
