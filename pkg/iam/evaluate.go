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

package iam

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Evaluate decides whether the identity may perform (service, operation)
// against the optional resource. Explicit deny wins; a permission boundary
// intersects; no matching allow is an implicit deny. Operations absent from
// the permissions map allow through to keep forward compatibility with
// operations the map does not yet know.
func (s *Store) Evaluate(identityName, service, operation, resourceID string) Decision {
	required, known := s.requiredActions(service, operation)
	if !known || len(required) == 0 {
		return Allow()
	}
	cacheKey := fmt.Sprintf("%s|%s|%s|%s", identityName, service, operation, resourceID)
	if cached, found := s.decisions.Get(cacheKey); found {
		return cached.(Decision)
	}
	decision := s.evaluate(identityName, service, required, resourceID)
	s.decisions.SetDefault(cacheKey, decision)
	return decision
}

func (s *Store) evaluate(identityName, service string, required []string, resourceID string) Decision {
	identity, ok := s.GetIdentity(identityName)
	if !ok {
		return Deny("identity %q is not registered", identityName)
	}
	statements := lo.FlatMap(s.GetPolicies(identity.Name), func(doc PolicyDocument, _ int) []Statement {
		return doc.Statement
	})
	if doc, found := s.resourcePolicy(service, resourceID); found && resourceID != "" {
		statements = append(statements, doc.Statement...)
	}
	for _, action := range required {
		decision := evaluateStatements(statements, action, resourceID)
		if !decision.Allowed {
			return decision
		}
		if boundary := identity.Boundary; boundary != nil {
			if bd := evaluateStatements(boundary.Statement, action, resourceID); !bd.Allowed {
				return Deny("action %s is outside the permission boundary of %s", action, identityName)
			}
		}
	}
	return Allow()
}

func evaluateStatements(statements []Statement, action, resourceID string) Decision {
	var allowed bool
	for _, stmt := range statements {
		if !statementMatches(stmt, action, resourceID) {
			continue
		}
		if stmt.Effect == EffectDeny {
			return Deny("explicitly denied by statement %s", lo.Ternary(stmt.Sid != "", stmt.Sid, "(unnamed)"))
		}
		allowed = true
	}
	if !allowed {
		return Deny("no statement allows %s", action)
	}
	return Allow()
}

func statementMatches(stmt Statement, action, resourceID string) bool {
	if !lo.SomeBy(stmt.Action, func(pattern string) bool { return actionMatches(pattern, action) }) {
		return false
	}
	if len(stmt.Resource) == 0 || resourceID == "" {
		return true
	}
	return lo.SomeBy(stmt.Resource, func(pattern string) bool { return resourceMatches(pattern, resourceID) })
}

// actionMatches supports the * wildcard anywhere in the pattern, matching the
// common "service:*" and "*" forms.
func actionMatches(pattern, action string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, found := strings.CutSuffix(pattern, "*"); found {
		return strings.HasPrefix(action, prefix)
	}
	return strings.EqualFold(pattern, action)
}

// resourceMatches supports a * suffix wildcard on an ARN prefix.
func resourceMatches(pattern, resource string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, found := strings.CutSuffix(pattern, "*"); found {
		return strings.HasPrefix(resource, prefix)
	}
	return pattern == resource
}
