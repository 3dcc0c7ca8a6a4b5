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

// Package iam loads identities and permission maps and answers whether a
// principal may perform an operation against a resource.
package iam

import (
	"encoding/json"
	"fmt"
)

type IdentityKind string

const (
	KindUser IdentityKind = "user"
	KindRole IdentityKind = "role"
)

// Identity is a named principal. Immutable by convention after registration
// except via re-registration.
type Identity struct {
	Name               string           `json:"name"`
	Kind               IdentityKind     `json:"kind"`
	InlinePolicies     []PolicyDocument `json:"policies,omitempty"`
	AttachedPolicyARNs []string         `json:"attached_policy_arns,omitempty"`
	Boundary           *PolicyDocument  `json:"permission_boundary,omitempty"`
}

type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// PolicyDocument is the IAM-shaped policy body.
type PolicyDocument struct {
	Version   string      `json:"Version,omitempty"`
	Statement []Statement `json:"Statement"`
}

type Statement struct {
	Sid      string     `json:"Sid,omitempty"`
	Effect   Effect     `json:"Effect"`
	Action   StringList `json:"Action"`
	Resource StringList `json:"Resource,omitempty"`
}

// StringList accepts the IAM convention of a bare string or a list of strings.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("parsing string or string list, %w", err)
	}
	*s = many
	return nil
}

func (s StringList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// Mode controls how authorization outcomes are enforced.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAudit    Mode = "audit"
	ModeEnforce  Mode = "enforce"
)

// Settings is the snapshot read by the auth middleware on each request.
type Settings struct {
	Mode            Mode            `json:"mode"`
	DefaultIdentity string          `json:"default_identity,omitempty"`
	Services        map[string]bool `json:"services,omitempty"`
}

func (s Settings) EnabledFor(service string) bool {
	if s.Mode == ModeDisabled || s.Mode == "" {
		return false
	}
	if len(s.Services) == 0 {
		return true
	}
	return s.Services[service]
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(format string, a ...interface{}) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, a...)}
}
