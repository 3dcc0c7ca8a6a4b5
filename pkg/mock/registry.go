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

// Package mock lets tests pin canned responses for specific operations ahead
// of the real handlers. Rules are ordered and the first match wins.
package mock

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/samber/lo"
)

// Response is returned verbatim when a rule matches.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
	DelayMS int               `json:"delay_ms,omitempty"`
}

// Rule matches an operation plus optional header and body matchers. Body
// matcher values are either literals (equality) or operator documents using
// $eq, $ne, $gt, $gte, $lt, $lte, $regex, $exists and $in.
type Rule struct {
	Operation string                 `json:"operation"`
	Headers   map[string]string      `json:"headers,omitempty"`
	Body      map[string]interface{} `json:"body,omitempty"`
	Response  Response               `json:"response"`
}

// Fingerprint is a deterministic identity for the rule's match portion,
// stable across processes.
func (r Rule) Fingerprint(service string) (uint64, error) {
	hash, err := hashstructure.Hash(struct {
		Service   string
		Operation string
		Headers   map[string]string
		Body      map[string]interface{}
	}{service, r.Operation, r.Headers, r.Body}, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("hashing mock rule for %s.%s, %w", service, r.Operation, err)
	}
	return hash, nil
}

// Registry holds the ordered rule list per service. The list is replaced as a
// whole; individual rules are immutable once registered.
type Registry struct {
	mu    sync.RWMutex
	rules map[string][]Rule
}

func NewRegistry() *Registry {
	return &Registry{rules: map[string][]Rule{}}
}

// Register appends rules for a service, rejecting duplicates of an already
// registered match portion.
func (r *Registry) Register(service string, rules ...Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := lo.Map(r.rules[service], func(rule Rule, _ int) uint64 {
		return lo.Must(rule.Fingerprint(service))
	})
	for _, rule := range rules {
		fp, err := rule.Fingerprint(service)
		if err != nil {
			return err
		}
		if lo.Contains(existing, fp) {
			return fmt.Errorf("duplicate mock rule for %s.%s", service, rule.Operation)
		}
		existing = append(existing, fp)
		r.rules[service] = append(r.rules[service], rule)
	}
	return nil
}

// Clear drops every rule for the service.
func (r *Registry) Clear(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, service)
}

// ClearAll drops every rule for every service.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = map[string][]Rule{}
}

// Match finds the first rule matching the request, or nil.
func (r *Registry) Match(service, operation string, headers http.Header, body []byte) *Response {
	r.mu.RLock()
	rules := r.rules[service]
	r.mu.RUnlock()
	for _, rule := range rules {
		if rule.Operation != operation {
			continue
		}
		if !headersMatch(rule.Headers, headers) {
			continue
		}
		if !bodyMatches(rule.Body, body) {
			continue
		}
		resp := rule.Response
		if resp.Status == 0 {
			resp.Status = http.StatusOK
		}
		return &resp
	}
	return nil
}

func headersMatch(want map[string]string, got http.Header) bool {
	for name, value := range want {
		if !lo.SomeBy(got.Values(name), func(v string) bool { return v == value }) {
			return false
		}
	}
	return true
}
