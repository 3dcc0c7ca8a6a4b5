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
	"os"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"sigs.k8s.io/yaml"

	lwsatomic "github.com/lws-dev/lws/pkg/utils/atomic"
)

const decisionCacheTTL = time.Minute

// Store owns identities, managed policies, the permissions map and resource
// policies. Registration is rare; evaluation is hot and cached.
type Store struct {
	mu               sync.RWMutex
	identities       map[string]Identity
	managedPolicies  map[string]PolicyDocument
	permissions      map[string][]string // "service:operation" -> required actions
	resourcePolicies map[string]PolicyDocument // "service/resource-id"

	settings  *lwsatomic.Value[Settings]
	decisions *cache.Cache
}

func NewStore() *Store {
	return &Store{
		identities:       map[string]Identity{},
		managedPolicies:  map[string]PolicyDocument{},
		permissions:      map[string][]string{},
		resourcePolicies: map[string]PolicyDocument{},
		settings:         lwsatomic.NewValue(&Settings{Mode: ModeDisabled}),
		decisions:        cache.New(decisionCacheTTL, 2*decisionCacheTTL),
	}
}

type identityFile struct {
	Identities []Identity `json:"identities"`
}

// LoadIdentities reads a YAML identities document and registers its contents.
func (s *Store) LoadIdentities(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading identities file %s, %w", path, err)
	}
	var doc identityFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing identities file %s, %w", path, err)
	}
	for _, identity := range doc.Identities {
		s.RegisterIdentity(identity)
	}
	return nil
}

// LoadPermissions merges a permissions map document over the current map. The
// document shape is {service: {operation: [action, ...]}}.
func (s *Store) LoadPermissions(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading permissions file %s, %w", path, err)
	}
	var doc map[string]map[string][]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing permissions file %s, %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for service, ops := range doc {
		for op, actions := range ops {
			s.permissions[permissionKey(service, op)] = actions
		}
	}
	s.decisions.Flush()
	return nil
}

// RegisterIdentity adds or replaces an identity.
func (s *Store) RegisterIdentity(identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.Kind == "" {
		identity.Kind = KindUser
	}
	s.identities[identity.Name] = identity
	s.decisions.Flush()
}

// RegisterManagedPolicy registers a policy addressable by ARN from identities'
// attached policy lists.
func (s *Store) RegisterManagedPolicy(arn string, doc PolicyDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.managedPolicies[arn] = doc
	s.decisions.Flush()
}

// SetResourcePolicy attaches a policy document to a resource.
func (s *Store) SetResourcePolicy(service, resourceID string, doc PolicyDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourcePolicies[resourceKey(service, resourceID)] = doc
	s.decisions.Flush()
}

// GetIdentity returns the identity and whether it exists.
func (s *Store) GetIdentity(name string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[name]
	return identity, ok
}

// GetPolicies returns every policy document attached to the identity, inline
// first then managed.
func (s *Store) GetPolicies(name string) []PolicyDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[name]
	if !ok {
		return nil
	}
	docs := append([]PolicyDocument{}, identity.InlinePolicies...)
	for _, arn := range identity.AttachedPolicyARNs {
		if doc, found := s.managedPolicies[arn]; found {
			docs = append(docs, doc)
		}
	}
	return docs
}

// GetBoundary returns the identity's permission boundary, if any.
func (s *Store) GetBoundary(name string) *PolicyDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[name]
	if !ok {
		return nil
	}
	return identity.Boundary
}

// Identities lists registered identity names.
func (s *Store) Identities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.identities)
}

// Settings returns the current auth settings snapshot.
func (s *Store) Settings() Settings {
	return *s.settings.Load()
}

// SetSettings publishes new auth settings.
func (s *Store) SetSettings(settings Settings) {
	s.settings.Store(&settings)
	s.decisions.Flush()
}

func (s *Store) requiredActions(service, operation string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actions, ok := s.permissions[permissionKey(service, operation)]
	return actions, ok
}

func (s *Store) resourcePolicy(service, resourceID string) (PolicyDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.resourcePolicies[resourceKey(service, resourceID)]
	return doc, ok
}

func permissionKey(service, operation string) string {
	return strings.ToLower(service) + ":" + operation
}

func resourceKey(service, resourceID string) string {
	return strings.ToLower(service) + "/" + resourceID
}
