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

// Package registry is the arena for service discovery: providers register
// their endpoint on start and deregister on stop; everything else holds only
// service names and dereferences here.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Endpoint is one started service's address.
type Endpoint struct {
	Service string `json:"service"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	URL     string `json:"url"`
}

// ServiceRegistry is a thread-safe name -> endpoint map.
type ServiceRegistry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{endpoints: map[string]Endpoint{}}
}

func (r *ServiceRegistry) Register(service, host string, port int) Endpoint {
	endpoint := Endpoint{
		Service: service,
		Host:    host,
		Port:    port,
		URL:     fmt.Sprintf("http://%s:%d", host, port),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[service] = endpoint
	return endpoint
}

func (r *ServiceRegistry) Deregister(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, service)
}

func (r *ServiceRegistry) Get(service string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoint, ok := r.endpoints[service]
	return endpoint, ok
}

func (r *ServiceRegistry) List() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoints := lo.Values(r.endpoints)
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Service < endpoints[j].Service })
	return endpoints
}

// Environment synthesizes the child-process environment for compute: one
// LWS_ECS_* variable per endpoint, per-service *_ENDPOINT_URL variables, and
// the fleet-wide AWS_ENDPOINT_URL.
func (r *ServiceRegistry) Environment(fleetPort int) []string {
	env := []string{
		"AWS_REGION=us-east-1",
		"AWS_DEFAULT_REGION=us-east-1",
		fmt.Sprintf("AWS_ENDPOINT_URL=http://localhost:%d", fleetPort),
	}
	for _, endpoint := range r.List() {
		env = append(env,
			fmt.Sprintf("LWS_ECS_%s=%s", envName(endpoint.Service), endpoint.URL),
			fmt.Sprintf("%s_ENDPOINT_URL=http://localhost:%d", envName(endpoint.Service), endpoint.Port),
		)
	}
	return env
}

func envName(service string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(service))
}
