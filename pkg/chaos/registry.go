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

// Package chaos holds the per-service fault-injection configuration. The
// request path reads a snapshot once per request; the management plane
// publishes patched copies.
package chaos

import (
	"fmt"
	"sync"

	"github.com/imdario/mergo"
	"github.com/samber/lo"
)

// ErrorSpec is one weighted member of the configured error population.
type ErrorSpec struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Status  int     `json:"status,omitempty"`
	Weight  float64 `json:"weight"`
}

// Config is the fault profile for a single service. Rates are probabilities
// in [0, 1] drawn independently per request.
type Config struct {
	Enabled             bool        `json:"enabled"`
	ErrorRate           float64     `json:"error_rate"`
	LatencyMinMS        int         `json:"latency_min_ms"`
	LatencyMaxMS        int         `json:"latency_max_ms"`
	TimeoutRate         float64     `json:"timeout_rate"`
	TimeoutMS           int         `json:"timeout_ms"`
	ConnectionResetRate float64     `json:"connection_reset_rate"`
	Errors              []ErrorSpec `json:"errors,omitempty"`
}

// Patch carries only the fields a management-plane update provided; absent
// fields stay nil and preserve the current value.
type Patch struct {
	Enabled             *bool       `json:"enabled,omitempty"`
	ErrorRate           *float64    `json:"error_rate,omitempty"`
	LatencyMinMS        *int        `json:"latency_min_ms,omitempty"`
	LatencyMaxMS        *int        `json:"latency_max_ms,omitempty"`
	TimeoutRate         *float64    `json:"timeout_rate,omitempty"`
	TimeoutMS           *int        `json:"timeout_ms,omitempty"`
	ConnectionResetRate *float64    `json:"connection_reset_rate,omitempty"`
	Errors              []ErrorSpec `json:"errors,omitempty"`
}

// Registry maps service name to its current Config snapshot.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

func NewRegistry() *Registry {
	return &Registry{configs: map[string]*Config{}}
}

// Snapshot returns the current config for the service. The returned value is
// shared and must not be mutated; a request reads it once and keeps it.
func (r *Registry) Snapshot(service string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.configs[service]; ok {
		return cfg
	}
	return &Config{}
}

// All returns a copy of every service's current config.
func (r *Registry) All() map[string]Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapEntries(r.configs, func(k string, v *Config) (string, Config) {
		return k, *v
	})
}

// Apply merges the patch into the service's config and publishes the result.
// Fields absent from the patch are preserved.
func (r *Registry) Apply(service string, patch Patch) (*Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := asPatch(r.configs[service])
	if err := mergo.Merge(&cur, patch, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging chaos patch for %s, %w", service, err)
	}
	next := materialize(cur)
	if err := validate(next); err != nil {
		return nil, err
	}
	r.configs[service] = next
	return next, nil
}

// Set replaces the service's config wholesale.
func (r *Registry) Set(service string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[service] = &cfg
}

func asPatch(cfg *Config) Patch {
	if cfg == nil {
		return Patch{}
	}
	return Patch{
		Enabled:             lo.ToPtr(cfg.Enabled),
		ErrorRate:           lo.ToPtr(cfg.ErrorRate),
		LatencyMinMS:        lo.ToPtr(cfg.LatencyMinMS),
		LatencyMaxMS:        lo.ToPtr(cfg.LatencyMaxMS),
		TimeoutRate:         lo.ToPtr(cfg.TimeoutRate),
		TimeoutMS:           lo.ToPtr(cfg.TimeoutMS),
		ConnectionResetRate: lo.ToPtr(cfg.ConnectionResetRate),
		Errors:              cfg.Errors,
	}
}

func materialize(p Patch) *Config {
	return &Config{
		Enabled:             lo.FromPtr(p.Enabled),
		ErrorRate:           lo.FromPtr(p.ErrorRate),
		LatencyMinMS:        lo.FromPtr(p.LatencyMinMS),
		LatencyMaxMS:        lo.FromPtr(p.LatencyMaxMS),
		TimeoutRate:         lo.FromPtr(p.TimeoutRate),
		TimeoutMS:           lo.FromPtr(p.TimeoutMS),
		ConnectionResetRate: lo.FromPtr(p.ConnectionResetRate),
		Errors:              p.Errors,
	}
}

func validate(cfg *Config) error {
	for _, rate := range []float64{cfg.ErrorRate, cfg.TimeoutRate, cfg.ConnectionResetRate} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("rate %v must be within [0, 1]", rate)
		}
	}
	if cfg.LatencyMinMS > cfg.LatencyMaxMS && cfg.LatencyMaxMS != 0 {
		return fmt.Errorf("latency_min_ms %d exceeds latency_max_ms %d", cfg.LatencyMinMS, cfg.LatencyMaxMS)
	}
	for _, spec := range cfg.Errors {
		if spec.Weight < 0 {
			return fmt.Errorf("error weight for %s must not be negative", spec.Type)
		}
	}
	return nil
}

// PickError samples the configured error population by cumulative weight.
// roll must be uniform in [0, 1). Returns false when no error is configured.
func (c *Config) PickError(roll float64) (ErrorSpec, bool) {
	total := lo.SumBy(c.Errors, func(e ErrorSpec) float64 { return e.Weight })
	if total <= 0 {
		return ErrorSpec{}, false
	}
	target := roll * total
	var cum float64
	for _, spec := range c.Errors {
		cum += spec.Weight
		if target < cum {
			return spec, true
		}
	}
	return c.Errors[len(c.Errors)-1], true
}
