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

// Package middleware composes the request filters every service app shares:
// management path gate, mock override, chaos injection, IAM auth, handler.
// Mocks precede chaos so deterministic fixtures are never randomly failed;
// chaos precedes auth so flakiness is independent of identity.
package middleware

import (
	"bufio"
	"bytes"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/chaos"
	"github.com/lws-dev/lws/pkg/iam"
	"github.com/lws-dev/lws/pkg/mock"
)

// ManagementPrefixes bypass every middleware so chaos and mocks can never
// break introspection.
var ManagementPrefixes = []string{"/_ldk", "/_mock"}

const identityHeader = "X-Lws-Identity"

// Config wires one service's chain.
type Config struct {
	Service string
	Family  awserr.Family
	// ExtractOperation derives the operation string from the request per the
	// service's wire style.
	ExtractOperation func(r *http.Request, body []byte) string
	// ExtractResource derives the resource-id the IAM evaluation runs
	// against; may be nil when the service has no resource dimension.
	ExtractResource func(r *http.Request, body []byte) string

	Mocks *mock.Registry
	Chaos *chaos.Registry
	Auth  *iam.Store
	Log   *zap.SugaredLogger

	// Management, when set, receives requests under the management prefixes.
	Management http.Handler

	// rand guards the chaos draws; overridable in tests.
	Rand *rand.Rand
}

type chain struct {
	cfg     Config
	next    http.Handler
	randMu  sync.Mutex
	rand    *rand.Rand
	sleepFn func(time.Duration)
}

// Chain wraps next in the standard filter order.
func Chain(cfg Config, next http.Handler) http.Handler {
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &chain{cfg: cfg, next: next, rand: rnd, sleepFn: time.Sleep}
}

func (c *chain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Amzn-Requestid", requestID)

	if isManagementPath(r.URL.Path) {
		if c.cfg.Management != nil {
			c.cfg.Management.ServeHTTP(w, r)
			return
		}
		c.next.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		awserr.Write(w, c.cfg.Family, requestID, err)
		return
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	operation := ""
	if c.cfg.ExtractOperation != nil {
		operation = c.cfg.ExtractOperation(r, body)
	}
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}

	if c.serveMock(sw, r, operation, body) ||
		c.serveChaos(sw, r, requestID) ||
		c.serveAuthDenied(sw, r, requestID, operation, body) {
		observe(c.cfg.Service, operation, sw.status, time.Since(start))
		return
	}
	// body was consumed by the matchers above; restore for the handler
	r.Body = io.NopCloser(bytes.NewReader(body))
	c.next.ServeHTTP(sw, r)
	observe(c.cfg.Service, operation, sw.status, time.Since(start))
}

func isManagementPath(path string) bool {
	for _, prefix := range ManagementPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (c *chain) serveMock(w http.ResponseWriter, r *http.Request, operation string, body []byte) bool {
	if c.cfg.Mocks == nil {
		return false
	}
	resp := c.cfg.Mocks.Match(c.cfg.Service, operation, r.Header, body)
	if resp == nil {
		return false
	}
	if resp.DelayMS > 0 {
		c.sleepFn(time.Duration(resp.DelayMS) * time.Millisecond)
	}
	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
	return true
}

func (c *chain) draw() float64 {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return c.rand.Float64()
}

func (c *chain) serveChaos(w http.ResponseWriter, r *http.Request, requestID string) bool {
	if c.cfg.Chaos == nil {
		return false
	}
	cfg := c.cfg.Chaos.Snapshot(c.cfg.Service)
	if !cfg.Enabled {
		return false
	}
	if cfg.ConnectionResetRate > 0 && c.draw() < cfg.ConnectionResetRate {
		resetConnection(w)
		return true
	}
	if cfg.TimeoutRate > 0 && c.draw() < cfg.TimeoutRate {
		timeout := cfg.TimeoutMS
		if timeout <= 0 {
			timeout = 30000
		}
		c.sleepFn(time.Duration(timeout) * time.Millisecond)
		awserr.Write(w, c.cfg.Family, requestID,
			awserr.NewJSON("GatewayTimeoutException", "injected timeout", http.StatusGatewayTimeout))
		return true
	}
	if cfg.LatencyMaxMS > 0 {
		span := cfg.LatencyMaxMS - cfg.LatencyMinMS
		delay := cfg.LatencyMinMS
		if span > 0 {
			delay += int(c.draw() * float64(span+1))
		}
		c.sleepFn(time.Duration(delay) * time.Millisecond)
	}
	if cfg.ErrorRate > 0 && c.draw() < cfg.ErrorRate {
		spec, ok := cfg.PickError(c.draw())
		if !ok {
			return false
		}
		status := spec.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		c.cfg.Log.Debugw("injecting chaos error", "service", c.cfg.Service, "type", spec.Type)
		awserr.Write(w, c.cfg.Family, requestID, awserr.NewJSON(spec.Type, spec.Message, status))
		return true
	}
	return false
}

// resetConnection tears the TCP connection down without a response, surfacing
// a transport-level reset to the client.
func resetConnection(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
			return
		}
	}
	panic(http.ErrAbortHandler)
}

func (c *chain) serveAuthDenied(w http.ResponseWriter, r *http.Request, requestID, operation string, body []byte) bool {
	if c.cfg.Auth == nil {
		return false
	}
	settings := c.cfg.Auth.Settings()
	if !settings.EnabledFor(c.cfg.Service) {
		return false
	}
	identityName := r.Header.Get(identityHeader)
	if identityName == "" {
		identityName = settings.DefaultIdentity
	}
	resource := ""
	if c.cfg.ExtractResource != nil {
		resource = c.cfg.ExtractResource(r, body)
	}
	decision := c.cfg.Auth.Evaluate(identityName, c.cfg.Service, operation, resource)
	if decision.Allowed {
		return false
	}
	if settings.Mode == iam.ModeAudit {
		c.cfg.Log.Warnw("audit: access would be denied",
			"service", c.cfg.Service, "operation", operation, "identity", identityName, "reason", decision.Reason)
		return false
	}
	c.cfg.Log.Debugw("access denied",
		"service", c.cfg.Service, "operation", operation, "identity", identityName, "reason", decision.Reason)
	awserr.Write(w, c.cfg.Family, requestID, accessDenied(c.cfg.Family, decision.Reason, r.URL.Path))
	return true
}

func accessDenied(family awserr.Family, reason, resource string) error {
	switch family {
	case awserr.FamilyQuery:
		return awserr.AccessDeniedQuery(reason)
	case awserr.FamilyS3:
		return awserr.AccessDeniedS3(reason, resource)
	default:
		return awserr.AccessDeniedJSON(reason)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Hijack passes through so chaos connection resets work behind the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
