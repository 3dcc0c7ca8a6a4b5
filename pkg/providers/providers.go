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

// Package providers defines the uniform lifecycle every emulated service
// implements plus the optional capabilities the orchestrator probes for when
// wiring cross-service references.
package providers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Provider is the lifecycle contract. Start binds the listener and launches
// background tasks; Stop is idempotent and must release both within the
// orchestrator's grace window.
type Provider interface {
	Name() string
	Port() int
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Healthy() bool
}

// Resource is one node of the management plane's resource tree.
type Resource struct {
	Name     string     `json:"name"`
	ARN      string     `json:"arn,omitempty"`
	Children []Resource `json:"children,omitempty"`
}

// ResourceLister is implemented by providers that expose resources for
// introspection.
type ResourceLister interface {
	Resources() []Resource
}

// Resetter drops in-memory state on a management-plane reset.
type Resetter interface {
	Reset()
}

// Server owns one provider's HTTP listener. Binding is split from serving so
// a taken port fails Start synchronously.
type Server struct {
	server   *http.Server
	listener net.Listener
}

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
)

// Listen binds the port and begins serving handler in the background. The
// returned error reports a port collision immediately.
func (s *Server) Listen(port int, handler http.Handler) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("binding port %d, %w", port, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	go func() {
		_ = s.server.Serve(listener)
	}()
	return nil
}

// Shutdown drains the listener within ctx's deadline, then force-closes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("draining listener, %w", err)
	}
	return nil
}

// Serving reports whether the listener is bound.
func (s *Server) Serving() bool {
	return s.listener != nil
}
