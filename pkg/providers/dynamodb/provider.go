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

// Package dynamodb is the table engine: tables with condition, filter and
// update expressions, persisted per table to the data directory, with an
// in-memory change stream per table.
package dynamodb

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/compute"
	"github.com/lws-dev/lws/pkg/middleware"
	"github.com/lws-dev/lws/pkg/providers"
)

const ServiceName = "dynamodb"

type Provider struct {
	srv     providers.Server
	port    int
	dataDir string
	log     *zap.SugaredLogger
	clk     clock.Clock

	mu      sync.RWMutex
	tables  map[string]*table
	streams map[string]*stream

	invoker compute.Invoker

	middleware middleware.Config
	done       chan struct{}
	wg         sync.WaitGroup
}

func NewProvider(log *zap.SugaredLogger, clk clock.Clock, port int, dataDir string, mw middleware.Config) *Provider {
	mw.Service = ServiceName
	mw.Family = awserr.FamilyJSON
	mw.ExtractOperation = middleware.TargetOperation
	mw.Log = log.Named(ServiceName)
	return &Provider{
		port:       port,
		dataDir:    dataDir,
		log:        log.Named(ServiceName),
		clk:        clk,
		tables:     map[string]*table{},
		streams:    map[string]*stream{},
		middleware: mw,
	}
}

func (p *Provider) SetInvoker(invoker compute.Invoker) { p.invoker = invoker }

func (p *Provider) Name() string { return ServiceName }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) Start(_ context.Context) error {
	p.done = make(chan struct{})
	if err := p.loadPersisted(); err != nil {
		return err
	}
	router := chi.NewRouter()
	router.Handle("/*", middleware.Chain(p.middleware, http.HandlerFunc(p.handle)))
	if err := p.srv.Listen(p.port, router); err != nil {
		return fmt.Errorf("starting dynamodb provider, %w", err)
	}
	p.log.Infow("started", "port", p.port, "tables", len(p.tables))
	return nil
}

// loadPersisted restores every table file found under the data directory.
func (p *Provider) loadPersisted() error {
	dir := filepath.Join(p.dataDir, "dynamodb")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading table directory, %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		t, err := loadTable(p.dataDir, filepath.Join(dir, entry.Name()))
		if err != nil {
			p.log.Warnw("skipping unreadable table file", "file", entry.Name(), "error", err)
			continue
		}
		p.mu.Lock()
		p.tables[t.name] = t
		if t.stream.Enabled {
			p.attachStream(t)
		}
		p.mu.Unlock()
	}
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.wg.Wait()
	return p.srv.Shutdown(ctx)
}

func (p *Provider) Healthy() bool { return p.srv.Serving() }

func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tables {
		if err := t.drop(); err != nil {
			p.log.Warnw("dropping table on reset", "table", t.name, "error", err)
		}
	}
	p.tables = map[string]*table{}
	for _, s := range p.streams {
		s.close()
	}
	p.streams = map[string]*stream{}
}

func (p *Provider) Resources() []providers.Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Map(lo.Values(p.tables), func(t *table, _ int) providers.Resource {
		return providers.Resource{
			Name: t.name,
			ARN:  tableARN(t.name),
		}
	})
}

func tableARN(name string) string {
	return fmt.Sprintf("arn:aws:dynamodb:us-east-1:000000000000:table/%s", name)
}

// CreateTable materializes an empty table; duplicates are rejected.
func (p *Provider) CreateTable(name string, hashKey KeyElement, rangeKey *KeyElement, indexes []IndexSpec, streamSpec StreamSpec) (*table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tables[name]; ok {
		return nil, awserr.ResourceInUseException("Table already exists: %s", name)
	}
	t := newTable(p.dataDir, name, hashKey, rangeKey, indexes, streamSpec)
	if err := func() error { t.mu.Lock(); defer t.mu.Unlock(); return t.persist() }(); err != nil {
		return nil, err
	}
	p.tables[name] = t
	if streamSpec.Enabled {
		p.attachStream(t)
	}
	return t, nil
}

// attachStream must be called with p.mu held.
func (p *Provider) attachStream(t *table) {
	s := newStream(t.name, t.stream.ViewType, p.clk, p.log)
	p.streams[t.name] = s
	done := p.done
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		s.dispatch(done, p.invoker)
	}()
}

func (p *Provider) DeleteTable(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tables[name]
	if !ok {
		return awserr.ResourceNotFoundException("Requested resource not found: Table: %s not found", name)
	}
	if err := t.drop(); err != nil {
		return err
	}
	delete(p.tables, name)
	// the dispatcher goroutine must not outlive the table
	if s, ok := p.streams[name]; ok {
		s.close()
		delete(p.streams, name)
	}
	return nil
}

func (p *Provider) table(name string) (*table, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tables[name]
	if !ok {
		return nil, awserr.ResourceNotFoundException("Requested resource not found: Table: %s not found", name)
	}
	return t, nil
}

// SubscribeStream registers a compute function as a stream subscriber.
func (p *Provider) SubscribeStream(tableName, functionName string) error {
	p.mu.RLock()
	s, ok := p.streams[tableName]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("table %s has no stream", tableName)
	}
	s.subscribe(functionName)
	return nil
}

// StreamRecords exposes the in-memory ring for inspection.
func (p *Provider) StreamRecords(tableName string) []StreamRecord {
	p.mu.RLock()
	s, ok := p.streams[tableName]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.records()
}

// emit hands a captured change to the table's stream, when one is enabled.
func (p *Provider) emit(tableName string, c *change) {
	if c == nil {
		return
	}
	p.mu.RLock()
	s, ok := p.streams[tableName]
	p.mu.RUnlock()
	if ok {
		s.record(c)
	}
}
