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

// Package sqs emulates the queue service: standard queues with visibility
// timeouts, receipt handles and dead-letter redrive.
package sqs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/middleware"
	"github.com/lws-dev/lws/pkg/providers"
)

const (
	ServiceName = "sqs"

	sweepInterval = 250 * time.Millisecond
)

// Provider is the queue service. The visibility sweeper is the single writer
// for expiry handling across all queues.
type Provider struct {
	srv  providers.Server
	port int
	log  *zap.SugaredLogger
	clk  clock.WithTicker

	mu     sync.RWMutex
	queues map[string]*Queue

	middleware middleware.Config

	done chan struct{}
	wg   sync.WaitGroup
}

func NewProvider(log *zap.SugaredLogger, clk clock.WithTicker, port int, mw middleware.Config) *Provider {
	mw.Service = ServiceName
	mw.Family = awserr.FamilyQuery
	mw.ExtractOperation = middleware.FormAction
	mw.Log = log.Named(ServiceName)
	return &Provider{
		port:       port,
		log:        log.Named(ServiceName),
		clk:        clk,
		queues:     map[string]*Queue{},
		middleware: mw,
	}
}

func (p *Provider) Name() string { return ServiceName }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) Start(_ context.Context) error {
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.runSweeper(p.done)
	router := chi.NewRouter()
	router.Handle("/*", middleware.Chain(p.middleware, http.HandlerFunc(p.handle)))
	if err := p.srv.Listen(p.port, router); err != nil {
		return fmt.Errorf("starting sqs provider, %w", err)
	}
	p.log.Infow("started", "port", p.port)
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

// Reset drops every queue.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = map[string]*Queue{}
}

// Resources lists queues for the management plane.
func (p *Provider) Resources() []providers.Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Map(lo.Values(p.queues), func(q *Queue, _ int) providers.Resource {
		return providers.Resource{Name: q.Name, ARN: q.ARN}
	})
}

// runSweeper periodically requeues expired in-flight messages and moves
// over-limit messages to their dead-letter queue with attributes preserved.
func (p *Provider) runSweeper(done <-chan struct{}) {
	defer p.wg.Done()
	ticker := p.clk.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
		}
		p.mu.RLock()
		queues := lo.Values(p.queues)
		p.mu.RUnlock()
		for _, q := range queues {
			for _, msg := range q.sweepExpired() {
				p.deadLetter(q, msg)
			}
		}
	}
}

func (p *Provider) deadLetter(src *Queue, msg *Message) {
	dlq, ok := p.QueueByARN(src.deadLetterTargetARN())
	if !ok {
		p.log.Warnw("dead-letter queue not found, dropping message", "queue", src.Name, "target", src.deadLetterTargetARN())
		return
	}
	dlq.mu.Lock()
	msg.VisibleAt = p.clk.Now()
	dlq.messages = append(dlq.messages, msg)
	dlq.mu.Unlock()
	p.log.Debugw("dead-lettered message", "queue", src.Name, "dlq", dlq.Name, "message-id", msg.ID)
}

// CreateQueue makes the queue if absent; repeating the call with the same
// name succeeds and returns the existing URL.
func (p *Provider) CreateQueue(name string, attributes map[string]string) (*Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[name]; ok {
		return q, nil
	}
	url := fmt.Sprintf("http://localhost:%d/000000000000/%s", p.port, name)
	arn := fmt.Sprintf("arn:aws:sqs:us-east-1:000000000000:%s", name)
	q, err := newQueue(name, url, arn, attributes, p.clk)
	if err != nil {
		return nil, err
	}
	p.queues[name] = q
	return q, nil
}

// QueueByName looks a queue up by name.
func (p *Provider) QueueByName(name string) (*Queue, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.queues[name]
	return q, ok
}

// QueueByARN looks a queue up by its ARN; fan-out targets hold ARNs only and
// dereference here on publish.
func (p *Provider) QueueByARN(arn string) (*Queue, bool) {
	if arn == "" {
		return nil, false
	}
	parts := strings.Split(arn, ":")
	return p.QueueByName(parts[len(parts)-1])
}

// SendToQueueARN delivers a message body to the queue behind the ARN; used by
// topic fan-out and object-store notifications.
func (p *Provider) SendToQueueARN(arn, body string, attrs map[string]MessageAttribute) error {
	q, ok := p.QueueByARN(arn)
	if !ok {
		return fmt.Errorf("queue %s does not exist", arn)
	}
	q.Send(body, 0, messageAttributesCopy(attrs))
	return nil
}

func (p *Provider) queueFromRequest(r *http.Request) (*Queue, error) {
	queueURL := r.FormValue("QueueUrl")
	name := queueURL
	if idx := strings.LastIndex(queueURL, "/"); idx >= 0 {
		name = queueURL[idx+1:]
	}
	// requests addressed to /{account}/{queue} carry the queue in the path
	if name == "" {
		name = chi.URLParam(r, "*")
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
	}
	q, ok := p.QueueByName(name)
	if !ok {
		return nil, awserr.NewQuery("AWS.SimpleQueueService.NonExistentQueue", fmt.Sprintf("The specified queue %s does not exist.", name), http.StatusBadRequest)
	}
	return q, nil
}
