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

// Package sns emulates topic fan-out: subscriptions with filter policies and
// per-subscription FIFO delivery to queues, functions and HTTP endpoints.
package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/compute"
	"github.com/lws-dev/lws/pkg/middleware"
	"github.com/lws-dev/lws/pkg/providers"
	"github.com/lws-dev/lws/pkg/providers/sqs"
)

const ServiceName = "sns"

// QueueSender is the port through which deliveries reach the queue service.
// Subscriptions hold queue ARNs only and dereference on publish.
type QueueSender interface {
	SendToQueueARN(arn, body string, attrs map[string]sqs.MessageAttribute) error
}

// Subscription is one endpoint attached to a topic.
type Subscription struct {
	ARN                string
	TopicARN           string
	Protocol           string
	Endpoint           string
	RawMessageDelivery bool
	FilterPolicy       map[string]interface{}

	ch chan published
}

// Topic is a named fan-out point with an ordered subscription list.
type Topic struct {
	Name          string
	ARN           string
	Subscriptions []*Subscription
	Tags          map[string]string
}

// Provider is the topic service.
type Provider struct {
	srv  providers.Server
	port int
	log  *zap.SugaredLogger
	clk  clock.Clock

	mu     sync.RWMutex
	topics map[string]*Topic

	queues  QueueSender
	invoker compute.Invoker

	middleware middleware.Config
	wg         sync.WaitGroup
}

func NewProvider(log *zap.SugaredLogger, clk clock.Clock, port int, mw middleware.Config) *Provider {
	mw.Service = ServiceName
	mw.Family = awserr.FamilyQuery
	mw.ExtractOperation = middleware.FormAction
	mw.Log = log.Named(ServiceName)
	return &Provider{
		port:       port,
		log:        log.Named(ServiceName),
		clk:        clk,
		topics:     map[string]*Topic{},
		middleware: mw,
	}
}

// SetQueues wires the queue service; called by the orchestrator before Start.
func (p *Provider) SetQueues(queues QueueSender) { p.queues = queues }

// SetInvoker wires the compute port; called by the orchestrator before Start.
func (p *Provider) SetInvoker(invoker compute.Invoker) { p.invoker = invoker }

func (p *Provider) Name() string { return ServiceName }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) Start(_ context.Context) error {
	router := chi.NewRouter()
	router.Handle("/*", middleware.Chain(p.middleware, http.HandlerFunc(p.handle)))
	if err := p.srv.Listen(p.port, router); err != nil {
		return fmt.Errorf("starting sns provider, %w", err)
	}
	p.log.Infow("started", "port", p.port)
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	for _, topic := range p.topics {
		for _, sub := range topic.Subscriptions {
			if sub.ch != nil {
				close(sub.ch)
				sub.ch = nil
			}
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
	return p.srv.Shutdown(ctx)
}

func (p *Provider) Healthy() bool { return p.srv.Serving() }

// Reset drops every topic and stops the attached workers.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, topic := range p.topics {
		for _, sub := range topic.Subscriptions {
			if sub.ch != nil {
				close(sub.ch)
				sub.ch = nil
			}
		}
	}
	p.topics = map[string]*Topic{}
}

func (p *Provider) Resources() []providers.Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Map(lo.Values(p.topics), func(t *Topic, _ int) providers.Resource {
		return providers.Resource{
			Name: t.Name,
			ARN:  t.ARN,
			Children: lo.Map(t.Subscriptions, func(s *Subscription, _ int) providers.Resource {
				return providers.Resource{Name: s.Protocol + ":" + s.Endpoint, ARN: s.ARN}
			}),
		}
	})
}

// CreateTopic makes a topic, idempotently.
func (p *Provider) CreateTopic(name string) *Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic, ok := p.topics[name]; ok {
		return topic
	}
	topic := &Topic{
		Name: name,
		ARN:  fmt.Sprintf("arn:aws:sns:us-east-1:000000000000:%s", name),
		Tags: map[string]string{},
	}
	p.topics[name] = topic
	return topic
}

// Subscribe attaches an endpoint to a topic and starts its delivery worker.
func (p *Provider) Subscribe(topicARN, protocol, endpoint string) (*Subscription, error) {
	topic, ok := p.topicByARN(topicARN)
	if !ok {
		return nil, awserr.NewQuery("NotFound", fmt.Sprintf("Topic does not exist: %s", topicARN), http.StatusNotFound)
	}
	sub := &Subscription{
		ARN:      fmt.Sprintf("%s:%s", topicARN, uuid.NewString()),
		TopicARN: topicARN,
		Protocol: protocol,
		Endpoint: endpoint,
		ch:       make(chan published, dispatchBuffer),
	}
	p.mu.Lock()
	topic.Subscriptions = append(topic.Subscriptions, sub)
	p.mu.Unlock()
	p.wg.Add(1)
	go p.runWorker(sub)
	return sub, nil
}

// Publish fans the message out to every subscription whose filter policy
// matches. Dispatch is non-blocking; a full subscription buffer drops.
func (p *Provider) Publish(topicARN, message, subject string, attrs map[string]publishedAttribute) (string, error) {
	topic, ok := p.topicByARN(topicARN)
	if !ok {
		return "", awserr.NewQuery("NotFound", fmt.Sprintf("Topic does not exist: %s", topicARN), http.StatusNotFound)
	}
	msg := published{
		MessageID:  uuid.NewString(),
		TopicARN:   topicARN,
		Message:    message,
		Subject:    subject,
		Timestamp:  p.clk.Now(),
		Attributes: attrs,
	}
	stringAttrs := lo.MapEntries(attrs, func(k string, v publishedAttribute) (string, string) {
		return k, v.StringValue
	})
	p.mu.RLock()
	subscriptions := append([]*Subscription{}, topic.Subscriptions...)
	p.mu.RUnlock()
	for _, sub := range subscriptions {
		if len(sub.FilterPolicy) > 0 && !matchesFilterPolicy(sub.FilterPolicy, stringAttrs) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			p.log.Warnw("subscription buffer full, dropping message", "subscription", sub.ARN, "message-id", msg.MessageID)
		}
	}
	return msg.MessageID, nil
}

func (p *Provider) topicByARN(arn string) (*Topic, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	topic, ok := lo.Find(lo.Values(p.topics), func(t *Topic) bool { return t.ARN == arn })
	return topic, ok
}

func (p *Provider) subscriptionByARN(arn string) (*Topic, *Subscription, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, topic := range p.topics {
		for _, sub := range topic.Subscriptions {
			if sub.ARN == arn {
				return topic, sub, true
			}
		}
	}
	return nil, nil, false
}

// PublishEnvelope delivers a pre-built document (scheduler and notification
// callers) through the normal fan-out path.
func (p *Provider) PublishEnvelope(topicARN string, document interface{}) error {
	raw, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("marshaling envelope, %w", err)
	}
	_, err = p.Publish(topicARN, string(raw), "", nil)
	return err
}
