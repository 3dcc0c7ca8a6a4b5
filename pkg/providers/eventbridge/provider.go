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

// Package eventbridge emulates the rule engine: event patterns, schedule
// expressions and target delivery with input transforms.
package eventbridge

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

const (
	ServiceName   = "eventbridge"
	defaultBus    = "default"
	targetTimeout = 30
)

type RuleState string

const (
	RuleEnabled  RuleState = "ENABLED"
	RuleDisabled RuleState = "DISABLED"
)

// Target is one delivery destination of a rule.
type Target struct {
	ID               string            `json:"Id"`
	ARN              string            `json:"Arn"`
	InputPath        string            `json:"InputPath,omitempty"`
	InputTransformer *InputTransformer `json:"InputTransformer,omitempty"`
}

type InputTransformer struct {
	InputPathsMap map[string]string `json:"InputPathsMap,omitempty"`
	InputTemplate string            `json:"InputTemplate"`
}

// Rule matches events by pattern or fires on a schedule.
type Rule struct {
	Name               string                 `json:"Name"`
	ARN                string                 `json:"Arn"`
	EventBus           string                 `json:"EventBusName"`
	State              RuleState              `json:"State"`
	EventPattern       map[string]interface{} `json:"-"`
	ScheduleExpression string                 `json:"ScheduleExpression,omitempty"`
	Targets            []Target               `json:"-"`
}

// QueueSender is the port into the queue service for queue targets.
type QueueSender interface {
	SendToQueueARN(arn, body string, attrs map[string]sqs.MessageAttribute) error
}

// Provider is the rule engine plus its scheduler.
type Provider struct {
	srv  providers.Server
	port int
	log  *zap.SugaredLogger
	clk  clock.Clock

	mu    sync.RWMutex
	rules map[string]*Rule

	sched   *scheduler
	queues  QueueSender
	invoker compute.Invoker

	middleware middleware.Config
	done       chan struct{}
	wg         sync.WaitGroup
}

func NewProvider(log *zap.SugaredLogger, clk clock.Clock, port int, mw middleware.Config) *Provider {
	mw.Service = ServiceName
	mw.Family = awserr.FamilyJSON
	mw.ExtractOperation = middleware.TargetOperation
	mw.Log = log.Named(ServiceName)
	p := &Provider{
		port:       port,
		log:        log.Named(ServiceName),
		clk:        clk,
		rules:      map[string]*Rule{},
		middleware: mw,
	}
	p.sched = newScheduler(clk, p.log, p.fireScheduledRule)
	return p
}

func (p *Provider) SetQueues(queues QueueSender)       { p.queues = queues }
func (p *Provider) SetInvoker(invoker compute.Invoker) { p.invoker = invoker }

func (p *Provider) Name() string { return ServiceName }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) Start(_ context.Context) error {
	p.done = make(chan struct{})
	p.wg.Add(1)
	done := p.done
	go func() {
		defer p.wg.Done()
		p.sched.run(done)
	}()
	router := chi.NewRouter()
	router.Handle("/*", middleware.Chain(p.middleware, http.HandlerFunc(p.handle)))
	if err := p.srv.Listen(p.port, router); err != nil {
		return fmt.Errorf("starting eventbridge provider, %w", err)
	}
	p.log.Infow("started", "port", p.port)
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.sched.kick()
	p.wg.Wait()
	return p.srv.Shutdown(ctx)
}

func (p *Provider) Healthy() bool { return p.srv.Serving() }

func (p *Provider) Reset() {
	p.mu.Lock()
	names := lo.Keys(p.rules)
	p.rules = map[string]*Rule{}
	p.mu.Unlock()
	for _, name := range names {
		p.sched.Remove(name)
	}
}

func (p *Provider) Resources() []providers.Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Map(lo.Values(p.rules), func(r *Rule, _ int) providers.Resource {
		return providers.Resource{
			Name: r.Name,
			ARN:  r.ARN,
			Children: lo.Map(r.Targets, func(t Target, _ int) providers.Resource {
				return providers.Resource{Name: t.ID, ARN: t.ARN}
			}),
		}
	})
}

// PutRule creates or updates a rule; a schedule expression registers it with
// the scheduler when the rule is enabled.
func (p *Provider) PutRule(rule *Rule) error {
	if rule.EventBus == "" {
		rule.EventBus = defaultBus
	}
	if rule.State == "" {
		rule.State = RuleEnabled
	}
	rule.ARN = fmt.Sprintf("arn:aws:events:us-east-1:000000000000:rule/%s", rule.Name)
	var schedule Schedule
	if rule.ScheduleExpression != "" {
		var err error
		schedule, err = ParseSchedule(rule.ScheduleExpression)
		if err != nil {
			return awserr.ValidationException("invalid schedule expression: %s", err)
		}
	}
	p.mu.Lock()
	if existing, ok := p.rules[rule.Name]; ok {
		rule.Targets = existing.Targets
	}
	p.rules[rule.Name] = rule
	p.mu.Unlock()
	if schedule != nil && rule.State == RuleEnabled {
		p.sched.Add(rule.Name, schedule)
	} else {
		p.sched.Remove(rule.Name)
	}
	return nil
}

func (p *Provider) rule(name string) (*Rule, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rule, ok := p.rules[name]
	return rule, ok
}

// fireScheduledRule delivers the scheduled-event envelope to every target of
// the rule.
func (p *Provider) fireScheduledRule(name string) {
	rule, ok := p.rule(name)
	if !ok || rule.State != RuleEnabled {
		return
	}
	event := scheduledEvent(rule.ARN, p.clk.Now())
	p.mu.RLock()
	targets := append([]Target{}, rule.Targets...)
	p.mu.RUnlock()
	for _, target := range targets {
		p.dispatchTarget(target, event)
	}
}

// PutEvent routes one event through every enabled rule whose pattern matches.
// Returns the assigned event id.
func (p *Provider) PutEvent(source, detailType string, detail map[string]interface{}, resources []string) string {
	event := map[string]interface{}{
		"version":     "0",
		"id":          uuid.NewString(),
		"detail-type": detailType,
		"source":      source,
		"account":     "000000000000",
		"time":        p.clk.Now().UTC().Format("2006-01-02T15:04:05Z"),
		"region":      "us-east-1",
		"resources":   lo.Map(resources, func(r string, _ int) interface{} { return r }),
		"detail":      detail,
	}
	p.mu.RLock()
	rules := lo.Values(p.rules)
	p.mu.RUnlock()
	for _, rule := range rules {
		if rule.State != RuleEnabled || len(rule.EventPattern) == 0 {
			continue
		}
		if !matchesPattern(rule.EventPattern, event) {
			continue
		}
		p.mu.RLock()
		targets := append([]Target{}, rule.Targets...)
		p.mu.RUnlock()
		for _, target := range targets {
			p.dispatchTarget(target, event)
		}
	}
	return event["id"].(string)
}

func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshaling %T: %s", v, err))
	}
	return raw
}
