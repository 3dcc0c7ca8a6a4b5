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

// Package operator owns the fleet: it constructs the enabled providers,
// wires their cross-service references, brings them up in dependency order
// and tears them down in reverse.
package operator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/lws-dev/lws/pkg/chaos"
	"github.com/lws-dev/lws/pkg/compute"
	"github.com/lws-dev/lws/pkg/iam"
	"github.com/lws-dev/lws/pkg/management"
	"github.com/lws-dev/lws/pkg/middleware"
	"github.com/lws-dev/lws/pkg/mock"
	"github.com/lws-dev/lws/pkg/operator/options"
	"github.com/lws-dev/lws/pkg/providers"
	"github.com/lws-dev/lws/pkg/providers/dynamodb"
	"github.com/lws-dev/lws/pkg/providers/eventbridge"
	"github.com/lws-dev/lws/pkg/providers/s3"
	"github.com/lws-dev/lws/pkg/providers/sns"
	"github.com/lws-dev/lws/pkg/providers/sqs"
	"github.com/lws-dev/lws/pkg/registry"
	"github.com/lws-dev/lws/pkg/watcher"
)

// Operator is the orchestrator: one instance owns the provider fleet, the
// shared config registries and the management listener on the fleet port.
type Operator struct {
	opts *options.Options
	log  *zap.SugaredLogger
	clk  clock.WithTicker

	Chaos    *chaos.Registry
	Mocks    *mock.Registry
	Auth     *iam.Store
	Registry *registry.ServiceRegistry
	Invoker  compute.Invoker

	fleet     []providers.Provider
	mgmt      *management.Handler
	mgmtSrv   providers.Server
	watch     *watcher.Watcher
	startedAt time.Time
}

// New constructs the fleet per the options: every enabled provider, wired
// through setters before any Start.
func New(log *zap.SugaredLogger, clk clock.WithTicker, opts *options.Options) (*Operator, error) {
	o := &Operator{
		opts:     opts,
		log:      log.Named("operator"),
		clk:      clk,
		Chaos:    chaos.NewRegistry(),
		Mocks:    mock.NewRegistry(),
		Auth:     iam.NewStore(),
		Registry: registry.NewServiceRegistry(),
		Invoker:  compute.NewLoggingInvoker(log),
	}
	if err := o.loadAuthFiles(); err != nil {
		return nil, err
	}
	mw := middleware.Config{Mocks: o.Mocks, Chaos: o.Chaos, Auth: o.Auth}

	enabled := func(name string) bool { return lo.Contains(opts.Services, name) }
	var ddb *dynamodb.Provider
	var store *s3.Provider
	var queues *sqs.Provider
	var bus *eventbridge.Provider
	var topics *sns.Provider

	// construction follows the bring-up order: the kv engine, object store
	// and queue first, then the engines that hold references to them
	if enabled(dynamodb.ServiceName) {
		ddb = dynamodb.NewProvider(log, clk, opts.PortFor(dynamodb.ServiceName), opts.DataDir, mw)
		o.fleet = append(o.fleet, ddb)
	}
	if enabled(s3.ServiceName) {
		store = s3.NewProvider(log, opts.PortFor(s3.ServiceName), opts.DataDir, mw)
		o.fleet = append(o.fleet, store)
	}
	if enabled(sqs.ServiceName) {
		queues = sqs.NewProvider(log, clk, opts.PortFor(sqs.ServiceName), mw)
		o.fleet = append(o.fleet, queues)
	}
	if enabled(eventbridge.ServiceName) {
		bus = eventbridge.NewProvider(log, clk, opts.PortFor(eventbridge.ServiceName), mw)
		o.fleet = append(o.fleet, bus)
	}
	if enabled(sns.ServiceName) {
		topics = sns.NewProvider(log, clk, opts.PortFor(sns.ServiceName), mw)
		o.fleet = append(o.fleet, topics)
	}

	// cross-service references are injected before any provider starts
	if ddb != nil {
		ddb.SetInvoker(o.Invoker)
	}
	if bus != nil {
		bus.SetInvoker(o.Invoker)
		if queues != nil {
			bus.SetQueues(queues)
		}
	}
	if topics != nil {
		topics.SetInvoker(o.Invoker)
		if queues != nil {
			topics.SetQueues(queues)
		}
	}
	if store != nil {
		store.SetInvoker(o.Invoker)
		if queues != nil {
			store.SetQueues(queues)
		}
		if topics != nil {
			store.SetTopics(topics)
		}
	}

	o.mgmt = management.NewHandler(log, o, o.Chaos, o.Mocks, o.Auth)
	if opts.Watch {
		dir := opts.WatchDir
		if dir == "" && opts.IdentitiesFile != "" {
			dir = filepath.Dir(opts.IdentitiesFile)
		}
		if dir != "" {
			o.watch = watcher.New(log, dir, watcher.WithInclude("*.yaml", "*.yml"))
		}
	}
	return o, nil
}

func (o *Operator) loadAuthFiles() error {
	if o.opts.IdentitiesFile != "" {
		if err := o.Auth.LoadIdentities(o.opts.IdentitiesFile); err != nil {
			return fmt.Errorf("loading identities, %w", err)
		}
	}
	if o.opts.PermissionsFile != "" {
		if err := o.Auth.LoadPermissions(o.opts.PermissionsFile); err != nil {
			return fmt.Errorf("loading permissions, %w", err)
		}
	}
	return nil
}

// Start brings the fleet up in order; a port collision or any other start
// failure stops the providers already running and aborts.
func (o *Operator) Start(ctx context.Context) error {
	o.startedAt = o.clk.Now()
	for i, p := range o.fleet {
		if err := p.Start(ctx); err != nil {
			o.stopProviders(ctx, o.fleet[:i])
			return fmt.Errorf("starting %s, %w", p.Name(), err)
		}
		o.Registry.Register(p.Name(), "localhost", p.Port())
	}
	if err := o.mgmtSrv.Listen(o.opts.FleetPort, o.mgmt); err != nil {
		o.stopProviders(ctx, o.fleet)
		return fmt.Errorf("starting management listener, %w", err)
	}
	if o.watch != nil {
		if err := o.watch.Start(); err != nil {
			o.log.Warnw("config watcher failed to start", "error", err)
		} else {
			go o.runReloader()
		}
	}
	o.log.Infow("fleet up", "port", o.opts.FleetPort, "services", len(o.fleet))
	return nil
}

// runReloader re-reads the auth YAMLs whenever the watcher reports a change;
// providers keep serving uninterrupted.
func (o *Operator) runReloader() {
	for ev := range o.watch.Events() {
		o.log.Infow("config change detected, reloading", "path", ev.Path)
		if err := o.loadAuthFiles(); err != nil {
			o.log.Errorw("config reload failed", "path", ev.Path, "error", err)
		}
	}
}

// Stop tears the fleet down in reverse order, giving each provider the grace
// window. A provider that exceeds it is abandoned with an error log.
func (o *Operator) Stop(ctx context.Context) error {
	if o.watch != nil {
		o.watch.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, o.opts.ShutdownGrace)
	err := o.mgmtSrv.Shutdown(shutdownCtx)
	cancel()
	return multierr.Append(err, o.stopProviders(ctx, o.fleet))
}

func (o *Operator) stopProviders(ctx context.Context, fleet []providers.Provider) error {
	var errs error
	for i := len(fleet) - 1; i >= 0; i-- {
		p := fleet[i]
		stopCtx, cancel := context.WithTimeout(ctx, o.opts.ShutdownGrace)
		done := make(chan error, 1)
		go func() { done <- p.Stop(stopCtx) }()
		select {
		case err := <-done:
			if err != nil {
				o.log.Errorw("provider stop failed", "service", p.Name(), "error", err)
				errs = multierr.Append(errs, err)
			}
		case <-stopCtx.Done():
			o.log.Errorw("provider exceeded shutdown grace, abandoning", "service", p.Name(), "grace", o.opts.ShutdownGrace)
			errs = multierr.Append(errs, fmt.Errorf("stopping %s exceeded %s", p.Name(), o.opts.ShutdownGrace))
		}
		cancel()
		o.Registry.Deregister(p.Name())
	}
	return errs
}

// Status implements management.Fleet.
func (o *Operator) Status() []management.ServiceStatus {
	return lo.Map(o.fleet, func(p providers.Provider, _ int) management.ServiceStatus {
		return management.ServiceStatus{Name: p.Name(), Port: p.Port(), Healthy: p.Healthy()}
	})
}

// Resources implements management.Fleet.
func (o *Operator) Resources() map[string][]providers.Resource {
	out := map[string][]providers.Resource{}
	for _, p := range o.fleet {
		if lister, ok := p.(providers.ResourceLister); ok {
			out[p.Name()] = lister.Resources()
		}
	}
	return out
}

// Reset implements management.Fleet: every provider that supports it drops
// its state.
func (o *Operator) Reset() {
	for _, p := range o.fleet {
		if resetter, ok := p.(providers.Resetter); ok {
			resetter.Reset()
		}
	}
	o.Mocks.ClearAll()
}

// Environ synthesizes the child-process environment for the running fleet.
func (o *Operator) Environ() []string {
	return o.Registry.Environment(o.opts.FleetPort)
}
