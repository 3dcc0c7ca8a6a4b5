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

// Package s3 is the filesystem-backed object store: buckets, objects,
// multipart uploads, website serving and bucket notifications.
package s3

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/compute"
	"github.com/lws-dev/lws/pkg/middleware"
	"github.com/lws-dev/lws/pkg/providers"
)

const ServiceName = "s3"

type Provider struct {
	srv  providers.Server
	port int
	log  *zap.SugaredLogger

	store   *Store
	uploads *uploads

	queues  QueueSender
	topics  TopicPublisher
	invoker compute.Invoker

	middleware middleware.Config
	wg         sync.WaitGroup
}

func NewProvider(log *zap.SugaredLogger, port int, dataDir string, mw middleware.Config) *Provider {
	mw.Service = ServiceName
	mw.Family = awserr.FamilyS3
	mw.ExtractOperation = middleware.RESTOperation
	mw.ExtractResource = middleware.S3Resource
	mw.Log = log.Named(ServiceName)
	return &Provider{
		port:       port,
		log:        log.Named(ServiceName),
		store:      NewStore(dataDir),
		uploads:    newUploads(dataDir),
		middleware: mw,
	}
}

func (p *Provider) SetQueues(queues QueueSender)       { p.queues = queues }
func (p *Provider) SetTopics(topics TopicPublisher)    { p.topics = topics }
func (p *Provider) SetInvoker(invoker compute.Invoker) { p.invoker = invoker }

func (p *Provider) Name() string { return ServiceName }
func (p *Provider) Port() int    { return p.port }

func (p *Provider) Start(_ context.Context) error {
	router := chi.NewRouter()
	router.Handle("/*", middleware.Chain(p.middleware, http.HandlerFunc(p.handle)))
	if err := p.srv.Listen(p.port, router); err != nil {
		return fmt.Errorf("starting s3 provider, %w", err)
	}
	p.log.Infow("started", "port", p.port)
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	p.wg.Wait()
	return p.srv.Shutdown(ctx)
}

func (p *Provider) Healthy() bool { return p.srv.Serving() }

func (p *Provider) Reset() {
	buckets, err := p.store.Buckets()
	if err != nil {
		p.log.Warnw("listing buckets on reset", "error", err)
		return
	}
	for _, cfg := range buckets {
		if err := p.store.DeleteBucket(cfg.Name); err != nil {
			p.log.Warnw("deleting bucket on reset", "bucket", cfg.Name, "error", err)
		}
	}
}

func (p *Provider) Resources() []providers.Resource {
	buckets, err := p.store.Buckets()
	if err != nil {
		return nil
	}
	return lo.Map(buckets, func(cfg *BucketConfig, _ int) providers.Resource {
		keys, _ := p.store.Keys(cfg.Name)
		return providers.Resource{
			Name: cfg.Name,
			ARN:  "arn:aws:s3:::" + cfg.Name,
			Children: lo.Map(keys, func(key string, _ int) providers.Resource {
				return providers.Resource{Name: key, ARN: "arn:aws:s3:::" + cfg.Name + "/" + key}
			}),
		}
	})
}
