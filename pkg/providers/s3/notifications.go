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

package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/lws-dev/lws/pkg/compute"
	"github.com/lws-dev/lws/pkg/providers/sqs"
)

const (
	notifyRetries = 3
	notifyBackoff = 250 * time.Millisecond
	notifyTimeout = 30
)

// QueueSender is the port into the queue service for queue-ARN targets.
type QueueSender interface {
	SendToQueueARN(arn, body string, attrs map[string]sqs.MessageAttribute) error
}

// TopicPublisher is the port into the fan-out service for topic-ARN targets.
type TopicPublisher interface {
	PublishEnvelope(topicARN string, document interface{}) error
}

// s3Event is the bucket-notification envelope.
func s3Event(eventName, bucket, key, etag string, size int64, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"Records": []map[string]interface{}{{
			"eventVersion": "2.1",
			"eventSource":  "aws:s3",
			"awsRegion":    "us-east-1",
			"eventTime":    at.UTC().Format(time.RFC3339),
			"eventName":    eventName,
			"s3": map[string]interface{}{
				"s3SchemaVersion": "1.0",
				"bucket": map[string]interface{}{
					"name": bucket,
					"arn":  "arn:aws:s3:::" + bucket,
				},
				"object": map[string]interface{}{
					"key":  key,
					"size": size,
					"eTag": etag,
				},
			},
		}},
	}
}

// notify fans a bucket event out to every matching rule, asynchronously with
// bounded retry; exhausted retries log and drop.
func (p *Provider) notify(cfg *BucketConfig, eventName, bucket, key, etag string, size int64) {
	if cfg == nil || len(cfg.Notifications) == 0 {
		return
	}
	event := s3Event(eventName, bucket, key, etag, size, time.Now())
	for _, rule := range cfg.Notifications {
		if !rule.Matches(eventName, key) {
			continue
		}
		target := rule.TargetARN
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			err := retry.Do(
				func() error { return p.deliverEvent(target, event) },
				retry.Attempts(notifyRetries),
				retry.Delay(notifyBackoff),
				retry.DelayType(retry.BackOffDelay),
				retry.LastErrorOnly(true),
			)
			if err != nil {
				p.log.Warnw("dropping bucket event after retries", "target", target, "event", eventName, "error", err)
			}
		}()
	}
}

func (p *Provider) deliverEvent(target string, event map[string]interface{}) error {
	parsed, err := arn.Parse(target)
	if err != nil {
		// bare function names invoke compute directly
		return p.invokeFunction(target, event)
	}
	switch parsed.Service {
	case "sns":
		if p.topics == nil {
			return fmt.Errorf("no fan-out service wired")
		}
		return p.topics.PublishEnvelope(target, event)
	case "sqs":
		if p.queues == nil {
			return fmt.Errorf("no queue service wired")
		}
		raw, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encoding bucket event, %w", err)
		}
		return p.queues.SendToQueueARN(target, string(raw), nil)
	case "lambda":
		name := parsed.Resource
		if cut, ok := strings.CutPrefix(name, "function:"); ok {
			name = cut
		}
		return p.invokeFunction(name, event)
	default:
		p.log.Debugw("no local delivery for notification target", "service", parsed.Service, "target", target)
		return nil
	}
}

func (p *Provider) invokeFunction(functionName string, event map[string]interface{}) error {
	if p.invoker == nil {
		return fmt.Errorf("no compute service wired")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding bucket event, %w", err)
	}
	ictx := compute.NewInvocationContext(functionName, notifyTimeout)
	result, err := p.invoker.Invoke(context.Background(), payload, ictx)
	if err != nil {
		return err
	}
	if result.FunctionError != "" {
		return fmt.Errorf("function %s returned %s", functionName, result.FunctionError)
	}
	return nil
}
