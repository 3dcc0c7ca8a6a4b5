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

package sns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/compute"
	"github.com/lws-dev/lws/pkg/providers/sqs"
)

const (
	dispatchBuffer  = 128
	dispatchRetries = 3
	dispatchBackoff = 250 * time.Millisecond
)

// published is one message as accepted by Publish.
type published struct {
	MessageID  string
	TopicARN   string
	Message    string
	Subject    string
	Timestamp  time.Time
	Attributes map[string]publishedAttribute
}

type publishedAttribute struct {
	DataType    string
	StringValue string
}

// envelope is the SNS notification document wrapped around deliveries.
type envelope struct {
	Type              string                       `json:"Type"`
	MessageID         string                       `json:"MessageId"`
	TopicARN          string                       `json:"TopicArn"`
	Subject           string                       `json:"Subject,omitempty"`
	Message           string                       `json:"Message"`
	Timestamp         string                       `json:"Timestamp"`
	MessageAttributes map[string]envelopeAttribute `json:"MessageAttributes,omitempty"`
}

type envelopeAttribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

func (m published) envelope() envelope {
	return envelope{
		Type:      "Notification",
		MessageID: m.MessageID,
		TopicARN:  m.TopicARN,
		Subject:   m.Subject,
		Message:   m.Message,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		MessageAttributes: lo.MapEntries(m.Attributes, func(k string, v publishedAttribute) (string, envelopeAttribute) {
			return k, envelopeAttribute{Type: v.DataType, Value: v.StringValue}
		}),
	}
}

// runWorker drains one subscription's channel. Per subscription, delivery is
// FIFO; across subscriptions no ordering is guaranteed.
func (p *Provider) runWorker(sub *Subscription) {
	defer p.wg.Done()
	for msg := range sub.ch {
		if err := p.deliverWithRetry(sub, msg); err != nil {
			p.log.Warnw("dropping message after retries",
				"subscription", sub.ARN, "protocol", sub.Protocol, "message-id", msg.MessageID, "error", err)
		}
	}
}

func (p *Provider) deliverWithRetry(sub *Subscription, msg published) error {
	return retry.Do(
		func() error { return p.deliver(sub, msg) },
		retry.Attempts(dispatchRetries),
		retry.Delay(dispatchBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (p *Provider) deliver(sub *Subscription, msg published) error {
	switch sub.Protocol {
	case "sqs":
		return p.deliverQueue(sub, msg)
	case "lambda":
		return p.deliverLambda(sub, msg)
	case "http", "https":
		return p.deliverHTTP(sub, msg)
	default:
		// email and friends have no local delivery; log at debug and succeed
		p.log.Debugw("no local delivery for protocol", "protocol", sub.Protocol, "endpoint", sub.Endpoint)
		return nil
	}
}

func (p *Provider) deliverQueue(sub *Subscription, msg published) error {
	if p.queues == nil {
		return fmt.Errorf("no queue service wired")
	}
	body := msg.Message
	if !sub.RawMessageDelivery {
		raw, err := json.Marshal(msg.envelope())
		if err != nil {
			return fmt.Errorf("marshaling notification envelope, %w", err)
		}
		body = string(raw)
	}
	attrs := lo.MapEntries(msg.Attributes, func(k string, v publishedAttribute) (string, sqs.MessageAttribute) {
		return k, sqs.MessageAttribute{DataType: v.DataType, StringValue: v.StringValue}
	})
	if !sub.RawMessageDelivery {
		// attributes ride inside the envelope unless raw delivery is on
		attrs = nil
	}
	return p.queues.SendToQueueARN(sub.Endpoint, body, attrs)
}

type lambdaRecord struct {
	EventSource          string   `json:"EventSource"`
	EventVersion         string   `json:"EventVersion"`
	EventSubscriptionARN string   `json:"EventSubscriptionArn"`
	SNS                  envelope `json:"Sns"`
}

func (p *Provider) deliverLambda(sub *Subscription, msg published) error {
	if p.invoker == nil {
		return fmt.Errorf("no compute service wired")
	}
	event, err := json.Marshal(map[string]interface{}{
		"Records": []lambdaRecord{{
			EventSource:          "aws:sns",
			EventVersion:         "1.0",
			EventSubscriptionARN: sub.ARN,
			SNS:                  msg.envelope(),
		}},
	})
	if err != nil {
		return fmt.Errorf("marshaling lambda event, %w", err)
	}
	functionName := sub.Endpoint
	if idx := strings.LastIndex(functionName, ":function:"); idx >= 0 {
		functionName = functionName[idx+len(":function:"):]
	}
	ictx := compute.NewInvocationContext(functionName, 30)
	result, err := p.invoker.Invoke(context.Background(), event, ictx)
	if err != nil {
		return fmt.Errorf("invoking %s, %w", functionName, err)
	}
	if result.FunctionError != "" {
		return fmt.Errorf("function %s returned %s", functionName, result.FunctionError)
	}
	return nil
}

func (p *Provider) deliverHTTP(sub *Subscription, msg published) error {
	raw, err := json.Marshal(msg.envelope())
	if err != nil {
		return fmt.Errorf("marshaling notification envelope, %w", err)
	}
	resp, err := http.Post(sub.Endpoint, "application/json", bytes.NewReader(raw)) //nolint:noctx
	if err != nil {
		return fmt.Errorf("posting to %s, %w", sub.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint %s returned %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}
