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

package eventbridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/lws-dev/lws/pkg/compute"
)

const (
	deliveryRetries = 3
	deliveryBackoff = 250 * time.Millisecond
)

// dispatchTarget delivers the event envelope to one target, applying the
// configured input selection or transform first. Delivery is asynchronous
// with bounded retry; final failures log and drop.
func (p *Provider) dispatchTarget(target Target, event map[string]interface{}) {
	payload := mustJSON(event)
	if target.InputPath != "" {
		payload = selectPath(event, target.InputPath)
	}
	if target.InputTransformer != nil {
		payload = applyTransformer(event, target.InputTransformer)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := retry.Do(
			func() error { return p.deliver(target, payload) },
			retry.Attempts(deliveryRetries),
			retry.Delay(deliveryBackoff),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			p.log.Warnw("dropping event after retries", "target", target.ARN, "error", err)
		}
	}()
}

func (p *Provider) deliver(target Target, payload []byte) error {
	parsed, err := arn.Parse(target.ARN)
	if err != nil {
		// bare function names are accepted as compute targets
		return p.invoke(target.ARN, payload)
	}
	switch parsed.Service {
	case "sqs":
		if p.queues == nil {
			return errNoQueueService
		}
		return p.queues.SendToQueueARN(target.ARN, string(payload), nil)
	case "lambda":
		name := parsed.Resource
		if cut, ok := strings.CutPrefix(name, "function:"); ok {
			name = cut
		}
		return p.invoke(name, payload)
	default:
		p.log.Debugw("no local delivery for target service", "service", parsed.Service, "target", target.ARN)
		return nil
	}
}

var errNoQueueService = jsonError("no queue service wired")

type stringError string

func (e stringError) Error() string { return string(e) }

func jsonError(msg string) error { return stringError(msg) }

func (p *Provider) invoke(functionName string, payload []byte) error {
	if p.invoker == nil {
		return jsonError("no compute service wired")
	}
	ictx := compute.NewInvocationContext(functionName, targetTimeout)
	result, err := p.invoker.Invoke(context.Background(), payload, ictx)
	if err != nil {
		return err
	}
	if result.FunctionError != "" {
		return jsonError("function " + functionName + " returned " + result.FunctionError)
	}
	return nil
}

// selectPath applies a $.a.b JSONPath-style selection to the event.
func selectPath(event map[string]interface{}, path string) []byte {
	value, ok := lookupJSONPath(event, path)
	if !ok {
		return []byte("null")
	}
	return mustJSON(value)
}

func lookupJSONPath(event map[string]interface{}, path string) (interface{}, bool) {
	trimmed := strings.TrimPrefix(path, "$")
	trimmed = strings.TrimPrefix(trimmed, ".")
	if trimmed == "" {
		return event, true
	}
	var cur interface{} = event
	for _, seg := range strings.Split(trimmed, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// applyTransformer substitutes <key> placeholders in the template with the
// values selected by the paths map.
func applyTransformer(event map[string]interface{}, transformer *InputTransformer) []byte {
	out := transformer.InputTemplate
	for key, path := range transformer.InputPathsMap {
		value, ok := lookupJSONPath(event, path)
		if !ok {
			continue
		}
		var rendered string
		if s, isStr := value.(string); isStr {
			rendered = s
		} else {
			raw, err := json.Marshal(value)
			if err != nil {
				continue
			}
			rendered = string(raw)
		}
		out = strings.ReplaceAll(out, "<"+key+">", rendered)
	}
	return []byte(out)
}
