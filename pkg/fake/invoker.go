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

// Package fake provides recording test doubles for the cross-service ports.
package fake

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lws-dev/lws/pkg/compute"
	"github.com/lws-dev/lws/pkg/providers/sqs"
)

// Invocation is one recorded compute call.
type Invocation struct {
	FunctionName string
	Payload      []byte
}

// Invoker records every Invoke and replays programmable results. The zero
// value succeeds with an empty payload.
type Invoker struct {
	mu sync.Mutex

	Calls []Invocation

	// NextError fails the next Invoke once.
	NextError error
	// FunctionError is copied into every result.
	FunctionError string
	// Payload is returned in every result.
	Payload []byte
}

func NewInvoker() *Invoker {
	return &Invoker{}
}

func (f *Invoker) Invoke(_ context.Context, event []byte, ictx compute.InvocationContext) (*compute.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Invocation{FunctionName: ictx.FunctionName, Payload: append([]byte{}, event...)})
	if f.NextError != nil {
		err := f.NextError
		f.NextError = nil
		return nil, err
	}
	return &compute.Result{
		Payload:       append([]byte{}, f.Payload...),
		FunctionError: f.FunctionError,
		RequestID:     uuid.NewString(),
	}, nil
}

// CallCount returns the number of recorded invocations.
func (f *Invoker) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// CallsFor returns the recorded invocations of one function.
func (f *Invoker) CallsFor(functionName string) []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Invocation
	for _, call := range f.Calls {
		if call.FunctionName == functionName {
			out = append(out, call)
		}
	}
	return out
}

func (f *Invoker) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
	f.NextError = nil
	f.FunctionError = ""
	f.Payload = nil
}

// QueueSender records queue sends without a live queue service.
type QueueSender struct {
	mu sync.Mutex

	Sent []QueueSend
	// Err fails every send when set.
	Err error
}

type QueueSend struct {
	QueueARN   string
	Body       string
	Attributes map[string]sqs.MessageAttribute
}

func NewQueueSender() *QueueSender {
	return &QueueSender{}
}

func (f *QueueSender) SendToQueueARN(arn, body string, attrs map[string]sqs.MessageAttribute) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, QueueSend{QueueARN: arn, Body: body, Attributes: attrs})
	return nil
}

// Count returns the number of recorded sends.
func (f *QueueSender) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// Snapshot copies the recorded sends out from under the mutex.
func (f *QueueSender) Snapshot() []QueueSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]QueueSend{}, f.Sent...)
}

func (f *QueueSender) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = nil
	f.Err = nil
}
