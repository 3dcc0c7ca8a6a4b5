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

// Package compute defines the abstract function-execution port. Fan-out,
// queue pollers, stream dispatchers and URL fronts all call through this
// interface; the execution backend is an external collaborator.
package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InvocationContext carries the function identity and deadline for one call.
type InvocationContext struct {
	FunctionName       string
	MemoryLimitMB      int
	TimeoutSeconds     int
	RequestID          string
	InvokedFunctionARN string

	started time.Time
}

// NewInvocationContext stamps the start time and assigns a request id if the
// caller supplied none.
func NewInvocationContext(functionName string, timeoutSeconds int) InvocationContext {
	return InvocationContext{
		FunctionName:       functionName,
		MemoryLimitMB:      128,
		TimeoutSeconds:     timeoutSeconds,
		RequestID:          uuid.NewString(),
		InvokedFunctionARN: fmt.Sprintf("arn:aws:lambda:us-east-1:000000000000:function:%s", functionName),
		started:            time.Now(),
	}
}

// RemainingTimeMS returns the milliseconds left before the function deadline,
// never negative.
func (c InvocationContext) RemainingTimeMS() int64 {
	remaining := time.Duration(c.TimeoutSeconds)*time.Second - time.Since(c.started)
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

// Result is the outcome of one invocation.
type Result struct {
	Payload       []byte
	FunctionError string
	DurationMS    int64
	RequestID     string
}

// Invoker executes a function with a JSON event payload.
type Invoker interface {
	Invoke(ctx context.Context, event []byte, ictx InvocationContext) (*Result, error)
}

// LoggingInvoker is the default backend when no function runtime is wired:
// it logs the event and returns an empty payload.
type LoggingInvoker struct {
	log *zap.SugaredLogger
}

func NewLoggingInvoker(log *zap.SugaredLogger) *LoggingInvoker {
	return &LoggingInvoker{log: log.Named("compute")}
}

func (i *LoggingInvoker) Invoke(_ context.Context, event []byte, ictx InvocationContext) (*Result, error) {
	start := time.Now()
	i.log.Debugw("invoking function", "function", ictx.FunctionName, "request-id", ictx.RequestID, "event-bytes", len(event))
	return &Result{
		Payload:    []byte("{}"),
		DurationMS: time.Since(start).Milliseconds(),
		RequestID:  ictx.RequestID,
	}, nil
}
