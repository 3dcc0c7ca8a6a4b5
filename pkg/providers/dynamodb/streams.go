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

package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/lws-dev/lws/pkg/compute"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
)

const (
	streamRingSize   = 1000
	streamBufferSize = 256
	streamRetries    = 3
	streamBackoff    = 250 * time.Millisecond
	streamTimeout    = 30
)

// StreamRecord is the wire shape of one change record.
type StreamRecord struct {
	EventID     string     `json:"eventID"`
	EventName   string     `json:"eventName"`
	EventSource string     `json:"eventSource"`
	Dynamodb    StreamData `json:"dynamodb"`
}

type StreamData struct {
	Keys                        attr.Item `json:"Keys"`
	NewImage                    attr.Item `json:"NewImage,omitempty"`
	OldImage                    attr.Item `json:"OldImage,omitempty"`
	SequenceNumber              string    `json:"SequenceNumber"`
	SizeBytes                   int       `json:"SizeBytes"`
	StreamViewType              string    `json:"StreamViewType"`
	ApproximateCreationDateTime int64     `json:"ApproximateCreationDateTime"`
}

// stream is one table's change log: a monotonic sequence, a bounded ring for
// inspection, and a dispatcher that hands records to subscribers in write
// order.
type stream struct {
	table string
	view  string
	clk   clock.Clock
	log   *zap.SugaredLogger

	mu   sync.Mutex
	seq  uint64
	ring []StreamRecord
	subs []string // subscriber function names

	ch        chan StreamRecord
	closed    chan struct{}
	closeOnce sync.Once
}

func newStream(table, view string, clk clock.Clock, log *zap.SugaredLogger) *stream {
	if view == "" {
		view = "NEW_AND_OLD_IMAGES"
	}
	return &stream{
		table:  table,
		view:   view,
		clk:    clk,
		log:    log,
		ch:     make(chan StreamRecord, streamBufferSize),
		closed: make(chan struct{}),
	}
}

// close stops the dispatcher; safe to call more than once.
func (s *stream) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// record builds a StreamRecord from a captured change, filters images by the
// view type, assigns the next sequence number and enqueues it for dispatch.
// A full dispatch buffer drops the record with a warning rather than stall
// the write path.
func (s *stream) record(c *change) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.seq++
	rec := StreamRecord{
		EventID:     uuid.NewString(),
		EventName:   c.event,
		EventSource: "aws:dynamodb",
		Dynamodb: StreamData{
			Keys:                        c.keys,
			SequenceNumber:              strconv.FormatUint(s.seq, 10),
			StreamViewType:              s.view,
			ApproximateCreationDateTime: s.clk.Now().Unix(),
		},
	}
	switch s.view {
	case "KEYS_ONLY":
	case "NEW_IMAGE":
		rec.Dynamodb.NewImage = c.new
	case "OLD_IMAGE":
		rec.Dynamodb.OldImage = c.old
	default: // NEW_AND_OLD_IMAGES
		rec.Dynamodb.NewImage = c.new
		rec.Dynamodb.OldImage = c.old
	}
	if rec.Dynamodb.NewImage != nil {
		rec.Dynamodb.SizeBytes = rec.Dynamodb.NewImage.WireSize()
	} else {
		rec.Dynamodb.SizeBytes = rec.Dynamodb.Keys.WireSize()
	}
	s.ring = append(s.ring, rec)
	if len(s.ring) > streamRingSize {
		s.ring = s.ring[len(s.ring)-streamRingSize:]
	}
	s.mu.Unlock()
	select {
	case s.ch <- rec:
	default:
		s.log.Warnw("stream buffer full, dropping record", "table", s.table, "sequenceNumber", rec.Dynamodb.SequenceNumber)
	}
}

func (s *stream) subscribe(functionName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, functionName)
}

func (s *stream) subscribers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.subs...)
}

func (s *stream) records() []StreamRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamRecord{}, s.ring...)
}

// dispatch is the per-table dispatcher loop. One goroutine per stream keeps
// same-partition records in write order. Exhausted retries drop the record
// at warning level; streams do not dead-letter.
func (s *stream) dispatch(done <-chan struct{}, invoker compute.Invoker) {
	for {
		select {
		case <-done:
			return
		case <-s.closed:
			return
		case rec := <-s.ch:
			for _, fn := range s.subscribers() {
				if err := s.deliver(invoker, fn, rec); err != nil {
					s.log.Warnw("dropping stream record after retries",
						"table", s.table, "function", fn, "sequenceNumber", rec.Dynamodb.SequenceNumber, "error", err)
				}
			}
		}
	}
}

func (s *stream) deliver(invoker compute.Invoker, functionName string, rec StreamRecord) error {
	if invoker == nil {
		return fmt.Errorf("no compute service wired")
	}
	payload, err := json.Marshal(map[string]interface{}{"Records": []StreamRecord{rec}})
	if err != nil {
		return fmt.Errorf("encoding stream event, %w", err)
	}
	return retry.Do(
		func() error {
			ictx := compute.NewInvocationContext(functionName, streamTimeout)
			result, err := invoker.Invoke(context.Background(), payload, ictx)
			if err != nil {
				return err
			}
			if result.FunctionError != "" {
				return fmt.Errorf("function %s returned %s", functionName, result.FunctionError)
			}
			return nil
		},
		retry.Attempts(streamRetries),
		retry.Delay(streamBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
