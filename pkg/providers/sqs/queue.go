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

package sqs

import (
	"crypto/md5" //nolint:gosec // body digests are part of the SQS wire contract
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
)

// MessageAttribute is one typed attribute on a message.
type MessageAttribute struct {
	DataType    string `json:"DataType"`
	StringValue string `json:"StringValue,omitempty"`
	BinaryValue []byte `json:"BinaryValue,omitempty"`
}

// Message is one enqueued message. VisibleAt in the future means the message
// is either delayed or in flight.
type Message struct {
	ID                string
	Body              string
	Attributes        map[string]string
	MessageAttributes map[string]MessageAttribute
	ReceiveCount      int
	SentAt            time.Time
	VisibleAt         time.Time
}

// redrivePolicy mirrors the RedrivePolicy queue attribute document.
type redrivePolicy struct {
	DeadLetterTargetARN string `json:"deadLetterTargetArn"`
	MaxReceiveCount     int    `json:"maxReceiveCount"`
}

// Queue is a standard queue. All fields are guarded by mu; the visibility
// sweeper is the single writer for expiry handling.
type Queue struct {
	Name       string
	URL        string
	ARN        string
	CreatedAt  time.Time
	Attributes map[string]string
	Tags       map[string]string

	mu       sync.Mutex
	messages []*Message
	inflight map[string]*Message // receipt handle -> message
	redrive  *redrivePolicy

	defaultVisibility time.Duration
	clk               clock.Clock
}

func newQueue(name, url, arn string, attributes map[string]string, clk clock.Clock) (*Queue, error) {
	q := &Queue{
		Name:              name,
		URL:               url,
		ARN:               arn,
		CreatedAt:         clk.Now(),
		Attributes:        attributes,
		Tags:              map[string]string{},
		inflight:          map[string]*Message{},
		defaultVisibility: 30 * time.Second,
		clk:               clk,
	}
	if raw, ok := attributes["RedrivePolicy"]; ok && raw != "" {
		var policy redrivePolicy
		if err := json.Unmarshal([]byte(raw), &policy); err != nil {
			return nil, fmt.Errorf("parsing RedrivePolicy for queue %s, %w", name, err)
		}
		q.redrive = &policy
	}
	if raw, ok := attributes["VisibilityTimeout"]; ok && raw != "" {
		var seconds int
		if _, err := fmt.Sscanf(raw, "%d", &seconds); err == nil {
			q.defaultVisibility = time.Duration(seconds) * time.Second
		}
	}
	return q, nil
}

// Send enqueues a message with an optional delivery delay.
func (q *Queue) Send(body string, delay time.Duration, attrs map[string]MessageAttribute) *Message {
	now := q.clk.Now()
	msg := &Message{
		ID:                uuid.NewString(),
		Body:              body,
		Attributes:        map[string]string{"SentTimestamp": fmt.Sprintf("%d", now.UnixMilli())},
		MessageAttributes: attrs,
		SentAt:            now,
		VisibleAt:         now.Add(delay),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return msg
}

// Received is one dequeued message with its fresh receipt handle.
type Received struct {
	Message       *Message
	ReceiptHandle string
}

// Receive dequeues up to max visible messages, hiding each behind a fresh
// receipt handle until its visibility deadline.
func (q *Queue) Receive(max int, visibility time.Duration) []Received {
	if visibility < 0 {
		visibility = q.defaultVisibility
	}
	now := q.clk.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	var received []Received
	var remaining []*Message
	for _, msg := range q.messages {
		if len(received) < max && !msg.VisibleAt.After(now) {
			msg.ReceiveCount++
			msg.Attributes["ApproximateReceiveCount"] = fmt.Sprintf("%d", msg.ReceiveCount)
			msg.VisibleAt = now.Add(visibility)
			receipt := uuid.NewString()
			q.inflight[receipt] = msg
			received = append(received, Received{Message: msg, ReceiptHandle: receipt})
			continue
		}
		remaining = append(remaining, msg)
	}
	q.messages = remaining
	// visibility 0 means immediately redeliverable; keep it out of flight
	if visibility == 0 {
		for _, r := range received {
			delete(q.inflight, r.ReceiptHandle)
			q.messages = append(q.messages, r.Message)
		}
	}
	return received
}

// Delete removes the message behind the receipt handle. Deleting an unknown
// or already-deleted receipt is a no-op success.
func (q *Queue) Delete(receiptHandle string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, receiptHandle)
}

// ChangeVisibility moves the deadline of an in-flight message. A zero timeout
// returns it to the queue immediately.
func (q *Queue) ChangeVisibility(receiptHandle string, timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inflight[receiptHandle]
	if !ok {
		return false
	}
	if timeout == 0 {
		delete(q.inflight, receiptHandle)
		msg.VisibleAt = q.clk.Now()
		q.messages = append(q.messages, msg)
		return true
	}
	msg.VisibleAt = q.clk.Now().Add(timeout)
	return true
}

// Purge drops every message, visible and in flight.
func (q *Queue) Purge() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = nil
	q.inflight = map[string]*Message{}
}

// Depth returns the approximate number of visible messages.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// sweepExpired requeues in-flight messages whose visibility lapsed,
// incrementing their receive count. Messages over the redrive policy's
// max-receive-count are returned for dead-lettering instead.
func (q *Queue) sweepExpired() []*Message {
	now := q.clk.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	var dead []*Message
	for receipt, msg := range q.inflight {
		if msg.VisibleAt.After(now) {
			continue
		}
		delete(q.inflight, receipt)
		msg.ReceiveCount++
		if q.redrive != nil && msg.ReceiveCount > q.redrive.MaxReceiveCount {
			dead = append(dead, msg)
			continue
		}
		q.messages = append(q.messages, msg)
	}
	return dead
}

func (q *Queue) deadLetterTargetARN() string {
	if q.redrive == nil {
		return ""
	}
	return q.redrive.DeadLetterTargetARN
}

func bodyMD5(body string) string {
	sum := md5.Sum([]byte(body)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func messageAttributesCopy(attrs map[string]MessageAttribute) map[string]MessageAttribute {
	return lo.Assign(map[string]MessageAttribute{}, attrs)
}
