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
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// scheduleEntry is one scheduled rule in the min-heap.
type scheduleEntry struct {
	ruleName string
	schedule Schedule
	nextFire time.Time
	index    int
}

type scheduleHeap []*scheduleEntry

func (h scheduleHeap) Len() int            { return len(h) }
func (h scheduleHeap) Less(i, j int) bool  { return h[i].nextFire.Before(h[j].nextFire) }
func (h scheduleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *scheduleHeap) Push(x interface{}) { e := x.(*scheduleEntry); e.index = len(*h); *h = append(*h, e) }
func (h *scheduleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// scheduler sleeps until the heap head is due, fires every due entry through
// the provider's target dispatch, and re-schedules them.
type scheduler struct {
	mu      sync.Mutex
	entries scheduleHeap
	wake    chan struct{}
	clk     clock.Clock
	log     *zap.SugaredLogger
	fire    func(ruleName string)
}

func newScheduler(clk clock.Clock, log *zap.SugaredLogger, fire func(ruleName string)) *scheduler {
	return &scheduler{
		wake: make(chan struct{}, 1),
		clk:  clk,
		log:  log,
		fire: fire,
	}
}

// Add schedules a rule, replacing any entry it already has.
func (s *scheduler) Add(ruleName string, schedule Schedule) {
	s.mu.Lock()
	s.removeLocked(ruleName)
	heap.Push(&s.entries, &scheduleEntry{
		ruleName: ruleName,
		schedule: schedule,
		nextFire: schedule.Next(s.clk.Now()),
	})
	s.mu.Unlock()
	s.kick()
}

// Remove drops a rule's entry if present.
func (s *scheduler) Remove(ruleName string) {
	s.mu.Lock()
	s.removeLocked(ruleName)
	s.mu.Unlock()
	s.kick()
}

func (s *scheduler) removeLocked(ruleName string) {
	for _, e := range s.entries {
		if e.ruleName == ruleName {
			heap.Remove(&s.entries, e.index)
			return
		}
	}
}

func (s *scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) run(done <-chan struct{}) {
	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.entries) == 0 {
			wait = time.Hour
		} else {
			wait = s.entries[0].nextFire.Sub(s.clk.Now())
		}
		s.mu.Unlock()
		if wait > 0 {
			timer := s.clk.NewTimer(wait)
			select {
			case <-done:
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C():
			}
		}
		for _, name := range s.popDue() {
			s.log.Debugw("firing scheduled rule", "rule", name)
			s.fire(name)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

// popDue removes every entry due now, re-schedules each, and returns their
// rule names.
func (s *scheduler) popDue() []string {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for len(s.entries) > 0 && !s.entries[0].nextFire.After(now) {
		entry := heap.Pop(&s.entries).(*scheduleEntry)
		due = append(due, entry.ruleName)
		entry.nextFire = entry.schedule.Next(now)
		if !entry.nextFire.IsZero() {
			heap.Push(&s.entries, entry)
		}
	}
	return due
}

// scheduledEvent is the envelope published when a schedule fires.
func scheduledEvent(ruleARN string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"version":     "0",
		"id":          uuid.NewString(),
		"detail-type": "Scheduled Event",
		"source":      "aws.events",
		"account":     "000000000000",
		"time":        now.UTC().Format(time.RFC3339),
		"region":      "us-east-1",
		"resources":   []string{ruleARN},
		"detail":      map[string]interface{}{},
	}
}
