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
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestEventBridge(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "EventBridge")
}

var _ = Describe("Event patterns", func() {
	event := map[string]interface{}{
		"source":      "orders.service",
		"detail-type": "OrderPlaced",
		"detail": map[string]interface{}{
			"total":    float64(42),
			"priority": "high",
		},
	}

	It("matches literal leaf lists as any-of", func() {
		pattern := map[string]interface{}{"source": []interface{}{"orders.service", "billing.service"}}
		Expect(matchesPattern(pattern, event)).To(BeTrue())
		pattern = map[string]interface{}{"source": []interface{}{"billing.service"}}
		Expect(matchesPattern(pattern, event)).To(BeFalse())
	})

	It("requires every pattern key", func() {
		pattern := map[string]interface{}{
			"source":      []interface{}{"orders.service"},
			"detail-type": []interface{}{"OrderCancelled"},
		}
		Expect(matchesPattern(pattern, event)).To(BeFalse())
	})

	It("recurses into nested documents", func() {
		pattern := map[string]interface{}{
			"detail": map[string]interface{}{"priority": []interface{}{"high"}},
		}
		Expect(matchesPattern(pattern, event)).To(BeTrue())
	})

	It("supports prefix, anything-but, numeric and exists matchers", func() {
		Expect(matchesPattern(map[string]interface{}{
			"source": []interface{}{map[string]interface{}{"prefix": "orders."}},
		}, event)).To(BeTrue())
		Expect(matchesPattern(map[string]interface{}{
			"source": []interface{}{map[string]interface{}{"anything-but": []interface{}{"orders.service"}}},
		}, event)).To(BeFalse())
		Expect(matchesPattern(map[string]interface{}{
			"detail": map[string]interface{}{"total": []interface{}{map[string]interface{}{"numeric": []interface{}{">", 40.0, "<=", 50.0}}}},
		}, event)).To(BeTrue())
		Expect(matchesPattern(map[string]interface{}{
			"region": []interface{}{map[string]interface{}{"exists": false}},
		}, event)).To(BeTrue())
	})

	It("matches an empty pattern against anything", func() {
		Expect(matchesPattern(map[string]interface{}{}, event)).To(BeTrue())
	})
})

var _ = Describe("Schedule expressions", func() {
	It("parses rate expressions", func() {
		s, err := ParseSchedule("rate(5 minutes)")
		Expect(err).ToNot(HaveOccurred())
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		Expect(s.Next(base)).To(Equal(base.Add(5 * time.Minute)))
	})

	It("enforces singular and plural rate units", func() {
		_, err := ParseSchedule("rate(1 minutes)")
		Expect(err).To(HaveOccurred())
		_, err = ParseSchedule("rate(0 minutes)")
		Expect(err).To(HaveOccurred())
		_, err = ParseSchedule("rate(1 minute)")
		Expect(err).ToNot(HaveOccurred())
	})

	It("parses 6-field cron with ? wildcards", func() {
		s, err := ParseSchedule("cron(0 12 * * ? *)")
		Expect(err).ToNot(HaveOccurred())
		base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
		next := s.Next(base)
		Expect(next.Hour()).To(Equal(12))
		Expect(next.Minute()).To(BeZero())
		Expect(next.Day()).To(Equal(1))
	})

	It("filters cron fires by the year field", func() {
		s, err := ParseSchedule("cron(0 12 * * ? 2027)")
		Expect(err).ToNot(HaveOccurred())
		next := s.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		Expect(next.Year()).To(Equal(2027))
	})

	It("rejects malformed expressions", func() {
		for _, expr := range []string{"", "rate(5)", "cron(0 12 * *)", "every 5 minutes"} {
			_, err := ParseSchedule(expr)
			Expect(err).To(HaveOccurred(), "expected %q to fail", expr)
		}
	})
})

var _ = Describe("Scheduler", func() {
	var clk *clocktesting.FakeClock
	var fired []string
	var mu sync.Mutex
	var s *scheduler
	var done chan struct{}

	firedNames := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string{}, fired...)
	}

	BeforeEach(func() {
		clk = clocktesting.NewFakeClock(time.Now())
		fired = nil
		s = newScheduler(clk, zap.NewNop().Sugar(), func(ruleName string) {
			mu.Lock()
			defer mu.Unlock()
			fired = append(fired, ruleName)
		})
		done = make(chan struct{})
		go s.run(done)
	})

	AfterEach(func() {
		close(done)
	})

	It("fires a rate rule when its interval elapses", func() {
		s.Add("every-minute", rateSchedule{interval: time.Minute})
		Eventually(clk.HasWaiters, time.Second, 10*time.Millisecond).Should(BeTrue())
		clk.Step(61 * time.Second)
		Eventually(firedNames, time.Second, 10*time.Millisecond).Should(ContainElement("every-minute"))
	})

	It("re-schedules after each fire", func() {
		s.Add("every-minute", rateSchedule{interval: time.Minute})
		Eventually(clk.HasWaiters, time.Second, 10*time.Millisecond).Should(BeTrue())
		clk.Step(61 * time.Second)
		Eventually(func() int { return len(firedNames()) }, time.Second, 10*time.Millisecond).Should(Equal(1))
		Eventually(clk.HasWaiters, time.Second, 10*time.Millisecond).Should(BeTrue())
		clk.Step(61 * time.Second)
		Eventually(func() int { return len(firedNames()) }, time.Second, 10*time.Millisecond).Should(Equal(2))
	})

	It("stops firing removed rules", func() {
		s.Add("short-lived", rateSchedule{interval: time.Minute})
		s.Remove("short-lived")
		Eventually(clk.HasWaiters, time.Second, 10*time.Millisecond).Should(BeTrue())
		clk.Step(10 * time.Minute)
		Consistently(firedNames, 100*time.Millisecond, 10*time.Millisecond).Should(BeEmpty())
	})

	It("replaces an existing entry on re-add", func() {
		s.Add("rule", rateSchedule{interval: time.Hour})
		s.Add("rule", rateSchedule{interval: time.Minute})
		Eventually(clk.HasWaiters, time.Second, 10*time.Millisecond).Should(BeTrue())
		clk.Step(2 * time.Minute)
		Eventually(func() int { return len(firedNames()) }, time.Second, 10*time.Millisecond).Should(Equal(1))
	})
})

var _ = Describe("Scheduled event envelope", func() {
	It("carries the rule ARN and fixed account", func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		doc := scheduledEvent("arn:aws:events:us-east-1:000000000000:rule/nightly", now)
		Expect(doc["source"]).To(Equal("aws.events"))
		Expect(doc["detail-type"]).To(Equal("Scheduled Event"))
		Expect(doc["account"]).To(Equal("000000000000"))
		Expect(doc["time"]).To(Equal("2026-03-01T12:00:00Z"))
		Expect(doc["resources"]).To(ContainElement("arn:aws:events:us-east-1:000000000000:rule/nightly"))
	})
})
