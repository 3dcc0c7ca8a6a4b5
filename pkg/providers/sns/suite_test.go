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
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/lws-dev/lws/pkg/fake"
	"github.com/lws-dev/lws/pkg/middleware"
)

func TestSNS(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SNS")
}

var _ = Describe("Filter policies", func() {
	attrs := map[string]string{
		"event": "order_placed",
		"total": "42.5",
	}

	It("matches exact strings and numbers", func() {
		Expect(matchesFilterPolicy(map[string]interface{}{"event": "order_placed"}, attrs)).To(BeTrue())
		Expect(matchesFilterPolicy(map[string]interface{}{"event": "order_cancelled"}, attrs)).To(BeFalse())
		Expect(matchesFilterPolicy(map[string]interface{}{"total": 42.5}, attrs)).To(BeTrue())
	})

	It("treats a list of matchers as any-of", func() {
		policy := map[string]interface{}{"event": []interface{}{"order_cancelled", "order_placed"}}
		Expect(matchesFilterPolicy(policy, attrs)).To(BeTrue())
	})

	It("requires every policy attribute to match", func() {
		policy := map[string]interface{}{"event": "order_placed", "missing": "x"}
		Expect(matchesFilterPolicy(policy, attrs)).To(BeFalse())
	})

	It("supports prefix matchers", func() {
		policy := map[string]interface{}{"event": []interface{}{map[string]interface{}{"prefix": "order_"}}}
		Expect(matchesFilterPolicy(policy, attrs)).To(BeTrue())
	})

	It("supports anything-but matchers", func() {
		policy := map[string]interface{}{"event": []interface{}{map[string]interface{}{"anything-but": []interface{}{"order_placed"}}}}
		Expect(matchesFilterPolicy(policy, attrs)).To(BeFalse())
	})

	It("supports numeric comparator chains", func() {
		policy := map[string]interface{}{"total": []interface{}{
			map[string]interface{}{"numeric": []interface{}{">=", 10.0, "<", 100.0}},
		}}
		Expect(matchesFilterPolicy(policy, attrs)).To(BeTrue())
		policy["total"] = []interface{}{map[string]interface{}{"numeric": []interface{}{">", 100.0}}}
		Expect(matchesFilterPolicy(policy, attrs)).To(BeFalse())
	})

	It("honors exists on both presence and absence", func() {
		present := map[string]interface{}{"event": []interface{}{map[string]interface{}{"exists": true}}}
		absent := map[string]interface{}{"missing": []interface{}{map[string]interface{}{"exists": false}}}
		Expect(matchesFilterPolicy(present, attrs)).To(BeTrue())
		Expect(matchesFilterPolicy(absent, attrs)).To(BeTrue())
		Expect(matchesFilterPolicy(map[string]interface{}{"event": []interface{}{map[string]interface{}{"exists": false}}}, attrs)).To(BeFalse())
	})
})

var _ = Describe("Fan-out", func() {
	var p *Provider
	var queues *fake.QueueSender
	var topic *Topic

	BeforeEach(func() {
		p = NewProvider(zap.NewNop().Sugar(), clocktesting.NewFakeClock(time.Now()), 0, middleware.Config{})
		queues = fake.NewQueueSender()
		p.SetQueues(queues)
		topic = p.CreateTopic("orders")
	})

	AfterEach(func() {
		p.Reset()
	})

	It("creates topics idempotently with the fixed-account ARN", func() {
		Expect(topic.ARN).To(Equal("arn:aws:sns:us-east-1:000000000000:orders"))
		Expect(p.CreateTopic("orders")).To(BeIdenticalTo(topic))
	})

	It("wraps deliveries in the notification envelope", func() {
		_, err := p.Subscribe(topic.ARN, "sqs", "arn:aws:sqs:us-east-1:000000000000:orders-q")
		Expect(err).ToNot(HaveOccurred())

		id, err := p.Publish(topic.ARN, `{"order":1}`, "new order", nil)
		Expect(err).ToNot(HaveOccurred())

		Eventually(queues.Count, time.Second, 10*time.Millisecond).Should(Equal(1))
		var env envelope
		Expect(json.Unmarshal([]byte(queues.Snapshot()[0].Body), &env)).To(Succeed())
		Expect(env.Type).To(Equal("Notification"))
		Expect(env.MessageID).To(Equal(id))
		Expect(env.TopicARN).To(Equal(topic.ARN))
		Expect(env.Subject).To(Equal("new order"))
		Expect(env.Message).To(Equal(`{"order":1}`))
	})

	It("delivers the raw message when raw delivery is on", func() {
		sub, err := p.Subscribe(topic.ARN, "sqs", "arn:aws:sqs:us-east-1:000000000000:orders-q")
		Expect(err).ToNot(HaveOccurred())
		sub.RawMessageDelivery = true

		_, err = p.Publish(topic.ARN, "plain body", "", nil)
		Expect(err).ToNot(HaveOccurred())
		Eventually(queues.Count, time.Second, 10*time.Millisecond).Should(Equal(1))
		Expect(queues.Snapshot()[0].Body).To(Equal("plain body"))
	})

	It("skips subscriptions whose filter policy does not match", func() {
		matching, err := p.Subscribe(topic.ARN, "sqs", "arn:aws:sqs:us-east-1:000000000000:match-q")
		Expect(err).ToNot(HaveOccurred())
		matching.FilterPolicy = map[string]interface{}{"event": "order_placed"}
		skipped, err := p.Subscribe(topic.ARN, "sqs", "arn:aws:sqs:us-east-1:000000000000:skip-q")
		Expect(err).ToNot(HaveOccurred())
		skipped.FilterPolicy = map[string]interface{}{"event": "order_cancelled"}

		_, err = p.Publish(topic.ARN, "body", "", map[string]publishedAttribute{
			"event": {DataType: "String", StringValue: "order_placed"},
		})
		Expect(err).ToNot(HaveOccurred())

		Eventually(queues.Count, time.Second, 10*time.Millisecond).Should(Equal(1))
		Consistently(queues.Count, 100*time.Millisecond, 10*time.Millisecond).Should(Equal(1))
		Expect(queues.Snapshot()[0].QueueARN).To(HaveSuffix("match-q"))
	})

	It("invokes lambda subscribers with the records event", func() {
		invoker := fake.NewInvoker()
		p.SetInvoker(invoker)
		_, err := p.Subscribe(topic.ARN, "lambda", "arn:aws:lambda:us-east-1:000000000000:function:on-order")
		Expect(err).ToNot(HaveOccurred())

		_, err = p.Publish(topic.ARN, "body", "", nil)
		Expect(err).ToNot(HaveOccurred())
		Eventually(invoker.CallCount, time.Second, 10*time.Millisecond).Should(Equal(1))
		calls := invoker.CallsFor("on-order")
		Expect(calls).To(HaveLen(1))
		Expect(string(calls[0].Payload)).To(ContainSubstring(`"EventSource":"aws:sns"`))
	})

	It("rejects publishes to unknown topics", func() {
		_, err := p.Publish("arn:aws:sns:us-east-1:000000000000:missing", "x", "", nil)
		Expect(err).To(HaveOccurred())
	})

	It("publishes envelopes as serialized documents", func() {
		_, err := p.Subscribe(topic.ARN, "sqs", "arn:aws:sqs:us-east-1:000000000000:orders-q")
		Expect(err).ToNot(HaveOccurred())
		Expect(p.PublishEnvelope(topic.ARN, map[string]string{"hello": "world"})).To(Succeed())
		Eventually(queues.Count, time.Second, 10*time.Millisecond).Should(Equal(1))
		var env envelope
		Expect(json.Unmarshal([]byte(queues.Snapshot()[0].Body), &env)).To(Succeed())
		Expect(env.Message).To(MatchJSON(`{"hello":"world"}`))
	})
})
