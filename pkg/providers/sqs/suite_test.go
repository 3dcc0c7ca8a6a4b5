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
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/lws-dev/lws/pkg/middleware"
)

func TestSQS(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SQS")
}

var _ = Describe("Queue", func() {
	var clk *clocktesting.FakeClock
	var q *Queue

	BeforeEach(func() {
		clk = clocktesting.NewFakeClock(time.Now())
		var err error
		q, err = newQueue("jobs", "http://localhost/000000000000/jobs",
			"arn:aws:sqs:us-east-1:000000000000:jobs", map[string]string{}, clk)
		Expect(err).ToNot(HaveOccurred())
	})

	It("delivers sent messages once per visibility window", func() {
		q.Send("work", 0, nil)
		received := q.Receive(10, 30*time.Second)
		Expect(received).To(HaveLen(1))
		Expect(received[0].Message.Body).To(Equal("work"))
		// in flight: a second receive sees nothing
		Expect(q.Receive(10, 30*time.Second)).To(BeEmpty())
	})

	It("honors delivery delays", func() {
		q.Send("later", 5*time.Second, nil)
		Expect(q.Receive(10, time.Second)).To(BeEmpty())
		clk.Step(5 * time.Second)
		Expect(q.Receive(10, time.Second)).To(HaveLen(1))
	})

	It("requeues expired in-flight messages with an incremented receive count", func() {
		q.Send("work", 0, nil)
		received := q.Receive(10, 10*time.Second)
		Expect(received).To(HaveLen(1))
		Expect(received[0].Message.ReceiveCount).To(Equal(1))

		clk.Step(11 * time.Second)
		Expect(q.sweepExpired()).To(BeEmpty())
		redelivered := q.Receive(10, 10*time.Second)
		Expect(redelivered).To(HaveLen(1))
		Expect(redelivered[0].Message.ReceiveCount).To(Equal(3))
	})

	It("treats deleting an unknown receipt as success", func() {
		q.Send("work", 0, nil)
		received := q.Receive(10, 10*time.Second)
		q.Delete(received[0].ReceiptHandle)
		q.Delete(received[0].ReceiptHandle)
		q.Delete("never-issued")
		clk.Step(time.Minute)
		Expect(q.sweepExpired()).To(BeEmpty())
		Expect(q.Depth()).To(BeZero())
	})

	It("keeps zero-visibility receives out of flight", func() {
		q.Send("work", 0, nil)
		received := q.Receive(10, 0)
		Expect(received).To(HaveLen(1))
		// immediately redeliverable, and a later sweep must not duplicate it
		clk.Step(time.Minute)
		Expect(q.sweepExpired()).To(BeEmpty())
		Expect(q.Depth()).To(Equal(1))
		redelivered := q.Receive(10, 30*time.Second)
		Expect(redelivered).To(HaveLen(1))
		Expect(redelivered[0].Message.ReceiveCount).To(Equal(2))
		Expect(q.Depth()).To(BeZero())
	})

	It("returns a message immediately on zero visibility change", func() {
		q.Send("work", 0, nil)
		received := q.Receive(10, 30*time.Second)
		Expect(q.ChangeVisibility(received[0].ReceiptHandle, 0)).To(BeTrue())
		Expect(q.Receive(10, 30*time.Second)).To(HaveLen(1))
	})

	It("rejects visibility changes for unknown receipts", func() {
		Expect(q.ChangeVisibility("missing", time.Second)).To(BeFalse())
	})

	It("purges visible and in-flight messages", func() {
		q.Send("a", 0, nil)
		q.Send("b", 0, nil)
		q.Receive(1, 30*time.Second)
		q.Purge()
		clk.Step(time.Minute)
		Expect(q.sweepExpired()).To(BeEmpty())
		Expect(q.Depth()).To(BeZero())
	})

	It("receives at most max messages", func() {
		for i := 0; i < 5; i++ {
			q.Send("m", 0, nil)
		}
		Expect(q.Receive(3, 30*time.Second)).To(HaveLen(3))
		Expect(q.Depth()).To(Equal(2))
	})
})

var _ = Describe("Dead-letter redrive", func() {
	var clk *clocktesting.FakeClock
	var p *Provider

	BeforeEach(func() {
		clk = clocktesting.NewFakeClock(time.Now())
		p = NewProvider(zap.NewNop().Sugar(), clk, 0, middleware.Config{})
	})

	It("moves messages over the max receive count to the DLQ", func() {
		dlq, err := p.CreateQueue("jobs-dlq", nil)
		Expect(err).ToNot(HaveOccurred())
		q, err := p.CreateQueue("jobs", map[string]string{
			"RedrivePolicy": `{"deadLetterTargetArn":"` + dlq.ARN + `","maxReceiveCount":2}`,
		})
		Expect(err).ToNot(HaveOccurred())

		q.Send("poison", 0, nil)
		// two abandoned receives exhaust the redrive budget
		for i := 0; i < 2; i++ {
			received := q.Receive(1, time.Second)
			Expect(received).To(HaveLen(1))
			clk.Step(2 * time.Second)
			for _, msg := range q.sweepExpired() {
				p.deadLetter(q, msg)
			}
		}
		Expect(q.Depth()).To(BeZero())
		Expect(dlq.Depth()).To(Equal(1))
		received := dlq.Receive(1, time.Second)
		Expect(received).To(HaveLen(1))
		Expect(received[0].Message.Body).To(Equal("poison"))
	})

	It("rejects an unparseable redrive policy", func() {
		_, err := p.CreateQueue("bad", map[string]string{"RedrivePolicy": "{not json"})
		Expect(err).To(HaveOccurred())
	})

	It("is idempotent on repeated creation", func() {
		a, err := p.CreateQueue("jobs", nil)
		Expect(err).ToNot(HaveOccurred())
		b, err := p.CreateQueue("jobs", nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(a).To(BeIdenticalTo(b))
	})

	It("dereferences queues by ARN", func() {
		q, err := p.CreateQueue("jobs", nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(p.SendToQueueARN(q.ARN, "hello", nil)).To(Succeed())
		Expect(q.Depth()).To(Equal(1))
		Expect(p.SendToQueueARN("arn:aws:sqs:us-east-1:000000000000:missing", "x", nil)).ToNot(Succeed())
	})
})
