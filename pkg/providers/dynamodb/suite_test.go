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
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/middleware"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/expression"
)

func TestDynamoDB(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DynamoDB")
}

func noBindings() expression.Bindings {
	return expression.Bindings{Values: map[string]attr.Value{}}
}

var _ = Describe("Table", func() {
	var t *table

	BeforeEach(func() {
		t = newTable(GinkgoT().TempDir(), "orders", KeyElement{Name: "pk", Type: "S"}, &KeyElement{Name: "sk", Type: "S"}, nil, StreamSpec{})
	})

	item := func(pk, sk string) attr.Item {
		return attr.Item{"pk": attr.String(pk), "sk": attr.String(sk)}
	}

	It("round-trips a put and get", func() {
		stored := item("user#1", "order#1")
		stored["total"] = attr.Number("42")
		ch, err := t.Put(stored, "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		Expect(ch.event).To(Equal("INSERT"))

		got, err := t.Get(item("user#1", "order#1"))
		Expect(err).ToNot(HaveOccurred())
		d, _ := got["total"].Decimal()
		Expect(d.String()).To(Equal("42"))
	})

	It("overwrites on repeated put and reports MODIFY", func() {
		_, err := t.Put(item("user#1", "order#1"), "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		ch, err := t.Put(item("user#1", "order#1"), "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		Expect(ch.event).To(Equal("MODIFY"))
	})

	It("rejects items missing a key attribute", func() {
		_, err := t.Put(attr.Item{"pk": attr.String("only-hash")}, "", noBindings())
		Expect(err).To(HaveOccurred())
	})

	It("rejects key attributes of the wrong type", func() {
		_, err := t.Put(attr.Item{"pk": attr.Number("1"), "sk": attr.String("x")}, "", noBindings())
		Expect(err).To(HaveOccurred())
	})

	It("collides numeric keys by value", func() {
		nt := newTable(GinkgoT().TempDir(), "nums", KeyElement{Name: "pk", Type: "N"}, nil, nil, StreamSpec{})
		_, err := nt.Put(attr.Item{"pk": attr.Number("1")}, "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		_, err = nt.Put(attr.Item{"pk": attr.Number("1.0")}, "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		Expect(nt.count()).To(Equal(1))
	})

	It("fails conditional puts against the prior image", func() {
		_, err := t.Put(item("user#1", "order#1"), "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		_, err = t.Put(item("user#1", "order#1"), "attribute_not_exists(pk)", noBindings())
		Expect(err).To(HaveOccurred())
		var jsonErr *awserr.JSONError
		Expect(errors.As(err, &jsonErr)).To(BeTrue())
		Expect(jsonErr.Type).To(Equal("ConditionalCheckFailedException"))
	})

	It("deletes idempotently", func() {
		_, err := t.Put(item("user#1", "order#1"), "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		ch, err := t.Delete(item("user#1", "order#1"), "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		Expect(ch.event).To(Equal("REMOVE"))
		ch, err = t.Delete(item("user#1", "order#1"), "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		Expect(ch).To(BeNil())
	})

	It("applies updates to absent items starting from the key", func() {
		u, err := expression.ParseUpdate("SET count = if_not_exists(count, :zero) + :inc")
		Expect(err).ToNot(HaveOccurred())
		b := expression.Bindings{Values: map[string]attr.Value{
			":zero": attr.Number("0"),
			":inc":  attr.Number("1"),
		}}
		ch, next, err := t.Update(item("user#1", "order#1"), u, "", b)
		Expect(err).ToNot(HaveOccurred())
		Expect(ch.event).To(Equal("INSERT"))
		d, _ := next["count"].Decimal()
		Expect(d.String()).To(Equal("1"))
	})

	It("keeps key attributes immutable through updates", func() {
		_, err := t.Put(item("user#1", "order#1"), "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		u, err := expression.ParseUpdate("SET sk = :v")
		Expect(err).ToNot(HaveOccurred())
		b := expression.Bindings{Values: map[string]attr.Value{":v": attr.String("order#999")}}
		_, next, err := t.Update(item("user#1", "order#1"), u, "", b)
		Expect(err).ToNot(HaveOccurred())
		Expect(*next["sk"].S).To(Equal("order#1"))
	})

	It("persists and reloads through the table file", func() {
		dir := GinkgoT().TempDir()
		pt := newTable(dir, "orders", KeyElement{Name: "pk", Type: "S"}, nil, nil, StreamSpec{})
		_, err := pt.Put(attr.Item{"pk": attr.String("a"), "v": attr.Number("1")}, "", noBindings())
		Expect(err).ToNot(HaveOccurred())

		reloaded, err := loadTable(dir, pt.file)
		Expect(err).ToNot(HaveOccurred())
		got, err := reloaded.Get(attr.Item{"pk": attr.String("a")})
		Expect(err).ToNot(HaveOccurred())
		Expect(got).ToNot(BeNil())
	})
})

var _ = Describe("Query and Scan", func() {
	var t *table
	var b expression.Bindings

	BeforeEach(func() {
		t = newTable(GinkgoT().TempDir(), "orders", KeyElement{Name: "pk", Type: "S"}, &KeyElement{Name: "sk", Type: "N"}, nil, StreamSpec{})
		for i := 1; i <= 5; i++ {
			_, err := t.Put(attr.Item{
				"pk":   attr.String("user#1"),
				"sk":   attr.Number(fmt.Sprintf("%d", i)),
				"even": attr.Bool(i%2 == 0),
			}, "", noBindings())
			Expect(err).ToNot(HaveOccurred())
		}
		_, err := t.Put(attr.Item{"pk": attr.String("user#2"), "sk": attr.Number("1")}, "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		b = expression.Bindings{
			Names:  map[string]string{},
			Values: map[string]attr.Value{":pk": attr.String("user#1")},
		}
	})

	It("returns only the requested partition in sort order", func() {
		out, err := t.query("pk = :pk", pageInput{forward: true}, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.items).To(HaveLen(5))
		first, _ := out.items[0]["sk"].Decimal()
		Expect(first.String()).To(Equal("1"))
	})

	It("reverses for descending queries", func() {
		out, err := t.query("pk = :pk", pageInput{forward: false}, b)
		Expect(err).ToNot(HaveOccurred())
		first, _ := out.items[0]["sk"].Decimal()
		Expect(first.String()).To(Equal("5"))
	})

	It("applies sort-key conditions", func() {
		b.Values[":lo"] = attr.Number("2")
		b.Values[":hi"] = attr.Number("4")
		out, err := t.query("pk = :pk AND sk BETWEEN :lo AND :hi", pageInput{forward: true}, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.items).To(HaveLen(3))
	})

	It("rejects key conditions that are not an equality on the partition key", func() {
		b.Values[":v"] = attr.Number("1")
		_, err := t.query("sk = :v", pageInput{forward: true}, b)
		Expect(err).To(HaveOccurred())
	})

	It("paginates with LastEvaluatedKey and resumes after it", func() {
		out, err := t.query("pk = :pk", pageInput{forward: true, limit: 2}, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.items).To(HaveLen(2))
		Expect(out.lastEvaluatedKey).ToNot(BeNil())

		out, err = t.query("pk = :pk", pageInput{forward: true, limit: 2, exclusiveStartKey: out.lastEvaluatedKey}, b)
		Expect(err).ToNot(HaveOccurred())
		first, _ := out.items[0]["sk"].Decimal()
		Expect(first.String()).To(Equal("3"))
	})

	It("applies the filter after the limit", func() {
		b.Values[":t"] = attr.Bool(true)
		out, err := t.query("pk = :pk", pageInput{forward: true, limit: 3, filterExpr: "even = :t"}, b)
		Expect(err).ToNot(HaveOccurred())
		// page is sk 1..3; only sk=2 passes the filter, yet the page cursor advances
		Expect(out.items).To(HaveLen(1))
		Expect(out.lastEvaluatedKey).ToNot(BeNil())
		Expect(out.scannedCount).To(Equal(3))
	})

	It("scans the whole table", func() {
		out, err := t.scan(pageInput{}, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.items).To(HaveLen(6))
	})

	It("partitions parallel scans without overlap", func() {
		total := 0
		for seg := 0; seg < 3; seg++ {
			out, err := t.scan(pageInput{segment: seg, totalSegments: 3}, b)
			Expect(err).ToNot(HaveOccurred())
			total += len(out.items)
		}
		Expect(total).To(Equal(6))
	})
})

var _ = Describe("Index projections", func() {
	var t *table
	var b expression.Bindings

	BeforeEach(func() {
		indexes := []IndexSpec{
			{Name: "by-status-keys", HashKey: KeyElement{Name: "status", Type: "S"}, Projection: Projection{Type: "KEYS_ONLY"}},
			{Name: "by-status-include", HashKey: KeyElement{Name: "status", Type: "S"}, Projection: Projection{Type: "INCLUDE", NonKeyAttributes: []string{"total"}}},
			{Name: "by-status-all", HashKey: KeyElement{Name: "status", Type: "S"}},
		}
		t = newTable(GinkgoT().TempDir(), "orders", KeyElement{Name: "pk", Type: "S"}, &KeyElement{Name: "sk", Type: "S"}, indexes, StreamSpec{})
		_, err := t.Put(attr.Item{
			"pk":     attr.String("user#1"),
			"sk":     attr.String("order#1"),
			"status": attr.String("OPEN"),
			"total":  attr.Number("42"),
			"note":   attr.String("gift"),
		}, "", noBindings())
		Expect(err).ToNot(HaveOccurred())
		b = expression.Bindings{Values: map[string]attr.Value{":s": attr.String("OPEN")}}
	})

	It("narrows KEYS_ONLY index pages to table and index keys", func() {
		out, err := t.query("status = :s", pageInput{indexName: "by-status-keys", forward: true}, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.items).To(HaveLen(1))
		Expect(out.items[0]).To(HaveKey("pk"))
		Expect(out.items[0]).To(HaveKey("sk"))
		Expect(out.items[0]).To(HaveKey("status"))
		Expect(out.items[0]).ToNot(HaveKey("total"))
		Expect(out.items[0]).ToNot(HaveKey("note"))
	})

	It("adds the named non-key attributes for INCLUDE", func() {
		out, err := t.query("status = :s", pageInput{indexName: "by-status-include", forward: true}, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.items[0]).To(HaveKey("total"))
		Expect(out.items[0]).ToNot(HaveKey("note"))
	})

	It("returns whole items when no projection is declared", func() {
		out, err := t.query("status = :s", pageInput{indexName: "by-status-all", forward: true}, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.items[0]).To(HaveKey("note"))
	})

	It("projects index scans the same way", func() {
		out, err := t.scan(pageInput{indexName: "by-status-keys"}, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.items).To(HaveLen(1))
		Expect(out.items[0]).ToNot(HaveKey("note"))
	})
})

var _ = Describe("UpdateItem return values", func() {
	var p *Provider

	BeforeEach(func() {
		p = NewProvider(zap.NewNop().Sugar(), clocktesting.NewFakeClock(time.Now()), 0, GinkgoT().TempDir(), middleware.Config{})
		_, err := p.CreateTable("orders", KeyElement{Name: "pk", Type: "S"}, nil, nil, StreamSpec{})
		Expect(err).ToNot(HaveOccurred())
		_, err = p.handlePutItem([]byte(`{"TableName":"orders","Item":{"pk":{"S":"a"},"count":{"N":"1"},"note":{"S":"keep"}}}`))
		Expect(err).ToNot(HaveOccurred())
	})

	update := func(returnValues string) attr.Item {
		out, err := p.handleUpdateItem([]byte(`{
			"TableName": "orders",
			"Key": {"pk": {"S": "a"}},
			"UpdateExpression": "SET #c = #c + :one",
			"ExpressionAttributeNames": {"#c": "count"},
			"ExpressionAttributeValues": {":one": {"N": "1"}},
			"ReturnValues": "` + returnValues + `"}`))
		Expect(err).ToNot(HaveOccurred())
		attrs, _ := out.(map[string]interface{})["Attributes"].(attr.Item)
		return attrs
	}

	It("returns only the touched attributes for UPDATED_OLD", func() {
		attrs := update("UPDATED_OLD")
		Expect(attrs).ToNot(HaveKey("note"))
		d, ok := attrs["count"].Decimal()
		Expect(ok).To(BeTrue())
		Expect(d.String()).To(Equal("1"))
	})

	It("returns only the touched attributes for UPDATED_NEW", func() {
		attrs := update("UPDATED_NEW")
		Expect(attrs).ToNot(HaveKey("note"))
		d, ok := attrs["count"].Decimal()
		Expect(ok).To(BeTrue())
		Expect(d.String()).To(Equal("2"))
	})
})

var _ = Describe("Stream lifecycle", func() {
	It("stops the dispatcher when its table is deleted", func() {
		p := NewProvider(zap.NewNop().Sugar(), clocktesting.NewFakeClock(time.Now()), 0, GinkgoT().TempDir(), middleware.Config{})
		_, err := p.CreateTable("orders", KeyElement{Name: "pk", Type: "S"}, nil, nil, StreamSpec{Enabled: true})
		Expect(err).ToNot(HaveOccurred())
		s := p.streams["orders"]
		Expect(s).ToNot(BeNil())
		Expect(p.DeleteTable("orders")).To(Succeed())
		Expect(s.closed).To(BeClosed())
		drained := make(chan struct{})
		go func() { p.wg.Wait(); close(drained) }()
		Eventually(drained).Should(BeClosed())
	})
})
