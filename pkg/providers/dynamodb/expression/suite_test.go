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

package expression_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/expression"
)

func TestExpression(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Expression")
}

func eval(expr string, item attr.Item, b expression.Bindings) bool {
	cond, err := expression.ParseCondition(expr)
	Expect(err).ToNot(HaveOccurred())
	ok, err := cond.Eval(item, b)
	Expect(err).ToNot(HaveOccurred())
	return ok
}

var _ = Describe("Conditions", func() {
	var item attr.Item
	var b expression.Bindings

	BeforeEach(func() {
		item = attr.Item{
			"pk":     attr.String("user#1"),
			"count":  attr.Number("5"),
			"name":   attr.String("alice"),
			"active": attr.Bool(true),
			"tags":   attr.Value{SS: []string{"a", "b"}},
			"prefs":  attr.Value{M: map[string]attr.Value{"theme": attr.String("dark")}},
		}
		b = expression.Bindings{
			Names:  map[string]string{"#n": "name"},
			Values: map[string]attr.Value{},
		}
	})

	It("compares with every operator", func() {
		b.Values[":five"] = attr.Number("5")
		b.Values[":six"] = attr.Number("6")
		Expect(eval("count = :five", item, b)).To(BeTrue())
		Expect(eval("count <> :five", item, b)).To(BeFalse())
		Expect(eval("count < :six", item, b)).To(BeTrue())
		Expect(eval("count <= :five", item, b)).To(BeTrue())
		Expect(eval("count > :six", item, b)).To(BeFalse())
		Expect(eval("count >= :five", item, b)).To(BeTrue())
	})

	It("treats numeric equality by value, not representation", func() {
		b.Values[":v"] = attr.Number("5.0")
		Expect(eval("count = :v", item, b)).To(BeTrue())
	})

	It("combines AND, OR and NOT with the expected precedence", func() {
		b.Values[":a"] = attr.String("alice")
		b.Values[":bob"] = attr.String("bob")
		b.Values[":five"] = attr.Number("5")
		Expect(eval("#n = :a AND count = :five", item, b)).To(BeTrue())
		Expect(eval("#n = :bob OR count = :five", item, b)).To(BeTrue())
		Expect(eval("NOT #n = :bob", item, b)).To(BeTrue())
		// AND binds tighter than OR
		Expect(eval("#n = :bob AND count = :five OR #n = :a", item, b)).To(BeTrue())
	})

	It("evaluates BETWEEN inclusively", func() {
		b.Values[":lo"] = attr.Number("5")
		b.Values[":hi"] = attr.Number("10")
		Expect(eval("count BETWEEN :lo AND :hi", item, b)).To(BeTrue())
		b.Values[":lo"] = attr.Number("6")
		Expect(eval("count BETWEEN :lo AND :hi", item, b)).To(BeFalse())
	})

	It("evaluates IN against the listed operands", func() {
		b.Values[":a"] = attr.String("bob")
		b.Values[":b"] = attr.String("alice")
		Expect(eval("#n IN (:a, :b)", item, b)).To(BeTrue())
	})

	It("evaluates attribute_exists and attribute_not_exists", func() {
		Expect(eval("attribute_exists(name)", item, b)).To(BeTrue())
		Expect(eval("attribute_exists(missing)", item, b)).To(BeFalse())
		Expect(eval("attribute_not_exists(missing)", item, b)).To(BeTrue())
		Expect(eval("attribute_not_exists(name)", item, b)).To(BeFalse())
	})

	It("evaluates attribute_type, begins_with, contains and size", func() {
		b.Values[":s"] = attr.String("S")
		b.Values[":prefix"] = attr.String("ali")
		b.Values[":member"] = attr.String("a")
		b.Values[":len"] = attr.Number("5")
		Expect(eval("attribute_type(name, :s)", item, b)).To(BeTrue())
		Expect(eval("begins_with(name, :prefix)", item, b)).To(BeTrue())
		Expect(eval("contains(tags, :member)", item, b)).To(BeTrue())
		Expect(eval("size(name) = :len", item, b)).To(BeTrue())
	})

	It("resolves document paths through maps", func() {
		b.Values[":dark"] = attr.String("dark")
		Expect(eval("prefs.theme = :dark", item, b)).To(BeTrue())
	})

	It("does not match comparisons on absent attributes", func() {
		b.Values[":v"] = attr.String("x")
		Expect(eval("missing = :v", item, b)).To(BeFalse())
		Expect(eval("missing <> :v", item, b)).To(BeFalse())
	})

	It("does not match comparisons across mismatched types", func() {
		b.Values[":v"] = attr.Number("5")
		Expect(eval("name = :v", item, b)).To(BeFalse())
		Expect(eval("name < :v", item, b)).To(BeFalse())
	})

	It("rejects unbound value references", func() {
		cond, err := expression.ParseCondition("name = :unbound")
		Expect(err).ToNot(HaveOccurred())
		_, err = cond.Eval(item, b)
		Expect(err).To(HaveOccurred())
	})

	It("rejects malformed expressions", func() {
		for _, expr := range []string{"", "name =", "AND name = :v", "unknown_func(name)"} {
			_, err := expression.ParseCondition(expr)
			Expect(err).To(HaveOccurred(), "expected %q to fail", expr)
		}
	})
})

var _ = Describe("Updates", func() {
	var item attr.Item
	var b expression.Bindings

	BeforeEach(func() {
		item = attr.Item{
			"pk":    attr.String("user#1"),
			"count": attr.Number("5"),
			"tags":  attr.Value{SS: []string{"a", "b"}},
			"list":  attr.List(attr.Number("1")),
		}
		b = expression.Bindings{Values: map[string]attr.Value{}}
	})

	apply := func(expr string) attr.Item {
		u, err := expression.ParseUpdate(expr)
		Expect(err).ToNot(HaveOccurred())
		next, err := u.Apply(item, b)
		Expect(err).ToNot(HaveOccurred())
		return next
	}

	It("sets a literal value", func() {
		b.Values[":n"] = attr.String("bob")
		next := apply("SET name = :n")
		Expect(*next["name"].S).To(Equal("bob"))
	})

	It("performs arithmetic against the prior image", func() {
		b.Values[":inc"] = attr.Number("3")
		next := apply("SET count = count + :inc")
		d, ok := next["count"].Decimal()
		Expect(ok).To(BeTrue())
		Expect(d.String()).To(Equal("8"))
	})

	It("reads every clause from the prior image, not interim state", func() {
		b.Values[":one"] = attr.Number("1")
		next := apply("SET a = count + :one, b = count + :one")
		da, _ := next["a"].Decimal()
		db, _ := next["b"].Decimal()
		Expect(da.String()).To(Equal("6"))
		Expect(db.String()).To(Equal("6"))
	})

	It("supports if_not_exists", func() {
		b.Values[":d"] = attr.Number("0")
		next := apply("SET count = if_not_exists(count, :d), fresh = if_not_exists(missing, :d)")
		dc, _ := next["count"].Decimal()
		df, _ := next["fresh"].Decimal()
		Expect(dc.String()).To(Equal("5"))
		Expect(df.String()).To(Equal("0"))
	})

	It("supports list_append", func() {
		b.Values[":more"] = attr.List(attr.Number("2"))
		next := apply("SET list = list_append(list, :more)")
		Expect(next["list"].L).To(HaveLen(2))
	})

	It("removes attributes", func() {
		next := apply("REMOVE count")
		Expect(next).ToNot(HaveKey("count"))
	})

	It("ADD creates a number from zero when absent", func() {
		b.Values[":one"] = attr.Number("1")
		next := apply("ADD visits :one")
		d, _ := next["visits"].Decimal()
		Expect(d.String()).To(Equal("1"))
	})

	It("ADD unions string sets", func() {
		b.Values[":s"] = attr.Value{SS: []string{"b", "c"}}
		next := apply("ADD tags :s")
		Expect(next["tags"].SS).To(ConsistOf("a", "b", "c"))
	})

	It("DELETE subtracts set members", func() {
		b.Values[":s"] = attr.Value{SS: []string{"a"}}
		next := apply("DELETE tags :s")
		Expect(next["tags"].SS).To(ConsistOf("b"))
	})

	It("does not mutate the prior image", func() {
		b.Values[":n"] = attr.Number("9")
		_ = apply("SET count = :n")
		d, _ := item["count"].Decimal()
		Expect(d.String()).To(Equal("5"))
	})

	It("reports touched top-level attributes with name placeholders resolved", func() {
		b.Names = map[string]string{"#c": "count"}
		b.Values[":one"] = attr.Number("1")
		u, err := expression.ParseUpdate("SET #c = #c + :one, nested.child = :one REMOVE tags ADD visits :one")
		Expect(err).ToNot(HaveOccurred())
		names, err := u.TouchedAttributes(b)
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(ConsistOf("count", "nested", "tags", "visits"))
	})

	It("rejects duplicate sections", func() {
		_, err := expression.ParseUpdate("SET a = :x SET b = :y")
		Expect(err).To(HaveOccurred())
	})
})
