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

package mock_test

import (
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lws-dev/lws/pkg/mock"
)

func TestMock(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Mock")
}

var _ = Describe("Registry", func() {
	var registry *mock.Registry

	BeforeEach(func() {
		registry = mock.NewRegistry()
	})

	It("rejects duplicate match portions", func() {
		rule := mock.Rule{Operation: "GetItem", Response: mock.Response{Body: "{}"}}
		Expect(registry.Register("dynamodb", rule)).To(Succeed())
		err := registry.Register("dynamodb", rule)
		Expect(err).To(MatchError(ContainSubstring("duplicate")))
		// the same match portion under another service is a distinct rule
		Expect(registry.Register("s3", rule)).To(Succeed())
	})

	It("returns the first matching rule", func() {
		Expect(registry.Register("dynamodb",
			mock.Rule{Operation: "GetItem", Body: map[string]interface{}{"TableName": "orders"}, Response: mock.Response{Body: "first"}},
			mock.Rule{Operation: "GetItem", Response: mock.Response{Body: "second"}},
		)).To(Succeed())

		resp := registry.Match("dynamodb", "GetItem", http.Header{}, []byte(`{"TableName":"orders"}`))
		Expect(resp).ToNot(BeNil())
		Expect(resp.Body).To(Equal("first"))

		resp = registry.Match("dynamodb", "GetItem", http.Header{}, []byte(`{"TableName":"users"}`))
		Expect(resp.Body).To(Equal("second"))
	})

	It("misses on operation, service and header mismatches", func() {
		Expect(registry.Register("dynamodb", mock.Rule{
			Operation: "GetItem",
			Headers:   map[string]string{"X-Test-Run": "42"},
			Response:  mock.Response{Body: "{}"},
		})).To(Succeed())

		Expect(registry.Match("dynamodb", "PutItem", http.Header{}, nil)).To(BeNil())
		Expect(registry.Match("s3", "GetItem", http.Header{}, nil)).To(BeNil())
		Expect(registry.Match("dynamodb", "GetItem", http.Header{}, nil)).To(BeNil())

		headers := http.Header{}
		headers.Set("X-Test-Run", "42")
		Expect(registry.Match("dynamodb", "GetItem", headers, nil)).ToNot(BeNil())
	})

	It("defaults the response status to 200", func() {
		Expect(registry.Register("sqs", mock.Rule{Operation: "SendMessage"})).To(Succeed())
		resp := registry.Match("sqs", "SendMessage", http.Header{}, nil)
		Expect(resp.Status).To(Equal(http.StatusOK))
	})

	It("clears rules per service and wholesale", func() {
		Expect(registry.Register("sqs", mock.Rule{Operation: "SendMessage"})).To(Succeed())
		Expect(registry.Register("s3", mock.Rule{Operation: "PutObject"})).To(Succeed())
		registry.Clear("sqs")
		Expect(registry.Match("sqs", "SendMessage", http.Header{}, nil)).To(BeNil())
		Expect(registry.Match("s3", "PutObject", http.Header{}, nil)).ToNot(BeNil())
		registry.ClearAll()
		Expect(registry.Match("s3", "PutObject", http.Header{}, nil)).To(BeNil())
	})
})

var _ = Describe("Body matchers", func() {
	match := func(body string, matchers map[string]interface{}) bool {
		registry := mock.NewRegistry()
		Expect(registry.Register("svc", mock.Rule{Operation: "Op", Body: matchers})).To(Succeed())
		return registry.Match("svc", "Op", http.Header{}, []byte(body)) != nil
	}

	It("compares literals with numeric looseness", func() {
		Expect(match(`{"Limit":5}`, map[string]interface{}{"Limit": 5})).To(BeTrue())
		Expect(match(`{"Limit":5}`, map[string]interface{}{"Limit": 5.0})).To(BeTrue())
		Expect(match(`{"Limit":5}`, map[string]interface{}{"Limit": 6})).To(BeFalse())
	})

	It("walks dotted paths into nested documents", func() {
		body := `{"Item":{"pk":{"S":"user#1"}}}`
		Expect(match(body, map[string]interface{}{"Item.pk.S": "user#1"})).To(BeTrue())
		Expect(match(body, map[string]interface{}{"Item.pk.N": "user#1"})).To(BeFalse())
	})

	It("evaluates operator documents", func() {
		body := `{"Count":7,"Name":"orders-prod"}`
		Expect(match(body, map[string]interface{}{"Count": map[string]interface{}{"$gt": 5, "$lte": 7}})).To(BeTrue())
		Expect(match(body, map[string]interface{}{"Count": map[string]interface{}{"$lt": 5}})).To(BeFalse())
		Expect(match(body, map[string]interface{}{"Name": map[string]interface{}{"$regex": `-prod$`}})).To(BeTrue())
		Expect(match(body, map[string]interface{}{"Name": map[string]interface{}{"$ne": "orders"}})).To(BeTrue())
		Expect(match(body, map[string]interface{}{"Name": map[string]interface{}{"$in": []interface{}{"orders-prod", "orders-dev"}}})).To(BeTrue())
	})

	It("checks presence with $exists", func() {
		Expect(match(`{"A":1}`, map[string]interface{}{"B": map[string]interface{}{"$exists": false}})).To(BeTrue())
		Expect(match(`{"A":1}`, map[string]interface{}{"A": map[string]interface{}{"$exists": true}})).To(BeTrue())
		Expect(match(`{"A":1}`, map[string]interface{}{"A": map[string]interface{}{"$exists": false}})).To(BeFalse())
	})

	It("treats operator-free documents as literal equality", func() {
		Expect(match(`{"Doc":{"a":"b"}}`, map[string]interface{}{"Doc": map[string]interface{}{"a": "b"}})).To(BeTrue())
	})

	It("only matches rules without body matchers when the body is not JSON", func() {
		Expect(match("not json", map[string]interface{}{"A": 1})).To(BeFalse())
		Expect(match("not json", nil)).To(BeTrue())
	})
})
