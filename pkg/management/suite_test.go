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

package management_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/lws-dev/lws/pkg/chaos"
	"github.com/lws-dev/lws/pkg/iam"
	"github.com/lws-dev/lws/pkg/management"
	"github.com/lws-dev/lws/pkg/mock"
	"github.com/lws-dev/lws/pkg/providers"
)

func TestManagement(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Management")
}

type stubFleet struct {
	statuses  []management.ServiceStatus
	resources map[string][]providers.Resource
	resets    int
}

func (s *stubFleet) Status() []management.ServiceStatus         { return s.statuses }
func (s *stubFleet) Resources() map[string][]providers.Resource { return s.resources }
func (s *stubFleet) Reset()                                     { s.resets++ }

var _ = Describe("Handler", func() {
	var fleet *stubFleet
	var chaosReg *chaos.Registry
	var mocks *mock.Registry
	var auth *iam.Store
	var handler *management.Handler

	do := func(method, target, body string) *httptest.ResponseRecorder {
		var r *http.Request
		if body == "" {
			r = httptest.NewRequest(method, target, nil)
		} else {
			r = httptest.NewRequest(method, target, strings.NewReader(body))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	BeforeEach(func() {
		fleet = &stubFleet{
			statuses: []management.ServiceStatus{
				{Name: "dynamodb", Port: 4567, Healthy: true},
				{Name: "s3", Port: 4568, Healthy: false},
			},
			resources: map[string][]providers.Resource{
				"s3": {{Name: "assets", ARN: "arn:aws:s3:::assets"}},
			},
		}
		chaosReg = chaos.NewRegistry()
		mocks = mock.NewRegistry()
		auth = iam.NewStore()
		handler = management.NewHandler(zap.NewNop().Sugar(), fleet, chaosReg, mocks, auth)
	})

	It("reports fleet status", func() {
		rec := do(http.MethodGet, "/_ldk/status", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(rec.Body.String()).To(ContainSubstring(`"name":"dynamodb"`))
		Expect(rec.Body.String()).To(ContainSubstring(`"healthy":false`))
	})

	It("enumerates resources", func() {
		rec := do(http.MethodGet, "/_ldk/resources", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"assets"`))
	})

	Context("chaos", func() {
		It("applies patches per service", func() {
			rec := do(http.MethodPost, "/_ldk/chaos", `{"dynamodb":{"enabled":true,"error_rate":0.25}}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(chaosReg.Snapshot("dynamodb").ErrorRate).To(Equal(0.25))

			rec = do(http.MethodGet, "/_ldk/chaos", "")
			Expect(rec.Body.String()).To(ContainSubstring(`"error_rate":0.25`))
		})

		It("rejects unparseable and invalid patches", func() {
			Expect(do(http.MethodPost, "/_ldk/chaos", `{not json`).Code).To(Equal(http.StatusBadRequest))
			rec := do(http.MethodPost, "/_ldk/chaos", `{"dynamodb":{"error_rate":2}}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("error"))
		})
	})

	Context("auth", func() {
		It("round-trips settings", func() {
			rec := do(http.MethodPost, "/_ldk/iam-auth", `{"mode":"enforce","default_identity":"app"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(auth.Settings().Mode).To(Equal(iam.ModeEnforce))

			rec = do(http.MethodGet, "/_ldk/iam-auth", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"mode":"enforce"`))
		})

		It("rejects unknown modes", func() {
			rec := do(http.MethodPost, "/_ldk/iam-auth", `{"mode":"paranoid"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(auth.Settings().Mode).To(Equal(iam.ModeDisabled))
		})

		It("registers identities", func() {
			rec := do(http.MethodPost, "/_ldk/iam-auth/identities",
				`{"name":"app","policies":[{"Statement":[{"Effect":"Allow","Action":"s3:*"}]}]}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			identity, ok := auth.GetIdentity("app")
			Expect(ok).To(BeTrue())
			Expect(identity.InlinePolicies).To(HaveLen(1))
		})

		It("requires an identity name", func() {
			rec := do(http.MethodPost, "/_ldk/iam-auth/identities", `{"kind":"role"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	It("resets the fleet", func() {
		rec := do(http.MethodPost, "/_ldk/reset", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(fleet.resets).To(Equal(1))
	})

	Context("mocks", func() {
		It("registers rules", func() {
			rec := do(http.MethodPost, "/_mock",
				`{"service":"dynamodb","rules":[{"operation":"GetItem","response":{"body":"{}"}}]}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(mocks.Match("dynamodb", "GetItem", http.Header{}, nil)).ToNot(BeNil())
		})

		It("answers 409 on duplicate rules", func() {
			body := `{"service":"dynamodb","rules":[{"operation":"GetItem"}]}`
			Expect(do(http.MethodPost, "/_mock", body).Code).To(Equal(http.StatusCreated))
			Expect(do(http.MethodPost, "/_mock", body).Code).To(Equal(http.StatusConflict))
		})

		It("requires a service and at least one rule", func() {
			Expect(do(http.MethodPost, "/_mock", `{"rules":[{"operation":"GetItem"}]}`).Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodPost, "/_mock", `{"service":"dynamodb"}`).Code).To(Equal(http.StatusBadRequest))
		})

		It("clears rules per service", func() {
			Expect(do(http.MethodPost, "/_mock", `{"service":"sqs","rules":[{"operation":"SendMessage"}]}`).Code).To(Equal(http.StatusCreated))
			Expect(do(http.MethodDelete, "/_mock?service=sqs", "").Code).To(Equal(http.StatusOK))
			Expect(mocks.Match("sqs", "SendMessage", http.Header{}, nil)).To(BeNil())
			Expect(do(http.MethodDelete, "/_mock", "").Code).To(Equal(http.StatusBadRequest))
		})
	})

	It("exposes prometheus metrics", func() {
		rec := do(http.MethodGet, "/metrics", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})
