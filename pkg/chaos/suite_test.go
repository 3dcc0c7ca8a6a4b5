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

package chaos_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/chaos"
)

func TestChaos(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chaos")
}

var _ = Describe("Registry", func() {
	var registry *chaos.Registry

	BeforeEach(func() {
		registry = chaos.NewRegistry()
	})

	It("returns a zero config for unconfigured services", func() {
		cfg := registry.Snapshot("dynamodb")
		Expect(cfg.Enabled).To(BeFalse())
		Expect(cfg.ErrorRate).To(BeZero())
	})

	It("merges patches without clobbering absent fields", func() {
		_, err := registry.Apply("s3", chaos.Patch{
			Enabled:   lo.ToPtr(true),
			ErrorRate: lo.ToPtr(0.5),
		})
		Expect(err).ToNot(HaveOccurred())

		cfg, err := registry.Apply("s3", chaos.Patch{LatencyMaxMS: lo.ToPtr(200)})
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Enabled).To(BeTrue())
		Expect(cfg.ErrorRate).To(Equal(0.5))
		Expect(cfg.LatencyMaxMS).To(Equal(200))
	})

	It("publishes the patched config to readers", func() {
		_, err := registry.Apply("sqs", chaos.Patch{Enabled: lo.ToPtr(true), TimeoutMS: lo.ToPtr(50)})
		Expect(err).ToNot(HaveOccurred())
		Expect(registry.Snapshot("sqs").TimeoutMS).To(Equal(50))
		Expect(registry.All()).To(HaveKey("sqs"))
	})

	It("rejects rates outside the unit interval", func() {
		_, err := registry.Apply("s3", chaos.Patch{ErrorRate: lo.ToPtr(1.5)})
		Expect(err).To(HaveOccurred())
		_, err = registry.Apply("s3", chaos.Patch{TimeoutRate: lo.ToPtr(-0.1)})
		Expect(err).To(HaveOccurred())
		// a failed patch leaves the config untouched
		Expect(registry.Snapshot("s3").ErrorRate).To(BeZero())
	})

	It("rejects inverted latency bounds and negative weights", func() {
		_, err := registry.Apply("s3", chaos.Patch{
			LatencyMinMS: lo.ToPtr(500),
			LatencyMaxMS: lo.ToPtr(100),
		})
		Expect(err).To(HaveOccurred())
		_, err = registry.Apply("s3", chaos.Patch{
			Errors: []chaos.ErrorSpec{{Type: "InternalError", Weight: -1}},
		})
		Expect(err).To(HaveOccurred())
	})

	It("replaces wholesale through Set", func() {
		_, err := registry.Apply("sns", chaos.Patch{ErrorRate: lo.ToPtr(0.9)})
		Expect(err).ToNot(HaveOccurred())
		registry.Set("sns", chaos.Config{Enabled: true})
		Expect(registry.Snapshot("sns").ErrorRate).To(BeZero())
		Expect(registry.Snapshot("sns").Enabled).To(BeTrue())
	})
})

var _ = Describe("PickError", func() {
	It("returns nothing when no error carries weight", func() {
		_, ok := (&chaos.Config{}).PickError(0.5)
		Expect(ok).To(BeFalse())
		_, ok = (&chaos.Config{Errors: []chaos.ErrorSpec{{Type: "X", Weight: 0}}}).PickError(0.5)
		Expect(ok).To(BeFalse())
	})

	It("samples by cumulative weight", func() {
		cfg := &chaos.Config{Errors: []chaos.ErrorSpec{
			{Type: "Throttling", Weight: 3},
			{Type: "InternalError", Weight: 1},
		}}
		spec, ok := cfg.PickError(0.0)
		Expect(ok).To(BeTrue())
		Expect(spec.Type).To(Equal("Throttling"))
		spec, _ = cfg.PickError(0.74)
		Expect(spec.Type).To(Equal("Throttling"))
		spec, _ = cfg.PickError(0.76)
		Expect(spec.Type).To(Equal("InternalError"))
	})

	It("attributes the last member when the roll lands on the boundary", func() {
		cfg := &chaos.Config{Errors: []chaos.ErrorSpec{{Type: "Only", Weight: 1}}}
		spec, ok := cfg.PickError(0.999999)
		Expect(ok).To(BeTrue())
		Expect(spec.Type).To(Equal("Only"))
	})
})
