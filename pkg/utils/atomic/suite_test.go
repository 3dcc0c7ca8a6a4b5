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

package atomic_test

import (
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lws-dev/lws/pkg/utils/atomic"
)

func TestAtomic(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Atomic")
}

var _ = Describe("Value", func() {
	type settings struct {
		Mode string
	}

	It("loads what was stored", func() {
		v := atomic.NewValue(&settings{Mode: "initial"})
		Expect(v.Load().Mode).To(Equal("initial"))
		v.Store(&settings{Mode: "replaced"})
		Expect(v.Load().Mode).To(Equal("replaced"))
	})

	It("permits a nil initial snapshot", func() {
		v := atomic.NewValue[settings](nil)
		Expect(v.Load()).To(BeNil())
	})

	It("updates from the current snapshot", func() {
		v := atomic.NewValue(&settings{Mode: "a"})
		v.Update(func(cur *settings) *settings {
			return &settings{Mode: cur.Mode + "b"}
		})
		Expect(v.Load().Mode).To(Equal("ab"))
	})

	It("keeps a loaded snapshot stable across later stores", func() {
		v := atomic.NewValue(&settings{Mode: "first"})
		loaded := v.Load()
		v.Store(&settings{Mode: "second"})
		Expect(loaded.Mode).To(Equal("first"))
	})

	It("serializes concurrent writers", func() {
		v := atomic.NewValue(&settings{})
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v.Update(func(cur *settings) *settings {
					return &settings{Mode: cur.Mode + "x"}
				})
			}()
		}
		wg.Wait()
		Expect(v.Load().Mode).To(HaveLen(32))
	})
})
