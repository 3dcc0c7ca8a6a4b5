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

package atomic

import "sync"

// Value is a snapshot holder for configuration read on the hot request path.
// Readers load the current pointer exactly once and use it for the remainder
// of their processing; writers publish a whole new value. Mutating a loaded
// value is a bug; writers must build a fresh one.
type Value[T any] struct {
	mu    sync.RWMutex
	value *T
}

func NewValue[T any](v *T) *Value[T] {
	return &Value[T]{value: v}
}

// Load returns the current snapshot, which may be nil if nothing has been published.
func (a *Value[T]) Load() *T {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value
}

// Store publishes v as the new snapshot.
func (a *Value[T]) Store(v *T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
}

// Update publishes the result of fn applied to the current snapshot. fn must
// not mutate its argument.
func (a *Value[T]) Update(fn func(*T) *T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = fn(a.value)
}
