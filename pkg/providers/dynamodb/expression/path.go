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

package expression

import (
	"fmt"
	"strings"

	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
)

// PathElement is one step of a document path: a map key or a list index.
type PathElement struct {
	Name  string
	Index int
	IsIdx bool
}

// Path addresses a nested attribute, e.g. a.b[2].c.
type Path []PathElement

func (p Path) String() string {
	var b strings.Builder
	for i, e := range p {
		if e.IsIdx {
			fmt.Fprintf(&b, "[%d]", e.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(e.Name)
	}
	return b.String()
}

// Resolve walks the item along the path; ok=false when any step is absent.
func (p Path) Resolve(item attr.Item) (attr.Value, bool) {
	if len(p) == 0 || p[0].IsIdx {
		return attr.Value{}, false
	}
	cur, ok := item[p[0].Name]
	if !ok {
		return attr.Value{}, false
	}
	for _, e := range p[1:] {
		if e.IsIdx {
			if cur.L == nil || e.Index < 0 || e.Index >= len(cur.L) {
				return attr.Value{}, false
			}
			cur = cur.L[e.Index]
			continue
		}
		if cur.M == nil {
			return attr.Value{}, false
		}
		cur, ok = cur.M[e.Name]
		if !ok {
			return attr.Value{}, false
		}
	}
	return cur, true
}

// Set writes a value at the path, creating intermediate maps as needed. A
// list index past the end appends; a missing intermediate list is an error.
func (p Path) Set(item attr.Item, value attr.Value) error {
	if len(p) == 0 || p[0].IsIdx {
		return fmt.Errorf("invalid document path %q", p)
	}
	if len(p) == 1 {
		item[p[0].Name] = value
		return nil
	}
	parent, ok := item[p[0].Name]
	if !ok {
		parent = attr.Value{M: map[string]attr.Value{}}
	}
	updated, err := setNested(parent, p[1:], value)
	if err != nil {
		return fmt.Errorf("setting %q, %w", p, err)
	}
	item[p[0].Name] = updated
	return nil
}

func setNested(cur attr.Value, rest Path, value attr.Value) (attr.Value, error) {
	step := rest[0]
	if step.IsIdx {
		if cur.L == nil {
			return attr.Value{}, fmt.Errorf("index into non-list attribute")
		}
		list := append([]attr.Value{}, cur.L...)
		if step.Index >= len(list) {
			if len(rest) > 1 {
				return attr.Value{}, fmt.Errorf("index %d out of range", step.Index)
			}
			list = append(list, value)
			return attr.Value{L: list}, nil
		}
		if len(rest) == 1 {
			list[step.Index] = value
			return attr.Value{L: list}, nil
		}
		updated, err := setNested(list[step.Index], rest[1:], value)
		if err != nil {
			return attr.Value{}, err
		}
		list[step.Index] = updated
		return attr.Value{L: list}, nil
	}
	m := map[string]attr.Value{}
	for k, v := range cur.M {
		m[k] = v
	}
	if len(rest) == 1 {
		m[step.Name] = value
		return attr.Value{M: m}, nil
	}
	child, ok := m[step.Name]
	if !ok {
		child = attr.Value{M: map[string]attr.Value{}}
	}
	updated, err := setNested(child, rest[1:], value)
	if err != nil {
		return attr.Value{}, err
	}
	m[step.Name] = updated
	return attr.Value{M: m}, nil
}

// Remove deletes the attribute or list element at the path; absent paths are
// a no-op.
func (p Path) Remove(item attr.Item) {
	if len(p) == 0 || p[0].IsIdx {
		return
	}
	if len(p) == 1 {
		delete(item, p[0].Name)
		return
	}
	cur, ok := item[p[0].Name]
	if !ok {
		return
	}
	if updated, changed := removeNested(cur, p[1:]); changed {
		item[p[0].Name] = updated
	}
}

func removeNested(cur attr.Value, rest Path) (attr.Value, bool) {
	step := rest[0]
	if step.IsIdx {
		if cur.L == nil || step.Index < 0 || step.Index >= len(cur.L) {
			return cur, false
		}
		list := append([]attr.Value{}, cur.L...)
		if len(rest) == 1 {
			list = append(list[:step.Index], list[step.Index+1:]...)
			return attr.Value{L: list}, true
		}
		updated, changed := removeNested(list[step.Index], rest[1:])
		if !changed {
			return cur, false
		}
		list[step.Index] = updated
		return attr.Value{L: list}, true
	}
	if cur.M == nil {
		return cur, false
	}
	child, ok := cur.M[step.Name]
	if !ok {
		return cur, false
	}
	m := map[string]attr.Value{}
	for k, v := range cur.M {
		m[k] = v
	}
	if len(rest) == 1 {
		delete(m, step.Name)
		return attr.Value{M: m}, true
	}
	updated, changed := removeNested(child, rest[1:])
	if !changed {
		return cur, false
	}
	m[step.Name] = updated
	return attr.Value{M: m}, true
}
