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

// Package attr is the typed attribute-value model shared by the table engine
// and the expression evaluator.
package attr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Value is one typed attribute. Exactly one field is set; the JSON form is
// the wire shape, e.g. {"S":"hello"} or {"N":"15"}.
type Value struct {
	S    *string          `json:"S,omitempty"`
	N    *string          `json:"N,omitempty"`
	B    []byte           `json:"B,omitempty"`
	BOOL *bool            `json:"BOOL,omitempty"`
	NULL *bool            `json:"NULL,omitempty"`
	L    []Value          `json:"L,omitempty"`
	M    map[string]Value `json:"M,omitempty"`
	SS   []string         `json:"SS,omitempty"`
	NS   []string         `json:"NS,omitempty"`
	BS   [][]byte         `json:"BS,omitempty"`
}

// Item is one stored row.
type Item map[string]Value

func String(s string) Value  { return Value{S: &s} }
func Number(n string) Value  { return Value{N: &n} }
func Bool(b bool) Value      { return Value{BOOL: &b} }
func Null() Value            { return Value{NULL: lo.ToPtr(true)} }
func List(vs ...Value) Value { return Value{L: vs} }

func FromDecimal(d decimal.Decimal) Value { return Number(d.String()) }

// TypeName returns the wire type tag of the populated field.
func (v Value) TypeName() string {
	switch {
	case v.S != nil:
		return "S"
	case v.N != nil:
		return "N"
	case v.B != nil:
		return "B"
	case v.BOOL != nil:
		return "BOOL"
	case v.NULL != nil:
		return "NULL"
	case v.L != nil:
		return "L"
	case v.M != nil:
		return "M"
	case v.SS != nil:
		return "SS"
	case v.NS != nil:
		return "NS"
	case v.BS != nil:
		return "BS"
	default:
		return ""
	}
}

// Decimal returns the numeric value when the attribute is typed N.
func (v Value) Decimal() (decimal.Decimal, bool) {
	if v.N == nil {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(*v.N)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Equal is deep typed equality. Number equality is decimal equality, so
// {"N":"1.0"} equals {"N":"1"}.
func (v Value) Equal(other Value) bool {
	if v.TypeName() != other.TypeName() {
		return false
	}
	switch v.TypeName() {
	case "S":
		return *v.S == *other.S
	case "N":
		a, aok := v.Decimal()
		b, bok := other.Decimal()
		return aok && bok && a.Equal(b)
	case "B":
		return bytes.Equal(v.B, other.B)
	case "BOOL":
		return *v.BOOL == *other.BOOL
	case "NULL":
		return *v.NULL == *other.NULL
	case "L":
		if len(v.L) != len(other.L) {
			return false
		}
		for i := range v.L {
			if !v.L[i].Equal(other.L[i]) {
				return false
			}
		}
		return true
	case "M":
		if len(v.M) != len(other.M) {
			return false
		}
		for k, a := range v.M {
			b, ok := other.M[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	case "SS":
		return stringSetEqual(v.SS, other.SS)
	case "NS":
		return stringSetEqual(v.NS, other.NS)
	case "BS":
		if len(v.BS) != len(other.BS) {
			return false
		}
		for _, a := range v.BS {
			if !lo.ContainsBy(other.BS, func(b []byte) bool { return bytes.Equal(a, b) }) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func stringSetEqual(a, b []string) bool {
	return len(a) == len(b) && len(lo.Intersect(a, b)) == len(a)
}

// Compare orders two values of the same type. Mixed types and unorderable
// types report ok=false; callers treat that as a non-match rather than an
// error.
func (v Value) Compare(other Value) (int, bool) {
	switch {
	case v.S != nil && other.S != nil:
		return strings.Compare(*v.S, *other.S), true
	case v.N != nil && other.N != nil:
		a, aok := v.Decimal()
		b, bok := other.Decimal()
		if !aok || !bok {
			return 0, false
		}
		return a.Cmp(b), true
	case v.B != nil && other.B != nil:
		return bytes.Compare(v.B, other.B), true
	default:
		return 0, false
	}
}

// Contains implements the contains() expression function: substring for S,
// membership for sets and lists.
func (v Value) Contains(needle Value) bool {
	switch {
	case v.S != nil && needle.S != nil:
		return strings.Contains(*v.S, *needle.S)
	case v.SS != nil && needle.S != nil:
		return lo.Contains(v.SS, *needle.S)
	case v.NS != nil && needle.N != nil:
		target, ok := needle.Decimal()
		if !ok {
			return false
		}
		return lo.ContainsBy(v.NS, func(n string) bool {
			d, err := decimal.NewFromString(n)
			return err == nil && d.Equal(target)
		})
	case v.BS != nil && needle.B != nil:
		return lo.ContainsBy(v.BS, func(b []byte) bool { return bytes.Equal(b, needle.B) })
	case v.L != nil:
		return lo.ContainsBy(v.L, func(e Value) bool { return e.Equal(needle) })
	default:
		return false
	}
}

// Size implements the size() expression function; ok=false for scalar types
// that have no size.
func (v Value) Size() (int, bool) {
	switch v.TypeName() {
	case "S":
		return len(*v.S), true
	case "B":
		return len(v.B), true
	case "L":
		return len(v.L), true
	case "M":
		return len(v.M), true
	case "SS":
		return len(v.SS), true
	case "NS":
		return len(v.NS), true
	case "BS":
		return len(v.BS), true
	default:
		return 0, false
	}
}

// SetUnion merges two sets of the same type, deduplicating.
func SetUnion(a, b Value) (Value, error) {
	switch {
	case a.SS != nil && b.SS != nil:
		return Value{SS: lo.Union(a.SS, b.SS)}, nil
	case a.NS != nil && b.NS != nil:
		return Value{NS: lo.Union(a.NS, b.NS)}, nil
	case a.BS != nil && b.BS != nil:
		out := append([][]byte{}, a.BS...)
		for _, e := range b.BS {
			if !lo.ContainsBy(out, func(x []byte) bool { return bytes.Equal(x, e) }) {
				out = append(out, e)
			}
		}
		return Value{BS: out}, nil
	default:
		return Value{}, fmt.Errorf("ADD requires matching set types, got %s and %s", a.TypeName(), b.TypeName())
	}
}

// SetDifference removes b's members from a; both must be sets of one type.
func SetDifference(a, b Value) (Value, error) {
	switch {
	case a.SS != nil && b.SS != nil:
		out, _ := lo.Difference(a.SS, b.SS)
		return Value{SS: out}, nil
	case a.NS != nil && b.NS != nil:
		out, _ := lo.Difference(a.NS, b.NS)
		return Value{NS: out}, nil
	case a.BS != nil && b.BS != nil:
		out := lo.Reject(a.BS, func(x []byte, _ int) bool {
			return lo.ContainsBy(b.BS, func(e []byte) bool { return bytes.Equal(x, e) })
		})
		return Value{BS: out}, nil
	default:
		return Value{}, fmt.Errorf("DELETE requires matching set types, got %s and %s", a.TypeName(), b.TypeName())
	}
}

// Clone deep-copies an item so stored state never aliases request payloads.
func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	raw, err := json.Marshal(i)
	if err != nil {
		panic(fmt.Sprintf("cloning item: %s", err))
	}
	var out Item
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("cloning item: %s", err))
	}
	return out
}

// WireSize approximates the serialized size of an item for stream records.
func (i Item) WireSize() int {
	raw, err := json.Marshal(i)
	if err != nil {
		return 0
	}
	return len(raw)
}
