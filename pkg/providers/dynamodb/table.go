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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/expression"
)

// KeyElement is one member of a key schema.
type KeyElement struct {
	Name string `json:"name"`
	Type string `json:"type"` // S, N or B
}

// IndexSpec is a global secondary index definition. Queries against the
// index resolve keys from the index schema over the same item set.
type IndexSpec struct {
	Name       string      `json:"name"`
	HashKey    KeyElement  `json:"hashKey"`
	RangeKey   *KeyElement `json:"rangeKey,omitempty"`
	Projection Projection  `json:"projection,omitempty"`
}

// Projection controls which attributes an index query returns. An empty type
// behaves as ALL.
type Projection struct {
	Type             string   `json:"type,omitempty"` // ALL, KEYS_ONLY or INCLUDE
	NonKeyAttributes []string `json:"nonKeyAttributes,omitempty"`
}

// StreamSpec enables change capture for a table.
type StreamSpec struct {
	Enabled  bool   `json:"enabled"`
	ViewType string `json:"viewType"` // KEYS_ONLY, NEW_IMAGE, OLD_IMAGE, NEW_AND_OLD_IMAGES
}

// change is one captured write, handed to the stream dispatcher.
type change struct {
	event string // INSERT, MODIFY, REMOVE
	keys  attr.Item
	old   attr.Item
	new   attr.Item
}

// table serializes writes through its mutex and persists the full item set
// to one JSON file per write.
type table struct {
	mu       sync.Mutex
	name     string
	hashKey  KeyElement
	rangeKey *KeyElement
	indexes  []IndexSpec
	stream   StreamSpec
	items    map[string]attr.Item
	file     string
}

// tableFile is the on-disk shape.
type tableFile struct {
	Name     string      `json:"name"`
	HashKey  KeyElement  `json:"hashKey"`
	RangeKey *KeyElement `json:"rangeKey,omitempty"`
	Indexes  []IndexSpec `json:"indexes,omitempty"`
	Stream   StreamSpec  `json:"stream"`
	Items    []attr.Item `json:"items"`
}

func newTable(dataDir, name string, hashKey KeyElement, rangeKey *KeyElement, indexes []IndexSpec, stream StreamSpec) *table {
	return &table{
		name:     name,
		hashKey:  hashKey,
		rangeKey: rangeKey,
		indexes:  indexes,
		stream:   stream,
		items:    map[string]attr.Item{},
		file:     filepath.Join(dataDir, "dynamodb", name+".json"),
	}
}

// loadTable restores a persisted table from its JSON file.
func loadTable(dataDir, file string) (*table, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading table file %s, %w", file, err)
	}
	var stored tableFile
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decoding table file %s, %w", file, err)
	}
	t := newTable(dataDir, stored.Name, stored.HashKey, stored.RangeKey, stored.Indexes, stored.Stream)
	for _, item := range stored.Items {
		key, err := t.keyOf(item)
		if err != nil {
			continue
		}
		t.items[key] = item
	}
	return t, nil
}

// persist must be called with the mutex held.
func (t *table) persist() error {
	stored := tableFile{
		Name:     t.name,
		HashKey:  t.hashKey,
		RangeKey: t.rangeKey,
		Indexes:  t.indexes,
		Stream:   t.stream,
		Items:    lo.Values(t.items),
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encoding table %s, %w", t.name, err)
	}
	if err := os.MkdirAll(filepath.Dir(t.file), 0755); err != nil {
		return fmt.Errorf("creating table directory, %w", err)
	}
	tmp := t.file + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("writing table file, %w", err)
	}
	if err := os.Rename(tmp, t.file); err != nil {
		return fmt.Errorf("publishing table file, %w", err)
	}
	return nil
}

func (t *table) drop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = map[string]attr.Item{}
	if err := os.Remove(t.file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing table file, %w", err)
	}
	return nil
}

// keyOf encodes an item's primary key into the map key. Numeric key parts
// normalize through decimal so "1.0" and "1" collide.
func (t *table) keyOf(item attr.Item) (string, error) {
	hash, err := keyPart(item, t.hashKey)
	if err != nil {
		return "", err
	}
	if t.rangeKey == nil {
		return hash, nil
	}
	rng, err := keyPart(item, *t.rangeKey)
	if err != nil {
		return "", err
	}
	return hash + "\x00" + rng, nil
}

func keyPart(item attr.Item, element KeyElement) (string, error) {
	value, ok := item[element.Name]
	if !ok {
		return "", awserr.ValidationException("missing key attribute %s", element.Name)
	}
	if value.TypeName() != element.Type {
		return "", awserr.ValidationException("key attribute %s must be of type %s", element.Name, element.Type)
	}
	switch element.Type {
	case "S":
		return *value.S, nil
	case "N":
		d, ok := value.Decimal()
		if !ok {
			return "", awserr.ValidationException("invalid number key %s", element.Name)
		}
		return d.String(), nil
	case "B":
		return string(value.B), nil
	default:
		return "", awserr.ValidationException("unsupported key type %s", element.Type)
	}
}

// primaryKey projects an item down to its key attributes.
func (t *table) primaryKey(item attr.Item) attr.Item {
	keys := attr.Item{t.hashKey.Name: item[t.hashKey.Name]}
	if t.rangeKey != nil {
		keys[t.rangeKey.Name] = item[t.rangeKey.Name]
	}
	return keys
}

func (t *table) checkCondition(conditionExpr string, item attr.Item, b expression.Bindings) error {
	if conditionExpr == "" {
		return nil
	}
	cond, err := expression.ParseCondition(conditionExpr)
	if err != nil {
		return awserr.ValidationException("invalid condition expression: %s", err)
	}
	ok, err := cond.Eval(item, b)
	if err != nil {
		return awserr.ValidationException("%s", err)
	}
	if !ok {
		return awserr.ConditionalCheckFailedException("The conditional request failed")
	}
	return nil
}

// Put stores the full item after the condition holds against the prior
// image. Returns the change for stream capture.
func (t *table) Put(item attr.Item, conditionExpr string, b expression.Bindings) (*change, error) {
	key, err := t.keyOf(item)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.items[key]
	if err := t.checkCondition(conditionExpr, old, b); err != nil {
		return nil, err
	}
	stored := item.Clone()
	t.items[key] = stored
	if err := t.persist(); err != nil {
		return nil, err
	}
	event := lo.Ternary(old == nil, "INSERT", "MODIFY")
	return &change{event: event, keys: t.primaryKey(stored), old: old, new: stored}, nil
}

// Get returns a copy of the stored item, or nil when absent.
func (t *table) Get(key attr.Item) (attr.Item, error) {
	encoded, err := t.keyOf(key)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.items[encoded].Clone(), nil
}

// Delete removes the item; deleting an absent key succeeds with no change.
func (t *table) Delete(key attr.Item, conditionExpr string, b expression.Bindings) (*change, error) {
	encoded, err := t.keyOf(key)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.items[encoded]
	if err := t.checkCondition(conditionExpr, old, b); err != nil {
		return nil, err
	}
	if old == nil {
		return nil, nil
	}
	delete(t.items, encoded)
	if err := t.persist(); err != nil {
		return nil, err
	}
	return &change{event: "REMOVE", keys: t.primaryKey(old), old: old}, nil
}

// Update applies the update expression to the prior image (empty when the
// item is absent) and stores the result. Returns the change plus the new
// image for return-values handling.
func (t *table) Update(key attr.Item, update *expression.Update, conditionExpr string, b expression.Bindings) (*change, attr.Item, error) {
	encoded, err := t.keyOf(key)
	if err != nil {
		return nil, nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.items[encoded]
	if err := t.checkCondition(conditionExpr, old, b); err != nil {
		return nil, nil, err
	}
	base := old
	if base == nil {
		base = key.Clone()
	}
	next, err := update.Apply(base, b)
	if err != nil {
		return nil, nil, awserr.ValidationException("%s", err)
	}
	// key attributes are immutable
	for name, v := range t.primaryKey(key) {
		next[name] = v
	}
	t.items[encoded] = next
	if err := t.persist(); err != nil {
		return nil, nil, err
	}
	event := lo.Ternary(old == nil, "INSERT", "MODIFY")
	return &change{event: event, keys: t.primaryKey(next), old: old, new: next}, next.Clone(), nil
}

func (t *table) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// snapshot copies the current item set out from under the mutex for reads
// that iterate (Query, Scan).
func (t *table) snapshot() []attr.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := lo.Map(lo.Values(t.items), func(i attr.Item, _ int) attr.Item { return i.Clone() })
	return items
}

// keySchemaFor resolves the effective key schema: the table's own, or a
// named index's.
func (t *table) keySchemaFor(indexName string) (KeyElement, *KeyElement, error) {
	if indexName == "" {
		return t.hashKey, t.rangeKey, nil
	}
	for _, idx := range t.indexes {
		if idx.Name == indexName {
			return idx.HashKey, idx.RangeKey, nil
		}
	}
	return KeyElement{}, nil, awserr.ValidationException("index %s does not exist on table %s", indexName, t.name)
}

func (t *table) indexSpec(indexName string) (IndexSpec, bool) {
	for _, idx := range t.indexes {
		if idx.Name == indexName {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

// projectForIndex narrows items to the index's projected attribute set: the
// table and index keys for KEYS_ONLY, plus the named non-key attributes for
// INCLUDE. ALL (or no projection) passes items through unchanged.
func (t *table) projectForIndex(idx IndexSpec, items []attr.Item) []attr.Item {
	if idx.Projection.Type == "" || idx.Projection.Type == "ALL" {
		return items
	}
	keep := []string{t.hashKey.Name, idx.HashKey.Name}
	if t.rangeKey != nil {
		keep = append(keep, t.rangeKey.Name)
	}
	if idx.RangeKey != nil {
		keep = append(keep, idx.RangeKey.Name)
	}
	if idx.Projection.Type == "INCLUDE" {
		keep = append(keep, idx.Projection.NonKeyAttributes...)
	}
	keep = lo.Uniq(keep)
	return lo.Map(items, func(item attr.Item, _ int) attr.Item {
		projected := attr.Item{}
		for _, name := range keep {
			if value, ok := item[name]; ok {
				projected[name] = value
			}
		}
		return projected
	})
}

// sortByRange orders items ascending by the range key value; items missing
// the key sort first. Callers reverse for descending queries.
func sortByRange(items []attr.Item, rangeKey *KeyElement) {
	if rangeKey == nil {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, aok := items[i][rangeKey.Name]
		b, bok := items[j][rangeKey.Name]
		switch {
		case !aok:
			return true
		case !bok:
			return false
		default:
			cmp, ok := a.Compare(b)
			return ok && cmp < 0
		}
	})
}

// segmentOf assigns a partition-key value to a parallel-scan segment.
func segmentOf(value attr.Value, totalSegments int) int {
	var key string
	switch {
	case value.S != nil:
		key = *value.S
	case value.N != nil:
		if d, ok := value.Decimal(); ok {
			key = d.String()
		}
	case value.B != nil:
		key = string(value.B)
	}
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return int(h % uint32(totalSegments))
}
