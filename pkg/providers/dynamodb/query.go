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
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/lws-dev/lws/pkg/awserr"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
	"github.com/lws-dev/lws/pkg/providers/dynamodb/expression"
)

// keyCondition is the decomposed key condition expression: a mandatory
// equality on the partition key and an optional range condition on the sort
// key.
type keyCondition struct {
	hashValue attr.Value
	sortOp    string // "", "=", "<", "<=", ">", ">=", "BETWEEN", "begins_with"
	sortA     attr.Value
	sortB     attr.Value
}

// extractKeyCondition validates the key condition shape: `#pk = :v`,
// optionally ANDed with one sort-key comparison, BETWEEN or begins_with.
func extractKeyCondition(input string, hashKey KeyElement, rangeKey *KeyElement, b expression.Bindings) (*keyCondition, error) {
	cond, err := expression.ParseCondition(input)
	if err != nil {
		return nil, awserr.ValidationException("invalid key condition expression: %s", err)
	}
	nodes := []expression.Node{cond.Root}
	if and, ok := cond.Root.(expression.AndNode); ok {
		nodes = and.Children
	}
	if len(nodes) > 2 {
		return nil, awserr.ValidationException("key condition expression may have at most two conditions")
	}
	kc := &keyCondition{}
	var haveHash bool
	for _, node := range nodes {
		switch n := node.(type) {
		case expression.CompareNode:
			name, err := operandKeyName(n.Left, b)
			if err != nil {
				return nil, err
			}
			value, err := operandKeyValue(n.Right, b)
			if err != nil {
				return nil, err
			}
			if name == hashKey.Name {
				if n.Op != "=" {
					return nil, awserr.ValidationException("partition key condition must use =")
				}
				kc.hashValue = value
				haveHash = true
				continue
			}
			if rangeKey == nil || name != rangeKey.Name {
				return nil, awserr.ValidationException("key condition references non-key attribute %s", name)
			}
			kc.sortOp = n.Op
			kc.sortA = value
		case expression.BetweenNode:
			name, err := operandKeyName(n.Subject, b)
			if err != nil {
				return nil, err
			}
			if rangeKey == nil || name != rangeKey.Name {
				return nil, awserr.ValidationException("BETWEEN in key condition must reference the sort key")
			}
			low, err := operandKeyValue(n.Low, b)
			if err != nil {
				return nil, err
			}
			high, err := operandKeyValue(n.High, b)
			if err != nil {
				return nil, err
			}
			kc.sortOp = "BETWEEN"
			kc.sortA = low
			kc.sortB = high
		case expression.FuncNode:
			if n.Name != "begins_with" {
				return nil, awserr.ValidationException("function %s is not allowed in a key condition", n.Name)
			}
			name, err := pathKeyName(n.Path, b)
			if err != nil {
				return nil, err
			}
			if rangeKey == nil || name != rangeKey.Name {
				return nil, awserr.ValidationException("begins_with in key condition must reference the sort key")
			}
			value, err := operandKeyValue(n.Arg, b)
			if err != nil {
				return nil, err
			}
			kc.sortOp = "begins_with"
			kc.sortA = value
		default:
			return nil, awserr.ValidationException("unsupported key condition form")
		}
	}
	if !haveHash {
		return nil, awserr.ValidationException("key condition expression must constrain the partition key with =")
	}
	return kc, nil
}

func operandKeyName(op expression.Operand, b expression.Bindings) (string, error) {
	path, ok := op.(expression.PathOperand)
	if !ok {
		return "", awserr.ValidationException("key condition operand must be a key attribute name")
	}
	return pathKeyName(path.Path, b)
}

func pathKeyName(path expression.Path, b expression.Bindings) (string, error) {
	if len(path) != 1 || path[0].IsIdx {
		return "", awserr.ValidationException("key condition paths must be top-level attribute names")
	}
	name := path[0].Name
	if strings.HasPrefix(name, "#") {
		bound, ok := b.Names[name]
		if !ok {
			return "", awserr.ValidationException("name reference %s is not bound", name)
		}
		name = bound
	}
	return name, nil
}

func operandKeyValue(op expression.Operand, b expression.Bindings) (attr.Value, error) {
	ref, ok := op.(expression.ValueRefOperand)
	if !ok {
		return attr.Value{}, awserr.ValidationException("key condition values must be :value references")
	}
	value, err := b.ResolveValue(ref.Ref)
	if err != nil {
		return attr.Value{}, awserr.ValidationException("%s", err)
	}
	return value, nil
}

func (kc *keyCondition) sortMatches(value attr.Value, present bool) bool {
	if kc.sortOp == "" {
		return true
	}
	if !present {
		return false
	}
	switch kc.sortOp {
	case "begins_with":
		return value.S != nil && kc.sortA.S != nil && strings.HasPrefix(*value.S, *kc.sortA.S)
	case "BETWEEN":
		lowCmp, ok1 := value.Compare(kc.sortA)
		highCmp, ok2 := value.Compare(kc.sortB)
		return ok1 && ok2 && lowCmp >= 0 && highCmp <= 0
	case "=":
		return value.Equal(kc.sortA)
	default:
		cmp, ok := value.Compare(kc.sortA)
		if !ok {
			return false
		}
		switch kc.sortOp {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		case ">=":
			return cmp >= 0
		}
	}
	return false
}

// queryInput carries the decoded wire parameters shared by Query and Scan.
type pageInput struct {
	indexName         string
	filterExpr        string
	limit             int
	forward           bool
	exclusiveStartKey attr.Item
	segment           int
	totalSegments     int
}

type pageOutput struct {
	items            []attr.Item
	lastEvaluatedKey attr.Item
	scannedCount     int
}

// query returns partition items in sort-key order, paginates with the limit,
// then applies the filter to the returned page.
func (t *table) query(keyConditionExpr string, in pageInput, b expression.Bindings) (*pageOutput, error) {
	hashKey, rangeKey, err := t.keySchemaFor(in.indexName)
	if err != nil {
		return nil, err
	}
	kc, err := extractKeyCondition(keyConditionExpr, hashKey, rangeKey, b)
	if err != nil {
		return nil, err
	}
	matched := lo.Filter(t.snapshot(), func(item attr.Item, _ int) bool {
		hv, ok := item[hashKey.Name]
		if !ok || !hv.Equal(kc.hashValue) {
			return false
		}
		if rangeKey == nil {
			return kc.sortOp == ""
		}
		sv, present := item[rangeKey.Name]
		return kc.sortMatches(sv, present)
	})
	sortByRange(matched, rangeKey)
	if !in.forward {
		lo.Reverse(matched)
	}
	out, err := t.paginate(matched, in, b)
	if err != nil {
		return nil, err
	}
	if idx, ok := t.indexSpec(in.indexName); ok {
		out.items = t.projectForIndex(idx, out.items)
	}
	return out, nil
}

// scan walks the whole table (or one parallel segment) in key order,
// paginates, then filters the page.
func (t *table) scan(in pageInput, b expression.Bindings) (*pageOutput, error) {
	hashKey, _, err := t.keySchemaFor(in.indexName)
	if err != nil {
		return nil, err
	}
	items := t.snapshot()
	if in.totalSegments > 1 {
		items = lo.Filter(items, func(item attr.Item, _ int) bool {
			return segmentOf(item[hashKey.Name], in.totalSegments) == in.segment
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		left, _ := t.keyOf(items[i])
		right, _ := t.keyOf(items[j])
		return left < right
	})
	out, err := t.paginate(items, in, b)
	if err != nil {
		return nil, err
	}
	if idx, ok := t.indexSpec(in.indexName); ok {
		out.items = t.projectForIndex(idx, out.items)
	}
	return out, nil
}

// paginate applies exclusive-start-key, limit, then filter, in that order.
// The filter runs after the limit, so a page can legitimately come back
// smaller than the limit yet still carry a LastEvaluatedKey.
func (t *table) paginate(items []attr.Item, in pageInput, b expression.Bindings) (*pageOutput, error) {
	if in.exclusiveStartKey != nil {
		startEncoded, err := t.keyOf(in.exclusiveStartKey)
		if err != nil {
			return nil, err
		}
		idx := lo.IndexOf(lo.Map(items, func(i attr.Item, _ int) string {
			encoded, _ := t.keyOf(i)
			return encoded
		}), startEncoded)
		if idx >= 0 {
			items = items[idx+1:]
		}
	}
	out := &pageOutput{}
	if in.limit > 0 && len(items) > in.limit {
		items = items[:in.limit]
		out.lastEvaluatedKey = t.primaryKey(items[len(items)-1])
	}
	out.scannedCount = len(items)
	if in.filterExpr != "" {
		filter, err := expression.ParseCondition(in.filterExpr)
		if err != nil {
			return nil, awserr.ValidationException("invalid filter expression: %s", err)
		}
		filtered := make([]attr.Item, 0, len(items))
		for _, item := range items {
			ok, err := filter.Eval(item, b)
			if err != nil {
				return nil, awserr.ValidationException("%s", err)
			}
			if ok {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	out.items = items
	return out, nil
}
