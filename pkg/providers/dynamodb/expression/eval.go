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
	"strconv"
	"strings"

	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
)

// Bindings carries the name and value substitutions submitted with a
// request.
type Bindings struct {
	Names  map[string]string
	Values map[string]attr.Value
}

// ResolveValue looks up a :ref; unknown references are a request error.
func (b Bindings) ResolveValue(ref string) (attr.Value, error) {
	v, ok := b.Values[ref]
	if !ok {
		return attr.Value{}, fmt.Errorf("value reference %s is not bound", ref)
	}
	return v, nil
}

// resolvePath substitutes #name elements with their bound attribute names.
func (b Bindings) resolvePath(p Path) (Path, error) {
	out := make(Path, len(p))
	for i, e := range p {
		if !e.IsIdx && strings.HasPrefix(e.Name, "#") {
			name, ok := b.Names[e.Name]
			if !ok {
				return nil, fmt.Errorf("name reference %s is not bound", e.Name)
			}
			e.Name = name
		}
		out[i] = e
	}
	return out, nil
}

// Eval applies the condition to an item. Mixed-type and unresolvable
// comparisons are false; only unbound references are errors.
func (c *Condition) Eval(item attr.Item, b Bindings) (bool, error) {
	return evalNode(c.Root, item, b)
}

func evalNode(n Node, item attr.Item, b Bindings) (bool, error) {
	switch node := n.(type) {
	case AndNode:
		for _, child := range node.Children {
			ok, err := evalNode(child, item, b)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OrNode:
		for _, child := range node.Children {
			ok, err := evalNode(child, item, b)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case NotNode:
		ok, err := evalNode(node.Child, item, b)
		return !ok, err
	case CompareNode:
		return evalCompare(node, item, b)
	case BetweenNode:
		return evalBetween(node, item, b)
	case InNode:
		return evalIn(node, item, b)
	case FuncNode:
		return evalFunc(node, item, b)
	default:
		return false, fmt.Errorf("unknown condition node %T", n)
	}
}

// resolveOperand yields the operand's value; ok=false means the operand
// references an absent attribute.
func resolveOperand(op Operand, item attr.Item, b Bindings) (attr.Value, bool, error) {
	switch o := op.(type) {
	case ValueRefOperand:
		v, err := b.ResolveValue(o.Ref)
		return v, err == nil, err
	case PathOperand:
		path, err := b.resolvePath(o.Path)
		if err != nil {
			return attr.Value{}, false, err
		}
		v, ok := path.Resolve(item)
		return v, ok, nil
	case SizeOperand:
		path, err := b.resolvePath(o.Path)
		if err != nil {
			return attr.Value{}, false, err
		}
		v, ok := path.Resolve(item)
		if !ok {
			return attr.Value{}, false, nil
		}
		size, ok := v.Size()
		if !ok {
			return attr.Value{}, false, nil
		}
		return attr.Number(strconv.Itoa(size)), true, nil
	default:
		return attr.Value{}, false, fmt.Errorf("unknown operand %T", op)
	}
}

func evalCompare(node CompareNode, item attr.Item, b Bindings) (bool, error) {
	left, lok, err := resolveOperand(node.Left, item, b)
	if err != nil {
		return false, err
	}
	right, rok, err := resolveOperand(node.Right, item, b)
	if err != nil {
		return false, err
	}
	if !lok || !rok {
		return false, nil
	}
	switch node.Op {
	case "=":
		return left.Equal(right), nil
	case "<>":
		return !left.Equal(right), nil
	default:
		cmp, comparable := left.Compare(right)
		if !comparable {
			return false, nil
		}
		switch node.Op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		}
		return false, fmt.Errorf("unknown comparator %q", node.Op)
	}
}

func evalBetween(node BetweenNode, item attr.Item, b Bindings) (bool, error) {
	subject, sok, err := resolveOperand(node.Subject, item, b)
	if err != nil {
		return false, err
	}
	low, lok, err := resolveOperand(node.Low, item, b)
	if err != nil {
		return false, err
	}
	high, hok, err := resolveOperand(node.High, item, b)
	if err != nil {
		return false, err
	}
	if !sok || !lok || !hok {
		return false, nil
	}
	lowCmp, ok1 := subject.Compare(low)
	highCmp, ok2 := subject.Compare(high)
	return ok1 && ok2 && lowCmp >= 0 && highCmp <= 0, nil
}

func evalIn(node InNode, item attr.Item, b Bindings) (bool, error) {
	subject, sok, err := resolveOperand(node.Subject, item, b)
	if err != nil {
		return false, err
	}
	if !sok {
		return false, nil
	}
	for _, opt := range node.Options {
		candidate, ok, err := resolveOperand(opt, item, b)
		if err != nil {
			return false, err
		}
		if ok && subject.Equal(candidate) {
			return true, nil
		}
	}
	return false, nil
}

func evalFunc(node FuncNode, item attr.Item, b Bindings) (bool, error) {
	path, err := b.resolvePath(node.Path)
	if err != nil {
		return false, err
	}
	value, present := path.Resolve(item)
	switch node.Name {
	case "attribute_exists":
		return present, nil
	case "attribute_not_exists":
		return !present, nil
	case "attribute_type":
		arg, ok, err := resolveOperand(node.Arg, item, b)
		if err != nil {
			return false, err
		}
		if !present || !ok || arg.S == nil {
			return false, nil
		}
		return value.TypeName() == *arg.S, nil
	case "begins_with":
		arg, ok, err := resolveOperand(node.Arg, item, b)
		if err != nil {
			return false, err
		}
		if !present || !ok || value.S == nil || arg.S == nil {
			return false, nil
		}
		return strings.HasPrefix(*value.S, *arg.S), nil
	case "contains":
		arg, ok, err := resolveOperand(node.Arg, item, b)
		if err != nil {
			return false, err
		}
		if !present || !ok {
			return false, nil
		}
		return value.Contains(arg), nil
	default:
		return false, fmt.Errorf("unknown condition function %q", node.Name)
	}
}
