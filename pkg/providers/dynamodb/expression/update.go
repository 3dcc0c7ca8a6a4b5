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

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/lws-dev/lws/pkg/providers/dynamodb/attr"
)

// Update is a parsed update expression: SET, REMOVE, ADD and DELETE
// sections, each optional, each keyword at most once.
type Update struct {
	Sets    []SetClause
	Removes []Path
	Adds    []AttrClause
	Deletes []AttrClause
}

// SetClause assigns the result of a set-value expression to a path.
type SetClause struct {
	Path  Path
	Value SetValue
}

// AttrClause is one ADD or DELETE entry: a path and its operand.
type AttrClause struct {
	Path    Path
	Operand Operand
}

// SetValue is the right-hand side of a SET clause: a term, optionally
// combined with a second term by + or -.
type SetValue struct {
	Left  SetTerm
	Op    string // "", "+" or "-"
	Right SetTerm
}

// SetTerm is an operand or one of the two set-value functions.
type SetTerm struct {
	Operand     Operand // nil when Func is set
	Func        string  // "if_not_exists" or "list_append"
	FuncPath    Path    // first argument of if_not_exists
	FuncOperand Operand // first argument of list_append
	FuncArg     Operand // second argument of either function
}

// ParseUpdate parses the update expression grammar.
func ParseUpdate(input string) (*Update, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, fmt.Errorf("lexing %q, %w", input, err)
	}
	p := &parser{tokens: tokens}
	update := &Update{}
	seen := map[string]bool{}
	for p.peek().kind != tokenEOF {
		tok := p.peek()
		var section string
		for _, kw := range []string{"SET", "REMOVE", "ADD", "DELETE"} {
			if isKeyword(tok, kw) {
				section = kw
			}
		}
		if section == "" {
			return nil, fmt.Errorf("parsing %q, expected section keyword at position %d, got %q", input, tok.pos, tok.text)
		}
		if seen[section] {
			return nil, fmt.Errorf("parsing %q, duplicate %s section", input, section)
		}
		seen[section] = true
		p.next()
		if err := p.parseSection(section, update); err != nil {
			return nil, fmt.Errorf("parsing %q, %w", input, err)
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("empty update expression")
	}
	return update, nil
}

func (p *parser) parseSection(section string, update *Update) error {
	for {
		switch section {
		case "SET":
			clause, err := p.parseSetClause()
			if err != nil {
				return err
			}
			update.Sets = append(update.Sets, clause)
		case "REMOVE":
			path, err := p.parsePath()
			if err != nil {
				return err
			}
			update.Removes = append(update.Removes, path)
		case "ADD", "DELETE":
			path, err := p.parsePath()
			if err != nil {
				return err
			}
			operand, err := p.parseOperand()
			if err != nil {
				return err
			}
			clause := AttrClause{Path: path, Operand: operand}
			if section == "ADD" {
				update.Adds = append(update.Adds, clause)
			} else {
				update.Deletes = append(update.Deletes, clause)
			}
		}
		// a comma continues the section unless the next token opens a new one
		if p.peek().kind != tokenComma {
			return nil
		}
		p.next()
	}
}

func (p *parser) parseSetClause() (SetClause, error) {
	path, err := p.parsePath()
	if err != nil {
		return SetClause{}, err
	}
	eq := p.next()
	if eq.kind != tokenOp || eq.text != "=" {
		return SetClause{}, fmt.Errorf("expected = at position %d, got %q", eq.pos, eq.text)
	}
	left, err := p.parseSetTerm()
	if err != nil {
		return SetClause{}, err
	}
	value := SetValue{Left: left}
	if tok := p.peek(); tok.kind == tokenOp && (tok.text == "+" || tok.text == "-") {
		p.next()
		right, err := p.parseSetTerm()
		if err != nil {
			return SetClause{}, err
		}
		value.Op = tok.text
		value.Right = right
	}
	return SetClause{Path: path, Value: value}, nil
}

func (p *parser) parseSetTerm() (SetTerm, error) {
	switch {
	case p.atKeyword("if_not_exists"):
		p.next()
		if _, err := p.expect(tokenLParen, "("); err != nil {
			return SetTerm{}, err
		}
		path, err := p.parsePath()
		if err != nil {
			return SetTerm{}, err
		}
		if _, err := p.expect(tokenComma, ","); err != nil {
			return SetTerm{}, err
		}
		arg, err := p.parseOperand()
		if err != nil {
			return SetTerm{}, err
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return SetTerm{}, err
		}
		return SetTerm{Func: "if_not_exists", FuncPath: path, FuncArg: arg}, nil
	case p.atKeyword("list_append"):
		p.next()
		if _, err := p.expect(tokenLParen, "("); err != nil {
			return SetTerm{}, err
		}
		first, err := p.parseOperand()
		if err != nil {
			return SetTerm{}, err
		}
		if _, err := p.expect(tokenComma, ","); err != nil {
			return SetTerm{}, err
		}
		second, err := p.parseOperand()
		if err != nil {
			return SetTerm{}, err
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return SetTerm{}, err
		}
		return SetTerm{Func: "list_append", FuncOperand: first, FuncArg: second}, nil
	default:
		operand, err := p.parseOperand()
		if err != nil {
			return SetTerm{}, err
		}
		return SetTerm{Operand: operand}, nil
	}
}

// TouchedAttributes returns the distinct top-level attribute names the update
// writes, with #name placeholders resolved.
func (u *Update) TouchedAttributes(b Bindings) ([]string, error) {
	paths := lo.Map(u.Sets, func(c SetClause, _ int) Path { return c.Path })
	paths = append(paths, u.Removes...)
	paths = append(paths, lo.Map(u.Adds, func(c AttrClause, _ int) Path { return c.Path })...)
	paths = append(paths, lo.Map(u.Deletes, func(c AttrClause, _ int) Path { return c.Path })...)
	var names []string
	for _, raw := range paths {
		path, err := b.resolvePath(raw)
		if err != nil {
			return nil, err
		}
		if len(path) > 0 && !path[0].IsIdx {
			names = append(names, path[0].Name)
		}
	}
	return lo.Uniq(names), nil
}

// Apply evaluates every clause against the prior image and returns the new
// item; the input item is never mutated.
func (u *Update) Apply(item attr.Item, b Bindings) (attr.Item, error) {
	prior := item
	if prior == nil {
		prior = attr.Item{}
	}
	next := prior.Clone()
	if next == nil {
		next = attr.Item{}
	}
	for _, clause := range u.Sets {
		path, err := b.resolvePath(clause.Path)
		if err != nil {
			return nil, err
		}
		value, err := evalSetValue(clause.Value, prior, b)
		if err != nil {
			return nil, err
		}
		if err := path.Set(next, value); err != nil {
			return nil, err
		}
	}
	for _, raw := range u.Removes {
		path, err := b.resolvePath(raw)
		if err != nil {
			return nil, err
		}
		path.Remove(next)
	}
	for _, clause := range u.Adds {
		if err := applyAdd(next, clause, prior, b); err != nil {
			return nil, err
		}
	}
	for _, clause := range u.Deletes {
		if err := applyDelete(next, clause, prior, b); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func evalSetValue(value SetValue, prior attr.Item, b Bindings) (attr.Value, error) {
	left, err := evalSetTerm(value.Left, prior, b)
	if err != nil {
		return attr.Value{}, err
	}
	if value.Op == "" {
		return left, nil
	}
	right, err := evalSetTerm(value.Right, prior, b)
	if err != nil {
		return attr.Value{}, err
	}
	a, aok := left.Decimal()
	c, cok := right.Decimal()
	if !aok || !cok {
		return attr.Value{}, fmt.Errorf("arithmetic requires number operands, got %s and %s", left.TypeName(), right.TypeName())
	}
	if value.Op == "+" {
		return attr.FromDecimal(a.Add(c)), nil
	}
	return attr.FromDecimal(a.Sub(c)), nil
}

func evalSetTerm(term SetTerm, prior attr.Item, b Bindings) (attr.Value, error) {
	switch term.Func {
	case "if_not_exists":
		path, err := b.resolvePath(term.FuncPath)
		if err != nil {
			return attr.Value{}, err
		}
		if existing, ok := path.Resolve(prior); ok {
			return existing, nil
		}
		return resolveRequired(term.FuncArg, prior, b)
	case "list_append":
		first, err := resolveRequired(term.FuncOperand, prior, b)
		if err != nil {
			return attr.Value{}, err
		}
		second, err := resolveRequired(term.FuncArg, prior, b)
		if err != nil {
			return attr.Value{}, err
		}
		if first.L == nil || second.L == nil {
			return attr.Value{}, fmt.Errorf("list_append requires list operands")
		}
		merged := append(append([]attr.Value{}, first.L...), second.L...)
		return attr.Value{L: merged}, nil
	default:
		return resolveRequired(term.Operand, prior, b)
	}
}

// resolveRequired resolves an operand that must produce a value; an absent
// document path is an error here, unlike in conditions.
func resolveRequired(op Operand, item attr.Item, b Bindings) (attr.Value, error) {
	value, ok, err := resolveOperand(op, item, b)
	if err != nil {
		return attr.Value{}, err
	}
	if !ok {
		return attr.Value{}, fmt.Errorf("operand resolves to no value")
	}
	return value, nil
}

func applyAdd(next attr.Item, clause AttrClause, prior attr.Item, b Bindings) error {
	path, err := b.resolvePath(clause.Path)
	if err != nil {
		return err
	}
	operand, err := resolveRequired(clause.Operand, prior, b)
	if err != nil {
		return err
	}
	existing, present := path.Resolve(next)
	if operand.N != nil {
		base := decimal.Zero
		if present {
			d, ok := existing.Decimal()
			if !ok {
				return fmt.Errorf("ADD number to non-number attribute %q", path)
			}
			base = d
		}
		delta, ok := operand.Decimal()
		if !ok {
			return fmt.Errorf("invalid number %q in ADD", *operand.N)
		}
		return path.Set(next, attr.FromDecimal(base.Add(delta)))
	}
	if !present {
		return path.Set(next, operand)
	}
	union, err := attr.SetUnion(existing, operand)
	if err != nil {
		return err
	}
	return path.Set(next, union)
}

func applyDelete(next attr.Item, clause AttrClause, prior attr.Item, b Bindings) error {
	path, err := b.resolvePath(clause.Path)
	if err != nil {
		return err
	}
	operand, err := resolveRequired(clause.Operand, prior, b)
	if err != nil {
		return err
	}
	existing, present := path.Resolve(next)
	if !present {
		return nil
	}
	diff, err := attr.SetDifference(existing, operand)
	if err != nil {
		return err
	}
	return path.Set(next, diff)
}
