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
)

// Condition is a parsed condition, filter or key-condition expression.
type Condition struct {
	Root Node
}

// ParseCondition parses the filter/condition grammar. Name references (#n)
// stay symbolic until evaluation.
func ParseCondition(input string) (*Condition, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, fmt.Errorf("lexing %q, %w", input, err)
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("parsing %q, %w", input, err)
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("parsing %q, trailing input at position %d", input, p.peek().pos)
	}
	return &Condition{Root: root}, nil
}

type parser struct {
	tokens []token
	idx    int
}

func (p *parser) peek() token { return p.tokens[p.idx] }
func (p *parser) next() token { t := p.tokens[p.idx]; p.idx++; return t }

func (p *parser) atKeyword(w string) bool { return isKeyword(p.peek(), w) }

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s at position %d, got %q", what, t.pos, t.text)
	}
	return t, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.atKeyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return OrNode{Children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.atKeyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return AndNode{Children: children}, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.atKeyword("NOT") {
		p.next()
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotNode{Child: child}, nil
	}
	return p.parseCmp()
}

var conditionFuncs = []string{"attribute_exists", "attribute_not_exists", "attribute_type", "begins_with", "contains"}

func (p *parser) parseCmp() (Node, error) {
	// parenthesized sub-expression
	if p.peek().kind == tokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	for _, fn := range conditionFuncs {
		if p.atKeyword(fn) {
			return p.parseFunc(fn)
		}
	}
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	switch {
	case tok.kind == tokenOp && isComparator(tok.text):
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return CompareNode{Op: tok.text, Left: left, Right: right}, nil
	case isKeyword(tok, "BETWEEN"):
		p.next()
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.atKeyword("AND") {
			return nil, fmt.Errorf("expected AND in BETWEEN at position %d", p.peek().pos)
		}
		p.next()
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return BetweenNode{Subject: left, Low: low, High: high}, nil
	case isKeyword(tok, "IN"):
		p.next()
		if _, err := p.expect(tokenLParen, "("); err != nil {
			return nil, err
		}
		var options []Operand
		for {
			opt, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			options = append(options, opt)
			if p.peek().kind == tokenComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}
		return InNode{Subject: left, Options: options}, nil
	default:
		return nil, fmt.Errorf("expected comparator at position %d, got %q", tok.pos, tok.text)
	}
}

func isComparator(op string) bool {
	switch op {
	case "=", "<>", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func (p *parser) parseFunc(name string) (Node, error) {
	p.next() // function name
	if _, err := p.expect(tokenLParen, "("); err != nil {
		return nil, err
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	node := FuncNode{Name: strings.ToLower(name), Path: path}
	if name == "attribute_type" || name == "begins_with" || name == "contains" {
		if _, err := p.expect(tokenComma, ","); err != nil {
			return nil, err
		}
		arg, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		node.Arg = arg
	}
	if _, err := p.expect(tokenRParen, ")"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) parseOperand() (Operand, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokenValueRef:
		p.next()
		return ValueRefOperand{Ref: tok.text}, nil
	case isKeyword(tok, "size"):
		p.next()
		if _, err := p.expect(tokenLParen, "("); err != nil {
			return nil, err
		}
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}
		return SizeOperand{Path: path}, nil
	case tok.kind == tokenIdent || tok.kind == tokenNameRef:
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		return PathOperand{Path: path}, nil
	default:
		return nil, fmt.Errorf("expected operand at position %d, got %q", tok.pos, tok.text)
	}
}

// parsePath reads Ident ('.' Ident | '[' Int ']')*, where Ident may be a
// #name reference.
func (p *parser) parsePath() (Path, error) {
	tok := p.next()
	if tok.kind != tokenIdent && tok.kind != tokenNameRef {
		return nil, fmt.Errorf("expected attribute name at position %d, got %q", tok.pos, tok.text)
	}
	path := Path{{Name: tok.text}}
	for {
		switch p.peek().kind {
		case tokenDot:
			p.next()
			seg := p.next()
			if seg.kind != tokenIdent && seg.kind != tokenNameRef {
				return nil, fmt.Errorf("expected attribute name at position %d, got %q", seg.pos, seg.text)
			}
			path = append(path, PathElement{Name: seg.text})
		case tokenLBracket:
			p.next()
			num, err := p.expect(tokenNumber, "list index")
			if err != nil {
				return nil, err
			}
			idx, err := strconv.Atoi(num.text)
			if err != nil {
				return nil, fmt.Errorf("invalid list index %q at position %d", num.text, num.pos)
			}
			if _, err := p.expect(tokenRBracket, "]"); err != nil {
				return nil, err
			}
			path = append(path, PathElement{Index: idx, IsIdx: true})
		default:
			return path, nil
		}
	}
}
