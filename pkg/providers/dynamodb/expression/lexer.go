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

// Package expression implements the condition, filter and update expression
// languages of the table engine: one recursive-descent parser per grammar
// over a shared lexer, and a total evaluator over the typed value model.
package expression

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNameRef  // #name
	tokenValueRef // :value
	tokenNumber   // bare list index
	tokenOp       // = <> < <= > >= + -
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

// lex tokenizes the whole expression up front; parse errors then carry the
// offending token's position.
func lex(input string) ([]token, error) {
	l := &lexer{input: input}
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c == '(':
			l.emit(tokenLParen, "(")
		case c == ')':
			l.emit(tokenRParen, ")")
		case c == '[':
			l.emit(tokenLBracket, "[")
		case c == ']':
			l.emit(tokenRBracket, "]")
		case c == ',':
			l.emit(tokenComma, ",")
		case c == '.':
			l.emit(tokenDot, ".")
		case c == '+' || c == '-':
			l.emit(tokenOp, string(c))
		case c == '=':
			l.emit(tokenOp, "=")
		case c == '<':
			if l.peekAt(1) == '>' {
				l.emitWide(tokenOp, "<>")
			} else if l.peekAt(1) == '=' {
				l.emitWide(tokenOp, "<=")
			} else {
				l.emit(tokenOp, "<")
			}
		case c == '>':
			if l.peekAt(1) == '=' {
				l.emitWide(tokenOp, ">=")
			} else {
				l.emit(tokenOp, ">")
			}
		case c == '#':
			l.word(tokenNameRef)
		case c == ':':
			l.word(tokenValueRef)
		case unicode.IsDigit(rune(c)):
			l.number()
		case isIdentStart(rune(c)):
			l.word(tokenIdent)
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, l.pos)
		}
	}
	l.tokens = append(l.tokens, token{kind: tokenEOF, pos: l.pos})
	return l.tokens, nil
}

func (l *lexer) emit(kind tokenKind, text string) {
	l.tokens = append(l.tokens, token{kind: kind, text: text, pos: l.pos})
	l.pos++
}

func (l *lexer) emitWide(kind tokenKind, text string) {
	l.tokens = append(l.tokens, token{kind: kind, text: text, pos: l.pos})
	l.pos += len(text)
}

func (l *lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *lexer) word(kind tokenKind) {
	start := l.pos
	l.pos++ // leading # or : or first letter
	for l.pos < len(l.input) && isIdentPart(rune(l.input[l.pos])) {
		l.pos++
	}
	l.tokens = append(l.tokens, token{kind: kind, text: l.input[start:l.pos], pos: start})
}

func (l *lexer) number() {
	start := l.pos
	for l.pos < len(l.input) && unicode.IsDigit(rune(l.input[l.pos])) {
		l.pos++
	}
	l.tokens = append(l.tokens, token{kind: tokenNumber, text: l.input[start:l.pos], pos: start})
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// keyword matching is case-insensitive, per the source language
func isKeyword(tok token, word string) bool {
	return tok.kind == tokenIdent && strings.EqualFold(tok.text, word)
}
