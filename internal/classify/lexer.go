// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package classify

import (
	"fmt"
	"strings"
)

type tokenType int

const (
	tokWord tokenType = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokParam
	tokLParen
	tokRParen
	tokSemicolon
	tokOp
	tokEOF
)

// token is a lexical unit of PostgreSQL text. Comments and whitespace are
// dropped; Start and End are byte offsets into the source.
type token struct {
	typ   tokenType
	text  string
	start int
	end   int
	depth int // parenthesis depth at the token
}

// upper returns the token text upper-cased when it is a bare word.
func (t token) upper() string {
	if t.typ != tokWord {
		return ""
	}
	return strings.ToUpper(t.text)
}

// LexError reports text the lexer cannot tokenize.
type LexError struct {
	Pos int
	Msg string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Pos)
}

type lexer struct {
	src          string
	position     int
	readPosition int
	ch           byte
	depth        int
}

func newLexer(src string) *lexer {
	l := &lexer{src: src}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPosition >= len(l.src) {
		l.ch = 0
	} else {
		l.ch = l.src[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *lexer) peek() byte {
	if l.readPosition >= len(l.src) {
		return 0
	}
	return l.src[l.readPosition]
}

func (l *lexer) atEOF() bool { return l.position >= len(l.src) }

// next returns the next significant token.
func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	start := l.position
	if l.atEOF() {
		return token{typ: tokEOF, start: start, end: start, depth: l.depth}, nil
	}

	mk := func(typ tokenType) token {
		return token{typ: typ, text: l.src[start:l.position], start: start, end: l.position, depth: l.depth}
	}

	switch {
	case l.ch == '(':
		l.readChar()
		t := mk(tokLParen)
		l.depth++
		return t, nil
	case l.ch == ')':
		if l.depth == 0 {
			return token{}, &LexError{Pos: start, Msg: "unbalanced parenthesis"}
		}
		l.depth--
		l.readChar()
		return mk(tokRParen), nil
	case l.ch == ';':
		l.readChar()
		return mk(tokSemicolon), nil
	case l.ch == '\'':
		if err := l.readQuoted('\'', false); err != nil {
			return token{}, err
		}
		return mk(tokString), nil
	case (l.ch == 'E' || l.ch == 'e') && l.peek() == '\'':
		l.readChar()
		if err := l.readQuoted('\'', true); err != nil {
			return token{}, err
		}
		return mk(tokString), nil
	case l.ch == '"':
		if err := l.readQuoted('"', false); err != nil {
			return token{}, err
		}
		return mk(tokQuotedIdent), nil
	case l.ch == '$':
		return l.readDollar(start)
	case isDigit(l.ch):
		for isDigit(l.ch) || l.ch == '.' || isLetter(l.ch) {
			l.readChar()
		}
		return mk(tokNumber), nil
	case isLetter(l.ch):
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '$' {
			l.readChar()
		}
		return mk(tokWord), nil
	}
	l.readChar()
	return mk(tokOp), nil
}

func (l *lexer) skipSpaceAndComments() error {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '-' && l.peek() == '-':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peek() == '*':
			if err := l.skipBlockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// skipBlockComment consumes a possibly nested /* */ comment.
func (l *lexer) skipBlockComment() error {
	start := l.position
	nesting := 0
	for !l.atEOF() {
		switch {
		case l.ch == '/' && l.peek() == '*':
			nesting++
			l.readChar()
		case l.ch == '*' && l.peek() == '/':
			nesting--
			l.readChar()
			if nesting == 0 {
				l.readChar()
				return nil
			}
		}
		l.readChar()
	}
	return &LexError{Pos: start, Msg: "unterminated block comment"}
}

// readQuoted consumes a quoted literal whose delimiter is doubled to escape.
// Backslash escapes are honored for E'' strings.
func (l *lexer) readQuoted(delim byte, backslash bool) error {
	start := l.position
	l.readChar() // opening delimiter
	for !l.atEOF() {
		switch {
		case backslash && l.ch == '\\':
			l.readChar()
		case l.ch == delim:
			if l.peek() != delim {
				l.readChar()
				return nil
			}
			l.readChar()
		}
		l.readChar()
	}
	if delim == '"' {
		return &LexError{Pos: start, Msg: "unterminated quoted identifier"}
	}
	return &LexError{Pos: start, Msg: "unterminated string literal"}
}

// readDollar handles $1 parameters and $tag$ ... $tag$ bodies.
func (l *lexer) readDollar(start int) (token, error) {
	if isDigit(l.peek()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
		return token{typ: tokParam, text: l.src[start:l.position], start: start, end: l.position, depth: l.depth}, nil
	}

	end := start + 1
	for end < len(l.src) && (isLetter(l.src[end]) || isDigit(l.src[end])) {
		end++
	}
	if end >= len(l.src) || l.src[end] != '$' || (end > start+1 && isDigit(l.src[start+1])) {
		l.readChar()
		return token{typ: tokOp, text: "$", start: start, end: l.position, depth: l.depth}, nil
	}
	delim := l.src[start : end+1]
	closing := strings.Index(l.src[end+1:], delim)
	if closing < 0 {
		return token{}, &LexError{Pos: start, Msg: "unterminated dollar-quoted string " + delim}
	}
	stop := end + 1 + closing + len(delim)
	for l.position < stop {
		l.readChar()
	}
	return token{typ: tokString, text: l.src[start:stop], start: start, end: stop, depth: l.depth}, nil
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_' || ch >= 0x80
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

// rawStatement is the token run of one statement plus its source span.
type rawStatement struct {
	text   string
	tokens []token
}

// split tokenizes src and cuts it into statements at top-level semicolons.
// Empty statements are dropped. Trailing comments are not part of a statement.
func split(src string) ([]rawStatement, error) {
	l := newLexer(src)
	var (
		out []rawStatement
		cur []token
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, rawStatement{
			text:   src[cur[0].start:cur[len(cur)-1].end],
			tokens: cur,
		})
		cur = nil
	}
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		switch t.typ {
		case tokEOF:
			if l.depth != 0 {
				return nil, &LexError{Pos: t.start, Msg: "unbalanced parenthesis"}
			}
			flush()
			return out, nil
		case tokSemicolon:
			if t.depth != 0 {
				return nil, &LexError{Pos: t.start, Msg: "semicolon inside parentheses"}
			}
			flush()
		default:
			cur = append(cur, t)
		}
	}
}
