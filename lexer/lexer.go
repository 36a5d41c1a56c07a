// Package lexer turns characters into the typed token stream consumed by
// the packrat engine. The engine never inspects raw characters: it marks,
// resets and fetches tokens through this package only.
package lexer

import (
	"bufio"
	"io"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Position is an index into the token stream. Positions are totally
// ordered; the engine compares them to decide whether a growth pass made
// progress.
type Position int

// Token kinds. Operator tokens use their text as the kind, so a grammar
// can expect them by spelling.
const (
	Int   = "int"
	Ident = "ident"

	// Bad marks an unrecognized rune. No grammar rule matches it, so a
	// parse over malformed input fails instead of crashing.
	Bad = "bad"
)

// Operators recognized as single-rune tokens.
const operators = "+-*/().$"

// Token is one typed token with its literal text and source location.
// Start and End are rune offsets into the input; Line is 1-based.
type Token struct {
	Kind  string
	Text  string
	Line  int
	Start int
	End   int
}

// Lexer tokenizes lazily from a reader and caches every produced token, so
// the cursor can be repositioned to any previously seen Position.
type Lexer struct {
	r    *bufio.Reader
	toks []Token
	pos  Position
	eof  bool
	err  error

	line   int
	offset int
}

// New returns a Lexer reading from r.
func New(r io.Reader) *Lexer {
	return &Lexer{r: bufio.NewReader(r), line: 1}
}

// NewString returns a Lexer over s.
func NewString(s string) *Lexer {
	return New(strings.NewReader(s))
}

// Mark returns the current cursor position.
func (l *Lexer) Mark() Position {
	return l.pos
}

// Reset repositions the cursor to a previously marked position.
func (l *Lexer) Reset(p Position) {
	l.pos = p
}

// Next returns the token at the cursor and advances past it. The second
// result is false at end of input.
func (l *Lexer) Next() (Token, bool) {
	t, ok := l.Peek()
	if ok {
		l.pos++
	}
	return t, ok
}

// Peek returns the token at the cursor without consuming it.
func (l *Lexer) Peek() (Token, bool) {
	for int(l.pos) >= len(l.toks) {
		if !l.scan() {
			return Token{}, false
		}
	}
	return l.toks[l.pos], true
}

// Err reports the first read error, if any. End of input is not an error.
func (l *Lexer) Err() error {
	return l.err
}

func (l *Lexer) readRune() (rune, bool) {
	if l.eof {
		return 0, false
	}
	r, _, err := l.r.ReadRune()
	if err != nil {
		l.eof = true
		if err != io.EOF && l.err == nil {
			l.err = errors.Wrap(err, "lexer: read")
		}
		return 0, false
	}
	l.offset++
	if r == '\n' {
		l.line++
	}
	return r, true
}

func (l *Lexer) unreadRune(r rune) {
	l.r.UnreadRune()
	l.offset--
	if r == '\n' {
		l.line--
	}
}

// scan appends the next token to the cache. It returns false at end of
// input.
func (l *Lexer) scan() bool {
	r, ok := l.readRune()
	for ok && unicode.IsSpace(r) {
		r, ok = l.readRune()
	}
	if !ok {
		return false
	}

	start := l.offset - 1
	switch {
	case strings.ContainsRune(operators, r):
		l.push(Token{Kind: string(r), Text: string(r), Line: l.line, Start: start, End: l.offset})
	case unicode.IsDigit(r):
		l.push(l.scanWhile(r, start, Int, unicode.IsDigit))
	case r == '_' || unicode.IsLetter(r):
		l.push(l.scanWhile(r, start, Ident, func(r rune) bool {
			return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
		}))
	default:
		l.push(Token{Kind: Bad, Text: string(r), Line: l.line, Start: start, End: l.offset})
	}
	return true
}

func (l *Lexer) scanWhile(first rune, start int, kind string, accept func(rune) bool) Token {
	var sb strings.Builder
	sb.WriteRune(first)
	for {
		r, ok := l.readRune()
		if !ok {
			break
		}
		if !accept(r) {
			l.unreadRune(r)
			break
		}
		sb.WriteRune(r)
	}
	return Token{Kind: kind, Text: sb.String(), Line: l.line, Start: start, End: l.offset}
}

func (l *Lexer) push(t Token) {
	l.toks = append(l.toks, t)
}
