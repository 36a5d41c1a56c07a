package packrat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebzlat/packrat-improved-lr/lexer"
)

// ErrNoParse reports that the start rule failed to match. It is the only
// error an intact grammar produces: in-grammar failures are values handled
// by ordered choice, not errors.
var ErrNoParse = errors.New("packrat: no parse")

type parseRule func(*Parser, *parserState) bool

// altRule is one growable alternative of a left-recursive rule: its
// declaration index and its compiled evaluator.
type altRule struct {
	idx int
	run parseRule
}

// compKey identifies one in-progress growth: a group of mutually
// recursive rules at one start position.
type compKey struct {
	rule int // lowest rule index of the group
	pos  lexer.Position
}

type parserState struct {
	lex  *lexer.Lexer
	memo memoStore
	out  []*Node
	logf func(string, ...any)

	// growth loops in progress, so rules promoted mid-pass defer to the
	// loop that is already re-evaluating their group
	growing map[compKey]bool
}

type stateMark struct {
	pos lexer.Position
	out int
}

func (s *parserState) mark() stateMark {
	return stateMark{pos: s.lex.Mark(), out: len(s.out)}
}

func (s *parserState) restore(m stateMark) {
	s.lex.Reset(m.pos)
	s.out = s.out[:m.out]
}

func (s *parserState) push(n *Node) {
	s.out = append(s.out, n)
}

// take detaches the nodes produced since m.
func (s *parserState) take(m stateMark) []*Node {
	children := append([]*Node(nil), s.out[m.out:]...)
	s.out = s.out[:m.out]
	return children
}

// Parser is a compiled grammar. It is immutable and safe to reuse across
// inputs; all per-parse state lives in the memo table and the cursor.
type Parser struct {
	start   int
	names   []string
	nameIdx map[string]int

	bodies [][]parseRule // top-level alternatives per rule
	chains [][]altRule   // growable alternatives per left-recursive rule
	comps  [][]int       // mutually recursive mates per rule, self included

	logf func(string, ...any)
}

// Parser compiles a checked grammar into its executable form.
func (g *Grammar) Parser() (*Parser, error) {
	if err := g.Check(); err != nil {
		return nil, err
	}

	p := &Parser{
		start:   g.nameIdx[g.Start],
		names:   g.names,
		nameIdx: g.nameIdx,
		bodies:  make([][]parseRule, len(g.rules)),
		chains:  make([][]altRule, len(g.rules)),
		comps:   g.comps,
		logf:    g.LogFunc,
	}

	for i := range g.rules {
		alts := make([]parseRule, len(g.alts[i]))
		for a, alt := range g.alts[i] {
			alts[a] = g.compile(alt)
		}
		p.bodies[i] = alts
		for _, a := range g.growIdx[i] {
			p.chains[i] = append(p.chains[i], altRule{idx: a, run: alts[a]})
		}
	}
	return p, nil
}

// compile lowers one grammar node to a closure. A nil node is an empty
// alternative and always matches.
func (g *Grammar) compile(n *grammarNode) parseRule {
	if n == nil {
		return func(p *Parser, s *parserState) bool {
			return true
		}
	}
	switch n.kind {
	case printNode:
		pi := g.posInfo[n.pos]
		r := g.names[*pi.rule]
		prefix := pi.file
		line := pi.line
		message := n.message
		return func(p *Parser, s *parserState) bool {
			if s.logf != nil {
				s.logf("%v:%v: Print(%q) inside %q at pos %v", prefix, line, fmt.Sprint(message...), r, s.lex.Mark())
			}
			return true
		}
	case expectNode:
		kinds := n.kinds
		args := strings.Join(kinds, " ")
		return func(p *Parser, s *parserState) bool {
			return p.expect(s, kinds, args)
		}
	case eofNode:
		return func(p *Parser, s *parserState) bool {
			_, ok := s.lex.Peek()
			return !ok
		}
	case callNode:
		idx := g.nameIdx[n.name]
		return func(p *Parser, s *parserState) bool {
			return p.apply(s, idx)
		}
	case choiceNode:
		rules := make([]parseRule, len(n.args))
		for i, a := range n.args {
			rules[i] = g.compile(a)
		}
		return func(p *Parser, s *parserState) bool {
			for _, r := range rules {
				m := s.mark()
				if r(p, s) {
					return true
				}
				s.restore(m)
			}
			return false
		}
	case sequenceNode:
		rules := make([]parseRule, len(n.args))
		for i, a := range n.args {
			rules[i] = g.compile(a)
		}
		return func(p *Parser, s *parserState) bool {
			for _, r := range rules {
				if !r(p, s) {
					return false
				}
			}
			return true
		}
	case optionalNode:
		rules := make([]parseRule, len(n.args))
		for i, a := range n.args {
			rules[i] = g.compile(a)
		}
		return func(p *Parser, s *parserState) bool {
			m := s.mark()
			for _, r := range rules {
				if !r(p, s) {
					s.restore(m)
					return true
				}
			}
			return true
		}
	case repeatNode:
		rules := make([]parseRule, len(n.args))
		for i, a := range n.args {
			rules[i] = g.compile(a)
		}
		minN := n.min
		maxN := n.max
		return func(p *Parser, s *parserState) bool {
			count := 0
			for {
				m := s.mark()
				ok := true
				for _, r := range rules {
					if !r(p, s) {
						ok = false
						break
					}
				}
				// a match that consumed nothing would repeat forever
				if !ok || s.lex.Mark() == m.pos {
					s.restore(m)
					return count >= minN
				}
				count++
				if maxN != 0 && count >= maxN {
					return true
				}
			}
		}
	default:
		return func(p *Parser, s *parserState) bool {
			return true
		}
	}
}

// expect matches one token against an ordered list of kinds, memoizing
// the outcome under the kinds as the key's argument component.
func (p *Parser) expect(s *parserState, kinds []string, args string) bool {
	pos := s.lex.Mark()
	key := memoKey{rule: termRule, args: args, pos: pos}
	if e := s.memo.get(key); e != nil {
		if e.result == nil {
			return false
		}
		s.lex.Reset(e.end)
		s.push(e.result)
		return true
	}
	e := &memoEntry{state: stateResolved, end: pos}
	if t, ok := s.lex.Peek(); ok {
		for _, k := range kinds {
			if t.Kind == k {
				s.lex.Next()
				e.result = leaf(t, pos)
				e.end = pos + 1
				break
			}
		}
	}
	s.memo.put(key, e)
	if e.result == nil {
		return false
	}
	s.push(e.result)
	return true
}

// apply is the entry point for every rule application. It decides whether
// this is a fresh application, a recursive re-entry into an in-progress
// one, or a cache hit, and routes promoted entries to the growth engine.
func (p *Parser) apply(s *parserState, rule int) bool {
	pos := s.lex.Mark()
	key := memoKey{rule: rule, pos: pos}

	if e := s.memo.get(key); e != nil {
		if e.state == statePending {
			// recursive re-entry: promote the entry, return the current
			// answer (failure, no seed exists yet) and unwind
			s.memo.promote(key, p.chains[rule])
			if s.logf != nil {
				s.logf("packrat: left recursion on %q at %v", p.names[rule], pos)
			}
			return false
		}
		return p.useEntry(s, e, pos)
	}

	e := &memoEntry{state: statePending, end: pos}
	s.memo.put(key, e)

	result, end := p.evalRule(s, rule, pos)
	e.result, e.end = result, end

	if e.state == statePending {
		if p.adoptDeferred(s, rule, pos) {
			// a mate deferred a growing head to this application; the
			// provisional result above becomes one more seed and the
			// whole group grows here
			s.memo.promote(key, p.chains[rule])
			p.grow(s, rule, pos)
		} else {
			e.state = stateResolved
		}
	} else if p.deferGrowth(s, rule, pos) {
		e.deferred = true
	} else {
		// the entry became a head during its own seed evaluation and no
		// enclosing application of the group is in progress: grow here
		p.grow(s, rule, pos)
	}
	return p.useEntry(s, e, pos)
}

// useEntry repositions the cursor to the entry's stored end position and
// returns its stored result.
func (p *Parser) useEntry(s *parserState, e *memoEntry, pos lexer.Position) bool {
	if e.result == nil {
		s.lex.Reset(pos)
		return false
	}
	s.lex.Reset(e.end)
	s.push(e.result)
	return true
}

// evalRule runs a rule body: ordered choice over its alternatives, each
// attempt starting from pos. The first success wins.
func (p *Parser) evalRule(s *parserState, rule int, pos lexer.Position) (*Node, lexer.Position) {
	for _, alt := range p.bodies[rule] {
		if n, end, ok := p.evalAlt(s, rule, alt, pos); ok {
			return n, end
		}
	}
	return nil, pos
}

// evalAlt runs one alternative from pos and wraps its children into a
// node named after the rule. On failure the cursor and the output are
// restored to pos.
func (p *Parser) evalAlt(s *parserState, rule int, alt parseRule, pos lexer.Position) (*Node, lexer.Position, bool) {
	s.lex.Reset(pos)
	m := s.mark()
	if !alt(p, s) {
		s.restore(m)
		return nil, pos, false
	}
	end := s.lex.Mark()
	return &Node{Name: p.names[rule], Children: s.take(m), Start: pos, End: end}, end, true
}

// deferGrowth reports whether a freshly promoted head must leave growth
// to an enclosing application: either the group is already being grown
// here and the current pass will pick this head up, or a mate's
// application at this position is still on the stack (pending, or
// promoted with its seed unfinished).
func (p *Parser) deferGrowth(s *parserState, rule int, pos lexer.Position) bool {
	comp := p.comps[rule]
	if s.growing[compKey{rule: comp[0], pos: pos}] {
		return true
	}
	for _, r := range comp {
		if r == rule {
			continue
		}
		e := s.memo.get(memoKey{rule: r, pos: pos})
		if e == nil {
			continue
		}
		if e.state == statePending || (e.state == stateGrowing && !e.deferred) {
			return true
		}
	}
	return false
}

// adoptDeferred reports whether a rule resolving from Pending must take
// over growth instead: a mate of its group deferred a growing head, and
// this application is the outermost one for the group (no mate is still
// on the stack and the group is not already growing). Without adoption
// the deferred head would never grow: a head only hands growth upward,
// and this rule, never having been promoted, would otherwise freeze its
// provisional result and unwind.
func (p *Parser) adoptDeferred(s *parserState, rule int, pos lexer.Position) bool {
	comp := p.comps[rule]
	if len(comp) == 0 || s.growing[compKey{rule: comp[0], pos: pos}] {
		return false
	}
	adopted := false
	for _, r := range comp {
		if r == rule {
			continue
		}
		e := s.memo.get(memoKey{rule: r, pos: pos})
		if e == nil {
			continue
		}
		if e.state == statePending || (e.state == stateGrowing && !e.deferred) {
			return false
		}
		if e.state == stateGrowing {
			adopted = true
		}
	}
	return adopted
}

// grow runs the seed-and-grow fixed point for every head of the rule's
// group at pos. Each pass retries each head's growable alternatives in
// declaration order; the first success per head is its candidate, kept
// only on strict forward progress (ties go to the previous result). The
// loop ends when a full pass improves no head; the heads are then final.
func (p *Parser) grow(s *parserState, rule int, pos lexer.Position) {
	comp := p.comps[rule]
	gk := compKey{rule: comp[0], pos: pos}
	s.growing[gk] = true
	defer delete(s.growing, gk)

	for pass := 1; ; pass++ {
		// results cached by the previous pass were computed against the
		// old seeds; drop them so mates are re-evaluated, but keep the
		// heads, whose entries are the seeds themselves
		for _, r := range comp {
			k := memoKey{rule: r, pos: pos}
			if e := s.memo.get(k); e != nil && e.state != stateGrowing {
				s.memo.drop(k)
			}
		}

		improved := false
		for _, r := range comp {
			e := s.memo.get(memoKey{rule: r, pos: pos})
			if e == nil || e.state != stateGrowing {
				continue
			}

			var cand *Node
			var candEnd lexer.Position
			ok := false
			for _, alt := range e.chain {
				if n, end, found := p.evalAlt(s, r, alt.run, pos); found {
					cand, candEnd, ok = n, end, true
					break
				}
			}
			if !ok {
				continue
			}
			if (e.result == nil && cand != nil) || candEnd > e.end {
				e.result, e.end = cand, candEnd
				improved = true
				if s.logf != nil {
					s.logf("packrat: grow %q at %v: pass %v reached %v", p.names[r], pos, pass, candEnd)
				}
			}
		}
		if !improved {
			break
		}
	}

	for _, r := range comp {
		if e := s.memo.get(memoKey{rule: r, pos: pos}); e != nil && e.state == stateGrowing {
			e.state = stateResolved
		}
	}
}

func (p *Parser) newState(l *lexer.Lexer) *parserState {
	return &parserState{
		lex:     l,
		memo:    memoStore{},
		logf:    p.logf,
		growing: make(map[compKey]bool),
	}
}

// Parse applies the start rule to the token stream. It returns ErrNoParse
// when the rule fails; whether the whole input must be consumed is up to
// the grammar, which ends its start rule with EndOfInput.
func (p *Parser) Parse(l *lexer.Lexer) (*Node, error) {
	s := p.newState(l)
	ok := p.apply(s, p.start)
	if err := l.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoParse
	}
	return s.out[0], nil
}

// ParseString parses src from its beginning.
func (p *Parser) ParseString(src string) (*Node, error) {
	return p.Parse(lexer.NewString(src))
}

// Accept reports whether src parses.
func (p *Parser) Accept(src string) bool {
	_, err := p.ParseString(src)
	return err == nil
}

func (p *Parser) applyComplete(rule int, src string) bool {
	s := p.newState(lexer.NewString(src))
	if !p.apply(s, rule) {
		return false
	}
	_, more := s.lex.Peek()
	return !more
}

func (p *Parser) testRule(name string, accept []string, reject []string) bool {
	rule := p.nameIdx[name]
	for _, src := range accept {
		if !p.applyComplete(rule, src) {
			return false
		}
	}
	for _, src := range reject {
		if p.applyComplete(rule, src) {
			return false
		}
	}
	return true
}

func (p *Parser) testGrammar(accept []string, reject []string) bool {
	return p.testRule(p.names[p.start], accept, reject)
}
