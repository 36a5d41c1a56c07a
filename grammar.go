// Package packrat is a recursive-descent parsing engine over a typed token
// stream. Rule results are memoized per (rule, position), and rules may be
// left recursive — directly, indirectly or mutually — without looping:
// recursion detected through the memo table plants a seed and a fixed-point
// loop grows it until the match stops advancing.
//
// Grammars are written with a builder, in the same shape the rules would
// take on paper:
//
//	parser, err := packrat.BuildParser(func(g *packrat.Grammar) {
//		g.Start = "expr"
//		g.Define("expr", func() {
//			g.Choice(func() {
//				g.Call("expr")
//				g.Expect("+")
//				g.Call("term")
//			}, func() {
//				g.Call("term")
//			})
//		})
//		g.Define("term", func() {
//			g.Expect(lexer.Int)
//		})
//	})
//
// Which rules are left recursive, and which of their alternatives can be
// retried during growth, is computed once by Check before any input is
// consumed.
package packrat

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hashicorp/go-multierror"
)

const (
	printNode = "Print"

	callNode   = "Call"
	expectNode = "Expect"
	eofNode    = "EndOfInput"

	choiceNode   = "Choice"
	sequenceNode = "Sequence"
	optionalNode = "Optional"
	repeatNode   = "Repeat"
)

const (
	inGrammar  = "inside-grammar"
	inDef      = "inside-definition"
	inChoice   = "inside-choice"
	inOptional = "inside-optional"
	inRepeat   = "inside-repeat"
)

type grammarNode struct {
	pos     int
	kind    string
	args    []*grammarNode
	name    string   // callNode
	kinds   []string // expectNode
	min     int      // repeatNode
	max     int      // repeatNode, 0 means unbounded
	message []any    // printNode
}

type nodeBuilder struct {
	rule    *int
	context string
	args    []*grammarNode
}

func (b *nodeBuilder) buildNode(pos int) *grammarNode {
	if len(b.args) == 0 {
		return nil
	}
	if len(b.args) == 1 {
		return b.args[0]
	}
	return &grammarNode{kind: sequenceNode, args: b.args, pos: pos}
}

func (b *nodeBuilder) append(a *grammarNode) {
	b.args = append(b.args, a)
}

func (b *nodeBuilder) inRule() bool {
	return b != nil && b.context != inGrammar
}

type position struct {
	file string
	line int
	rule *int
}

type grammarError struct {
	g       *Grammar
	pos     int
	message string
}

func (e *grammarError) Error() string {
	p := e.g.posInfo[e.pos]
	if p.rule != nil {
		name := e.g.names[*p.rule]
		rulePos := e.g.posInfo[e.g.rulePos[*p.rule]]
		return fmt.Sprintf("%v:%v: %v (inside %q at %v:%v)", p.file, p.line, e.message, name, rulePos.file, rulePos.line)
	}
	return fmt.Sprintf("%v:%v: %v", p.file, p.line, e.message)
}

// Grammar accumulates rule definitions and, once checked, the static
// left-recursion facts the parser needs: which rules are left recursive,
// the chain of growable alternatives per rule, and the groups of mutually
// recursive rules.
type Grammar struct {
	Start string

	// LogFunc receives Print output and, when set, the engine's trace of
	// recursion detection and growth passes.
	LogFunc func(string, ...any)

	rules   []*grammarNode
	names   []string
	nameIdx map[string]int

	// list of pos for each name
	callPos map[string][]int

	// list of pos for each numbered rule
	rulePos []int
	// list of positions
	posInfo []position

	nb *nodeBuilder

	pos  int // grammar position
	errs *multierror.Error

	// filled in by Check
	checked bool
	alts    [][]*grammarNode // top-level alternatives per rule
	leftRec []bool
	growIdx [][]int // alternatives retried during growth, declaration order
	comps   [][]int // mutually left-recursive mates per rule, self included
}

// Err returns every grammar authoring error collected so far, nil if none.
func (g *Grammar) Err() error {
	return g.errs.ErrorOrNil()
}

func (g *Grammar) fail(pos int, args ...any) {
	g.errs = multierror.Append(g.errs, &grammarError{
		g:       g,
		message: fmt.Sprint(args...),
		pos:     pos,
	})
}

func (g *Grammar) failf(pos int, s string, args ...any) {
	g.errs = multierror.Append(g.errs, &grammarError{
		g:       g,
		message: fmt.Sprintf(s, args...),
		pos:     pos,
	})
}

func (g *Grammar) markPosition() int {
	_, file, no, ok := runtime.Caller(2)
	if !ok {
		return -1
	}
	base, _ := os.Getwd()
	file, _ = filepath.Rel(base, file)
	var rule *int
	if g.nb != nil {
		rule = g.nb.rule
	}
	pos := position{file: file, line: no, rule: rule}
	p := len(g.posInfo)

	g.posInfo = append(g.posInfo, pos)
	return p
}

func (g *Grammar) shouldExit(pos int) bool {
	if g.errs != nil {
		return true
	}
	if g.nb == nil {
		g.fail(pos, "must call builder methods inside builder")
		return true
	}
	if !g.nb.inRule() {
		g.fail(pos, "must call builder methods inside Define()")
		return true
	}
	return false
}

func (g *Grammar) buildStub(context string, stub func()) *nodeBuilder {
	var rule *int
	oldNb := g.nb
	if oldNb != nil {
		rule = oldNb.rule
	}
	newNb := &nodeBuilder{context: context, rule: rule}
	g.nb = newNb
	stub()
	g.nb = oldNb
	return newNb
}

func (g *Grammar) buildRule(rule int, stub func()) *nodeBuilder {
	oldNb := g.nb
	newNb := &nodeBuilder{context: inDef, rule: &rule}
	g.nb = newNb
	stub()
	g.nb = oldNb
	return newNb
}

func (g *Grammar) buildGrammar(stub func(*Grammar)) error {
	if g.nb != nil || g.names != nil {
		return fmt.Errorf("use empty grammar")
	}
	g.nameIdx = make(map[string]int)
	g.callPos = make(map[string][]int)
	g.nb = &nodeBuilder{context: inGrammar}

	stub(g)
	g.nb = nil

	return g.Check()
}

// Define names a rule. The stub body is a sequence; alternatives are
// expressed with Choice.
func (g *Grammar) Define(name string, stub func()) {
	p := g.markPosition()
	if g.errs != nil {
		return
	} else if g.nb == nil {
		g.fail(p, "must call Define inside grammar")
		return
	} else if g.nb.inRule() {
		g.fail(p, "cant call Define inside Define")
		return
	}

	if old, ok := g.nameIdx[name]; ok {
		oldPos := g.posInfo[g.rulePos[old]]
		g.failf(p, "cant redefine %q, already defined at %v", name, oldPos)
		return
	}

	ruleNum := len(g.names)
	g.names = append(g.names, name)
	g.nameIdx[name] = ruleNum
	g.rulePos = append(g.rulePos, p)

	r := g.buildRule(ruleNum, stub)
	g.rules = append(g.rules, r.buildNode(p))
}

// Print emits its arguments through LogFunc when the surrounding position
// is reached during parsing. It always matches, consuming nothing.
func (g *Grammar) Print(args ...any) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	g.nb.append(&grammarNode{kind: printNode, message: args, pos: p})
}

// Call applies another rule (or the rule itself) at the current position.
func (g *Grammar) Call(name string) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	g.callPos[name] = append(g.callPos[name], p)
	g.nb.append(&grammarNode{kind: callNode, name: name, pos: p})
}

// Expect matches one token by kind. With several kinds it is an ordered
// choice over them.
func (g *Grammar) Expect(kinds ...string) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	if len(kinds) == 0 {
		g.fail(p, "missing operand")
		return
	}
	g.nb.append(&grammarNode{kind: expectNode, kinds: kinds, pos: p})
}

// EndOfInput matches only when no tokens remain.
func (g *Grammar) EndOfInput() {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	g.nb.append(&grammarNode{kind: eofNode, pos: p})
}

// Choice tries each option in order; the first one that matches wins and
// later options are never attempted.
func (g *Grammar) Choice(options ...func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}

	args := make([]*grammarNode, len(options))
	for i, stub := range options {
		r := g.buildStub(inChoice, stub)

		if g.errs != nil {
			return
		}

		args[i] = r.buildNode(p)
	}
	g.nb.append(&grammarNode{kind: choiceNode, args: args, pos: p})
}

// Optional matches the stub if it is there, and matches empty otherwise.
func (g *Grammar) Optional(stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	r := g.buildStub(inOptional, stub)
	if g.errs != nil {
		return
	}

	g.nb.append(&grammarNode{kind: optionalNode, args: r.args, pos: p})
}

// Repeat matches the stub at least min_t and at most max_t times. A
// max_t of 0 means no upper bound.
func (g *Grammar) Repeat(min_t int, max_t int, stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}

	r := g.buildStub(inRepeat, stub)

	if g.errs != nil {
		return
	}

	g.nb.append(&grammarNode{kind: repeatNode, args: r.args, min: min_t, max: max_t, pos: p})
}

// Check validates the grammar and runs the left-recursion analysis. Every
// violation is collected; parsing never starts on a broken grammar.
func (g *Grammar) Check() error {
	if g.checked || g.errs != nil {
		return g.Err()
	}
	for name, pos := range g.callPos {
		if _, ok := g.nameIdx[name]; !ok {
			for _, p := range pos {
				g.failf(p, "missing rule %q", name)
			}
		}
	}

	for n, name := range g.names {
		if name != g.Start && g.callPos[name] == nil {
			g.failf(g.rulePos[n], "unused rule %q", name)
		}
	}

	if g.Start == "" {
		g.fail(g.pos, "starting rule undefined")
	} else if _, ok := g.nameIdx[g.Start]; !ok {
		g.failf(g.pos, "starting rule %q is missing", g.Start)
	}

	if g.errs != nil {
		return g.Err()
	}

	g.analyze()
	g.checked = true
	return g.Err()
}

// analyze computes, ahead of parse time, which rules are left recursive,
// which alternative seeds each of them, which alternatives the growth
// engine retries, and which rules recurse into each other.
func (g *Grammar) analyze() {
	n := len(g.rules)

	nullable := g.computeNullable()

	// direct left calls per rule: rules that can be applied before the
	// rule consumes a token
	direct := make([][]bool, n)
	for i, body := range g.rules {
		set := make([]bool, n)
		g.leftCalls(body, nullable, set)
		direct[i] = set
	}

	// transitive closure: reach[i][j] = rule i can start with rule j
	reach := make([][]bool, n)
	for i := range reach {
		reach[i] = make([]bool, n)
		copy(reach[i], direct[i])
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if !reach[i][k] {
				continue
			}
			for j := 0; j < n; j++ {
				if reach[k][j] {
					reach[i][j] = true
				}
			}
		}
	}

	g.alts = make([][]*grammarNode, n)
	g.leftRec = make([]bool, n)
	g.growIdx = make([][]int, n)
	g.comps = make([][]int, n)

	for i, body := range g.rules {
		g.alts[i] = alternativesOf(body)
		g.leftRec[i] = reach[i][i]

		// an alternative is growable when its left corner reaches back to
		// the rule, directly or through other rules
		for a, alt := range g.alts[i] {
			set := make([]bool, n)
			g.leftCalls(alt, nullable, set)
			for s, on := range set {
				if on && (s == i || reach[s][i]) {
					g.growIdx[i] = append(g.growIdx[i], a)
					break
				}
			}
		}
	}

	for i := 0; i < n; i++ {
		if !g.leftRec[i] {
			continue
		}
		for j := 0; j < n; j++ {
			if i == j || (reach[i][j] && reach[j][i]) {
				g.comps[i] = append(g.comps[i], j)
			}
		}
	}

	// a recursion group where every alternative of every member recurses
	// back into the group can never plant a seed
	for i := 0; i < n; i++ {
		if !g.leftRec[i] || g.comps[i][0] != i {
			continue
		}
		escape := false
		for _, r := range g.comps[i] {
			if len(g.growIdx[r]) < len(g.alts[r]) {
				escape = true
				break
			}
		}
		if !escape {
			for _, r := range g.comps[i] {
				g.failf(g.rulePos[r], "left-recursive rule %q has no seed alternative", g.names[r])
			}
		}
	}
}

// alternativesOf splits a rule body into its top-level alternatives. A
// body that is not a Choice is a single alternative; an empty body is one
// empty alternative.
func alternativesOf(body *grammarNode) []*grammarNode {
	if body != nil && body.kind == choiceNode {
		return body.args
	}
	return []*grammarNode{body}
}

func (g *Grammar) computeNullable() []bool {
	nullable := make([]bool, len(g.rules))
	for changed := true; changed; {
		changed = false
		for i, body := range g.rules {
			if !nullable[i] && g.nullableNode(body, nullable) {
				nullable[i] = true
				changed = true
			}
		}
	}
	return nullable
}

// nullableNode reports whether n can match without consuming a token.
func (g *Grammar) nullableNode(n *grammarNode, nullable []bool) bool {
	if n == nil {
		return true
	}
	switch n.kind {
	case expectNode:
		return false
	case callNode:
		return nullable[g.nameIdx[n.name]]
	case sequenceNode:
		for _, a := range n.args {
			if !g.nullableNode(a, nullable) {
				return false
			}
		}
		return true
	case choiceNode:
		for _, a := range n.args {
			if g.nullableNode(a, nullable) {
				return true
			}
		}
		return false
	case repeatNode:
		if n.min == 0 {
			return true
		}
		for _, a := range n.args {
			if !g.nullableNode(a, nullable) {
				return false
			}
		}
		return true
	default: // optionalNode, printNode, eofNode
		return true
	}
}

// leftCalls adds to set every rule that n can apply before consuming a
// token, scanning sequences only as far as their prefix is nullable.
func (g *Grammar) leftCalls(n *grammarNode, nullable []bool, set []bool) {
	if n == nil {
		return
	}
	switch n.kind {
	case callNode:
		set[g.nameIdx[n.name]] = true
	case choiceNode:
		for _, a := range n.args {
			g.leftCalls(a, nullable, set)
		}
	case sequenceNode, optionalNode, repeatNode:
		for _, a := range n.args {
			g.leftCalls(a, nullable, set)
			if !g.nullableNode(a, nullable) {
				return
			}
		}
	}
}

// BuildGrammar runs stub against an empty grammar and checks the result.
func BuildGrammar(stub func(*Grammar)) (*Grammar, error) {
	g := &Grammar{}
	g.pos = g.markPosition()
	if err := g.buildGrammar(stub); err != nil {
		return nil, err
	}
	return g, nil
}

// BuildParser builds and checks a grammar, then compiles it.
func BuildParser(stub func(*Grammar)) (*Parser, error) {
	g := &Grammar{}
	g.pos = g.markPosition()
	if err := g.buildGrammar(stub); err != nil {
		return nil, err
	}
	return g.Parser()
}
