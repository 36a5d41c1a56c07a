package packrat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glebzlat/packrat-improved-lr/lexer"
)

// exprParser builds E <- E '+' T / T with T matching one integer token.
func exprParser(t *testing.T, logf func(string, ...any)) *Parser {
	t.Helper()
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "expr"
		g.LogFunc = logf

		g.Define("expr", func() {
			g.Choice(func() {
				g.Call("expr")
				g.Expect("+")
				g.Call("term")
			}, func() {
				g.Call("term")
			})
		})
		g.Define("term", func() {
			g.Expect(lexer.Int)
		})
	})
	require.NoError(t, err)
	return parser
}

func TestLeftRecursionTerminates(t *testing.T) {
	parser := exprParser(t, t.Logf)

	tree, err := parser.ParseString("1 + 2 + 3")
	require.NoError(t, err)

	// leftmost-longest: the chain associates to the left
	want := `(expr (expr (expr (term "1")) "+" (term "2")) "+" (term "3"))`
	assert.Equal(t, want, tree.String())
	assert.Equal(t, lexer.Position(0), tree.Start)
	assert.Equal(t, lexer.Position(5), tree.End)
}

func TestLeftRecursionIdleSeed(t *testing.T) {
	// a left-recursive rule on input that never exercises the recursive
	// alternative returns the plain seed
	parser := exprParser(t, t.Logf)

	tree, err := parser.ParseString("7")
	require.NoError(t, err)
	assert.Equal(t, `(expr (term "7"))`, tree.String())
}

func TestRuleFailure(t *testing.T) {
	parser := exprParser(t, t.Logf)

	_, err := parser.ParseString("+")
	require.ErrorIs(t, err, ErrNoParse)
}

func TestMemoizationIdempotence(t *testing.T) {
	// "probe" is applied twice at the same position: once evaluated, once
	// answered from the memo table
	evaluations := 0
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "start"
		g.LogFunc = func(f string, o ...any) {
			if strings.Contains(logline(f, o), "probe-evaluated") {
				evaluations++
			}
			t.Logf(f, o...)
		}

		g.Define("start", func() {
			g.Choice(func() {
				g.Call("probe")
				g.Expect("+")
			}, func() {
				g.Call("probe")
				g.Expect("-")
			})
		})
		g.Define("probe", func() {
			g.Print("probe-evaluated")
			g.Expect(lexer.Int)
		})
	})
	require.NoError(t, err)

	tree, err := parser.ParseString("1 -")
	require.NoError(t, err)
	assert.Equal(t, 1, evaluations, "second application must be a cache hit")
	assert.Equal(t, `(start (probe "1") "-")`, tree.String())
}

func TestMemoizedResultsIdentical(t *testing.T) {
	// subsequent applications of the same (rule, position) return the
	// identical result and end position
	parser := exprParser(t, nil)

	first, err := parser.ParseString("1 + 2")
	require.NoError(t, err)
	second, err := parser.ParseString("1 + 2")
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("parses of equal input differ (-first +second):\n%s", diff)
	}
}

func TestOrderedChoicePrecedence(t *testing.T) {
	// both alternatives match; the second must never be attempted
	secondTried := 0
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "start"
		g.LogFunc = func(f string, o ...any) {
			if strings.Contains(logline(f, o), "second-alternative") {
				secondTried++
			}
		}

		g.Define("start", func() {
			g.Choice(func() {
				g.Expect(lexer.Int)
			}, func() {
				g.Print("second-alternative")
				g.Expect(lexer.Int)
			})
		})
	})
	require.NoError(t, err)

	require.True(t, parser.Accept("42"))
	assert.Zero(t, secondTried, "later alternative attempted after earlier success")
}

func TestFailureRestoresCursor(t *testing.T) {
	// the first alternative consumes two tokens before failing; the
	// second can only match if the cursor was restored to the start
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "start"

		g.Define("start", func() {
			g.Choice(func() {
				g.Expect("(")
				g.Expect(lexer.Int)
				g.Expect(")")
			}, func() {
				g.Expect("(")
				g.Expect(lexer.Int)
			})
		})
	})
	require.NoError(t, err)

	require.True(t, parser.testGrammar(
		[]string{"(1)", "(1"},
		[]string{"", "(", "1)"},
	))
}

func TestGrowthMonotonicity(t *testing.T) {
	var logs []string
	parser := exprParser(t, func(f string, o ...any) {
		logs = append(logs, logline(f, o))
	})

	input := "1 + 2 + 3 + 4"
	_, err := parser.ParseString(input)
	require.NoError(t, err)

	// every growth pass must reach a strictly later position, and the
	// pass count is bounded by the token count
	reached := regexp.MustCompile(`pass (\d+) reached (\d+)`)
	last := -1
	passes := 0
	for _, line := range logs {
		m := reached.FindStringSubmatch(line)
		if m == nil || !strings.Contains(line, `grow "expr"`) {
			continue
		}
		passes++
		end, perr := strconv.Atoi(m[2])
		require.NoError(t, perr)
		assert.Greater(t, end, last, "growth must advance the end position")
		last = end
	}
	assert.Greater(t, passes, 1, "expected more than one growth pass")
	assert.LessOrEqual(t, passes, 7, "pass count exceeds remaining tokens")
}

func TestMutualRecursion(t *testing.T) {
	// L <- P '.' id / '$'
	// P <- P int / L
	// on "$ 1 2 . id" both heads must grow jointly
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "start"
		g.LogFunc = t.Logf

		g.Define("start", func() {
			g.Call("l")
			g.EndOfInput()
		})
		g.Define("l", func() {
			g.Choice(func() {
				g.Call("p")
				g.Expect(".")
				g.Expect(lexer.Ident)
			}, func() {
				g.Expect("$")
			})
		})
		g.Define("p", func() {
			g.Choice(func() {
				g.Call("p")
				g.Expect(lexer.Int)
			}, func() {
				g.Call("l")
			})
		})
	})
	require.NoError(t, err)

	tree, err := parser.ParseString("$ 1 2 . id")
	require.NoError(t, err)

	want := `(start (l (p (p (p (l "$")) "1") "2") "." "id"))`
	assert.Equal(t, want, tree.String())
}

func TestMutualRecursionOrderedSeed(t *testing.T) {
	// m2's seed matches before the alternative that re-enters m1, so m1
	// finishes its whole evaluation without ever being re-entered and
	// must take over the growth its mate deferred
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "m1"
		g.LogFunc = t.Logf

		g.Define("m1", func() {
			g.Choice(func() {
				g.Call("m2")
				g.Expect("+")
			}, func() {
				g.Expect("-")
			})
		})
		g.Define("m2", func() {
			g.Choice(func() {
				g.Call("m2")
				g.Expect("*")
			}, func() {
				g.Expect("$")
			}, func() {
				g.Call("m1")
			})
		})
	})
	require.NoError(t, err)

	tree, err := parser.ParseString("$ * +")
	require.NoError(t, err)
	assert.Equal(t, `(m1 (m2 (m2 "$") "*") "+")`, tree.String())
	assert.Equal(t, lexer.Position(3), tree.End)
}

func TestGrowthTieKeepsPrevious(t *testing.T) {
	// h <- h / '$': the recursive alternative re-matches at the same end
	// position as the seed; the previous result is kept, with no extra
	// wrapping, and the loop stops
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "h"
		g.LogFunc = t.Logf
		g.Define("h", func() {
			g.Choice(func() {
				g.Call("h")
			}, func() {
				g.Expect("$")
			})
		})
	})
	require.NoError(t, err)

	tree, err := parser.ParseString("$")
	require.NoError(t, err)
	assert.Equal(t, `(h "$")`, tree.String())
}

func TestIndirectRecursion(t *testing.T) {
	// x is left recursive only through y
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "start"

		g.Define("start", func() {
			g.Call("x")
			g.EndOfInput()
		})
		g.Define("x", func() {
			g.Choice(func() {
				g.Call("y")
				g.Expect(lexer.Ident)
			}, func() {
				g.Expect(lexer.Int)
			})
		})
		g.Define("y", func() {
			g.Call("x")
			g.Expect("*")
		})
	})
	require.NoError(t, err)

	tree, err := parser.ParseString("1 * a * b")
	require.NoError(t, err)
	want := `(start (x (y (x (y (x "1") "*") "a") "*") "b"))`
	assert.Equal(t, want, tree.String())

	require.False(t, parser.Accept("1 *"))
}

func TestFullInputRequired(t *testing.T) {
	// with an end-of-input rule, trailing tokens fail the whole parse
	// even though the expression alone matches a prefix
	withEOF, err := BuildParser(func(g *Grammar) {
		g.Start = "grammar"
		g.Define("grammar", func() {
			g.Call("expr")
			g.EndOfInput()
		})
		g.Define("expr", func() {
			g.Choice(func() {
				g.Call("expr")
				g.Expect("+")
				g.Expect(lexer.Int)
			}, func() {
				g.Expect(lexer.Int)
			})
		})
	})
	require.NoError(t, err)

	assert.False(t, withEOF.Accept("1 + 2 3"))
	assert.True(t, withEOF.Accept("1 + 2"))

	bare := exprParser(t, nil)
	assert.True(t, bare.Accept("1 + 2 3"), "without EOF the prefix parse succeeds")
}

func TestOptionalAndRepeat(t *testing.T) {
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "start"
		g.Define("start", func() {
			g.Optional(func() {
				g.Expect("-")
			})
			g.Repeat(1, 0, func() {
				g.Expect(lexer.Int)
			})
			g.Optional(func() {
				g.Expect("$")
			})
		})
	})
	require.NoError(t, err)

	require.True(t, parser.testGrammar(
		[]string{"1", "- 1", "1 2 3", "- 1 2 $", "1 $"},
		[]string{"", "-", "$", "- $", "1 -"},
	))
}

func TestRepeatBounds(t *testing.T) {
	parser, err := BuildParser(func(g *Grammar) {
		g.Start = "start"
		g.Define("start", func() {
			g.Repeat(2, 3, func() {
				g.Expect(lexer.Int)
			})
		})
	})
	require.NoError(t, err)

	require.True(t, parser.testGrammar(
		[]string{"1 2", "1 2 3"},
		[]string{"", "1", "1 2 3 4"},
	))
}

func TestWalk(t *testing.T) {
	parser := exprParser(t, nil)

	tree, err := parser.ParseString("1 + 2")
	require.NoError(t, err)

	var names []string
	var leaves []string
	tree.Walk(func(n *Node) {
		if n.Tok != nil {
			leaves = append(leaves, n.Tok.Text)
		} else {
			names = append(names, n.Name)
		}
	})
	assert.Equal(t, []string{"expr", "expr", "term", "term"}, names)
	assert.Equal(t, []string{"1", "+", "2"}, leaves)
}

// logline expands a LogFunc invocation into the final message.
func logline(f string, o []any) string {
	return fmt.Sprintf(f, o...)
}
