package arith

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrees(t *testing.T) {
	parser, err := NewParser()
	require.NoError(t, err)

	for _, test := range []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single number",
			input: "42",
			want:  `(grammar (expr (mul (primary (atom "42")))))`,
		},
		{
			name:  "simple addition",
			input: "1 + 2",
			want:  `(grammar (expr (expr (mul (primary (atom "1")))) "+" (mul (primary (atom "2")))))`,
		},
		{
			name:  "addition is left associative",
			input: "1 + 2 + 3",
			want:  `(grammar (expr (expr (expr (mul (primary (atom "1")))) "+" (mul (primary (atom "2")))) "+" (mul (primary (atom "3")))))`,
		},
		{
			name:  "subtraction is left associative",
			input: "1 - 2 - 3",
			want:  `(grammar (expr (expr (expr (mul (primary (atom "1")))) "-" (mul (primary (atom "2")))) "-" (mul (primary (atom "3")))))`,
		},
		{
			name:  "multiplication binds tighter than addition",
			input: "1 + 2 * 3",
			want:  `(grammar (expr (expr (mul (primary (atom "1")))) "+" (mul (mul (primary (atom "2"))) "*" (primary (atom "3")))))`,
		},
		{
			name:  "multiplication before addition in source",
			input: "2 * 3 + 4",
			want:  `(grammar (expr (expr (mul (mul (primary (atom "2"))) "*" (primary (atom "3")))) "+" (mul (primary (atom "4")))))`,
		},
		{
			name:  "field access chains to the left",
			input: "a.b.c",
			want:  `(grammar (expr (mul (primary (primary (primary (atom "a")) "." "b") "." "c"))))`,
		},
		{
			name:  "field access under division",
			input: "8 / x.y",
			want:  `(grammar (expr (mul (mul (primary (atom "8"))) "/" (primary (primary (atom "x")) "." "y"))))`,
		},
		{
			name:  "parentheses group",
			input: "(1 + 2) * 3",
			want:  `(grammar (expr (mul (mul (primary (atom "(" (expr (expr (mul (primary (atom "1")))) "+" (mul (primary (atom "2")))) ")"))) "*" (primary (atom "3")))))`,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			tree, err := parser.ParseString(test.input)
			require.NoError(t, err)
			assert.Equal(t, test.want, tree.String())
		})
	}
}

func TestRejects(t *testing.T) {
	parser, err := NewParser()
	require.NoError(t, err)

	for _, input := range []string{
		"",
		"1 +",
		"+ 1",
		"(1",
		"1)",
		"1 2",
		"a..b",
		"1 ? 2",
	} {
		assert.Falsef(t, parser.Accept(input), "input %q must not parse", input)
	}
}

func TestTrailingInputRejected(t *testing.T) {
	// the end-of-input rule makes a prefix match insufficient
	parser, err := NewParser()
	require.NoError(t, err)

	require.True(t, parser.Accept("1 + 2"))
	require.False(t, parser.Accept("1 + 2 3"))
}

func TestSpansCoverInput(t *testing.T) {
	parser, err := NewParser()
	require.NoError(t, err)

	tree, err := parser.ParseString("1 + 2 * 3")
	require.NoError(t, err)
	assert.EqualValues(t, 0, tree.Start)
	assert.EqualValues(t, 5, tree.End)
}
