package packrat

import (
	"fmt"
	"strings"

	"github.com/glebzlat/packrat-improved-lr/lexer"
)

// Node is a parse result. A leaf node carries the matched token; a
// composite node carries the name of the rule that produced it and its
// children, in match order. A failed match is represented by the absence
// of a node (nil), never by an error.
//
// Nodes own their children outright. Growth composes the previous best
// result as the leftmost child of the next, so a left-recursive parse
// tree is always finite and acyclic.
type Node struct {
	Name     string
	Tok      *lexer.Token
	Children []*Node
	Start    lexer.Position
	End      lexer.Position
}

func leaf(t lexer.Token, at lexer.Position) *Node {
	return &Node{Tok: &t, Start: at, End: at + 1}
}

// String renders the node as an s-expression: composite nodes as
// (name child ...), leaves as their quoted text.
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	if n.Tok != nil {
		fmt.Fprintf(sb, "%q", n.Tok.Text)
		return
	}
	sb.WriteByte('(')
	sb.WriteString(n.Name)
	for _, c := range n.Children {
		sb.WriteByte(' ')
		c.write(sb)
	}
	sb.WriteByte(')')
}

// Walk visits n and every node below it in depth-first order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
