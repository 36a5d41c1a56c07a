// Package arith defines an arithmetic expression grammar with field
// access. Addition, subtraction, multiplication and division are left
// associative, which makes every operator rule left recursive — exactly
// the shape plain recursive descent cannot handle.
package arith

import (
	packrat "github.com/glebzlat/packrat-improved-lr"
	"github.com/glebzlat/packrat-improved-lr/lexer"
)

// NewParser builds the expression parser:
//
//	grammar <- expr EOF
//	expr    <- expr '+' mul / expr '-' mul / mul
//	mul     <- mul '*' primary / mul '/' primary / primary
//	primary <- primary '.' ident / atom
//	atom    <- int / ident / '(' expr ')'
func NewParser() (*packrat.Parser, error) {
	return packrat.BuildParser(func(g *packrat.Grammar) {
		g.Start = "grammar"

		g.Define("grammar", func() {
			g.Call("expr")
			g.EndOfInput()
		})

		g.Define("expr", func() {
			g.Choice(func() {
				g.Call("expr")
				g.Expect("+")
				g.Call("mul")
			}, func() {
				g.Call("expr")
				g.Expect("-")
				g.Call("mul")
			}, func() {
				g.Call("mul")
			})
		})

		g.Define("mul", func() {
			g.Choice(func() {
				g.Call("mul")
				g.Expect("*")
				g.Call("primary")
			}, func() {
				g.Call("mul")
				g.Expect("/")
				g.Call("primary")
			}, func() {
				g.Call("primary")
			})
		})

		g.Define("primary", func() {
			g.Choice(func() {
				g.Call("primary")
				g.Expect(".")
				g.Expect(lexer.Ident)
			}, func() {
				g.Call("atom")
			})
		})

		g.Define("atom", func() {
			g.Choice(func() {
				g.Expect(lexer.Int)
			}, func() {
				g.Expect(lexer.Ident)
			}, func() {
				g.Expect("(")
				g.Call("expr")
				g.Expect(")")
			})
		})
	})
}
