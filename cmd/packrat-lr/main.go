// Command packrat-lr parses an arithmetic/field-access expression read
// from a file (or stdin when no file is given) and dumps the parse tree.
// It exits 0 only when the whole input parses.
package main

import (
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/glebzlat/packrat-improved-lr/arith"
	"github.com/glebzlat/packrat-improved-lr/lexer"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	app := &cli.App{
		Name:      "packrat-lr",
		Usage:     "parse an expression with the left-recursion-aware packrat engine",
		ArgsUsage: "[file]",
		Action: func(c *cli.Context) error {
			return run(c, log)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("parse failed")
		os.Exit(1)
	}
}

func run(c *cli.Context, log zerolog.Logger) error {
	var in io.Reader = os.Stdin
	if c.Args().Len() > 0 {
		path := c.Args().First()
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer f.Close()
		in = f
	}

	parser, err := arith.NewParser()
	if err != nil {
		return errors.Wrap(err, "build grammar")
	}

	tree, err := parser.Parse(lexer.New(in))
	if err != nil {
		return err
	}

	spew.Dump(tree)
	log.Info().Str("tree", tree.String()).Msg("parsed")
	return nil
}
