package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/grammar"
)

func grammarCmd() *cli.Command {
	var match []string
	matchFlag := &cli.StringSliceFlag{
		Name:        "match",
		Usage:       "report whether each value is a complete sentence of the grammar",
		Destination: &match,
	}

	report := func(gr *grammar.Grammar) error {
		fmt.Printf("rules:   %d\n", gr.Rules())
		fmt.Printf("symbols: %s\n", strings.Join(gr.Symbols(), ", "))
		failed := 0
		for _, s := range match {
			ok := gr.Matches(s)
			if !ok {
				failed++
			}
			fmt.Printf("%-5t %q\n", ok, s)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d inputs did not match", failed, len(match))
		}
		return nil
	}

	return &cli.Command{
		Name:  "grammar",
		Usage: "Inspect GBNF grammars",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Parse a grammar file",
				ArgsUsage: "FILE",
				Flags:     []cli.Flag{matchFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return errors.New("expected one grammar file")
					}
					gr, err := loadGrammar(cmd.Args().First(), "")
					if err != nil {
						return err
					}
					return report(gr)
				},
			},
			{
				Name:      "show",
				Usage:     "Print a builtin grammar",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{matchFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						fmt.Fprintf(os.Stderr, "builtin grammars: %s\n", strings.Join(grammar.BuiltinNames(), ", "))
						return errors.New("expected one grammar name")
					}
					gr, err := loadGrammar("", cmd.Args().First())
					if err != nil {
						return err
					}
					fmt.Print(gr.String())
					return report(gr)
				},
			},
		},
	}
}
