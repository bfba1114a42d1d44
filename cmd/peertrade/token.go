package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/peertrade/peertrade/internal/token"
	"github.com/peertrade/peertrade/pkg/helpers"
)

var tokenCmd = cli.Command{
	Name:  "token",
	Usage: "inspect trade tokens",
	Subcommands: []*cli.Command{
		{
			Name:      "view",
			Usage:     "decode a token and show its terms",
			ArgsUsage: "[file]",
			Action:    tokenViewAction,
		},
	},
}

func tokenViewAction(ctx *cli.Context) error {
	e := getEnv(ctx)

	var raw string
	if ctx.NArg() > 0 {
		b, err := os.ReadFile(ctx.Args().First())
		if err != nil {
			return err
		}
		raw = string(b)
	} else {
		var err error
		if raw, err = e.prompt.readToken("Paste the token:"); err != nil {
			return err
		}
	}

	f, err := token.Decode(raw)
	if err != nil {
		return err
	}

	p := e.prompt
	p.printf("\nToken %s (version %s)\n", f.ID, f.Version)
	p.printf("The issuer sends    %s %s from %s\n", helpers.FormatAmount(f.SendAmount), f.SendSymbol, f.SendAddress)
	p.printf("The issuer receives %s %s at %s\n", helpers.FormatAmount(f.ReceiveAmount), f.ReceiveSymbol, f.ReceiveAddress)
	p.printf("Rounds: %d, confirmations: %d\n", f.NumRounds, f.MinConf)

	status, found, err := e.store.FindByToken(token.Normalize(raw))
	if err != nil {
		return err
	}
	if found {
		p.printf("This token was already used by a trade that is %s.\n", status)
	}
	return nil
}
