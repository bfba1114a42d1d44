package main

import (
	"github.com/urfave/cli/v2"
)

var ledgerCmd = cli.Command{
	Name:  "ledger",
	Usage: "back up or import the trade ledger",
	Subcommands: []*cli.Command{
		{
			Name:      "export",
			Usage:     "write the whole ledger to a JSON file",
			ArgsUsage: "<path>",
			Action:    ledgerExportAction,
		},
		{
			Name:      "import",
			Usage:     "add trades from a legacy trade_history.json",
			ArgsUsage: "<path>",
			Action:    ledgerImportAction,
		},
	},
}

func ledgerExportAction(ctx *cli.Context) error {
	path, err := singleArg(ctx)
	if err != nil {
		return err
	}
	e := getEnv(ctx)
	if err := e.store.Export(path); err != nil {
		return err
	}
	e.prompt.printf("Ledger written to %s\n", path)
	return nil
}

func ledgerImportAction(ctx *cli.Context) error {
	path, err := singleArg(ctx)
	if err != nil {
		return err
	}
	e := getEnv(ctx)
	n, err := e.store.ImportLegacy(path)
	if err != nil {
		return err
	}
	e.prompt.printf("Imported %d trades from %s\n", n, path)
	return nil
}
