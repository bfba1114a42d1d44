package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v2"

	"github.com/peertrade/peertrade/internal/storage"
	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/trader"
)

var resume = cli.Command{
	Name:      "resume",
	Usage:     "resume settling an incomplete trade",
	ArgsUsage: "<key>",
	Action:    resumeAction,
}

var cancel = cli.Command{
	Name:      "cancel",
	Usage:     "mark an incomplete trade cancelled",
	ArgsUsage: "<key>",
	Action:    cancelAction,
}

var list = cli.Command{
	Name:  "list",
	Usage: "list trades in the ledger",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "status",
			Usage: "only show trades with this status (incomplete, complete, cancelled)",
		},
	},
	Action: listAction,
}

var history = cli.Command{
	Name:      "history",
	Usage:     "list the wallet transactions of a trade",
	ArgsUsage: "<key>",
	Action:    historyAction,
}

func singleArg(ctx *cli.Context) (string, error) {
	if ctx.NArg() != 1 {
		return "", &invalidUsageError{ctx, ctx.Command.Name}
	}
	return ctx.Args().First(), nil
}

func resumeAction(ctx *cli.Context) error {
	key, err := singleArg(ctx)
	if err != nil {
		return err
	}
	e := getEnv(ctx)

	sigCtx, stop := signalContext()
	defer stop()

	return report(sigCtx, e, key, func() (*trader.Result, error) {
		return e.trader.Resume(sigCtx, key)
	})
}

func cancelAction(ctx *cli.Context) error {
	key, err := singleArg(ctx)
	if err != nil {
		return err
	}
	e := getEnv(ctx)

	entry, err := e.store.Get(key)
	if err != nil {
		return err
	}
	e.prompt.printf("%s\n", entry.Snapshot.Title())
	c, err := e.prompt.choose("Cancel this trade? Nothing will be refunded. [Y/N]", "YN")
	if err != nil || c != "Y" {
		return err
	}
	if err := e.trader.Cancel(key); err != nil {
		return err
	}
	e.prompt.printf("Trade %s cancelled.\n", key)
	return nil
}

func listAction(ctx *cli.Context) error {
	e := getEnv(ctx)

	var (
		entries []*storage.Entry
		err     error
	)
	switch status := trade.Status(ctx.String("status")); status {
	case "":
		entries, err = e.trader.All()
	case trade.StatusIncomplete:
		entries, err = e.trader.Incomplete()
	case trade.StatusComplete:
		entries, err = e.trader.Complete()
	case trade.StatusCancelled:
		entries, err = e.store.FindByStatus(status)
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		e.prompt.printf("No trades.\n")
		return nil
	}
	e.prompt.printf("%s\n", entryTable(entries))
	return nil
}

var statusStyles = map[trade.Status]lipgloss.Style{
	trade.StatusIncomplete: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	trade.StatusComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	trade.StatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
}

func entryTable(entries []*storage.Entry) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("KEY", "TRADE", "STATUS", "UPDATED")
	for _, entry := range entries {
		status := string(entry.Status)
		if style, ok := statusStyles[entry.Status]; ok {
			status = style.Render(status)
		}
		t.Row(entry.Key, entry.Snapshot.Title(), status, entry.UpdatedAt.Local().Format(time.DateTime))
	}
	return t.String()
}

func historyAction(ctx *cli.Context) error {
	key, err := singleArg(ctx)
	if err != nil {
		return err
	}
	e := getEnv(ctx)

	entry, err := e.store.Get(key)
	if err != nil {
		return err
	}

	sigCtx, stop := signalContext()
	defer stop()

	sess, err := e.engine.Connect(sigCtx, entry.Snapshot)
	if err != nil {
		return err
	}
	txs, err := e.trader.Transactions(sigCtx, sess)
	if err != nil {
		return err
	}

	cfg := entry.Snapshot
	e.prompt.printf("%s (%s)\n\nSent %s to %s:\n", cfg.Title(), entry.Status, cfg.Send.Symbol, cfg.Send.Address)
	for _, id := range txs.Sent {
		e.prompt.printf("  %s\n", id)
	}
	e.prompt.printf("\nReceived %s at %s:\n", cfg.Receive.Symbol, cfg.Receive.Address)
	for _, id := range txs.Received {
		e.prompt.printf("  %s\n", id)
	}
	return nil
}
