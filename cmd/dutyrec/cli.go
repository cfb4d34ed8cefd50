package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"dutyrec/internal/app"
	"dutyrec/internal/config"
	"dutyrec/internal/upload"
	logx "dutyrec/pkg/logx"
)

const shutdownBudget = 12 * time.Minute

func newCLI(stdout, stderr io.Writer) *cli.App {
	c := cli.NewApp()
	c.Name = "dutyrec"
	c.HelpName = "dutyrec"
	c.Usage = "record scheduled duty streams and upload them"
	c.Version = version
	c.Writer = stdout
	c.ErrWriter = stderr
	c.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "./dutyrec.yaml",
			Usage:  "path to the JSON or YAML config",
			EnvVar: "DUTYREC_CONFIG",
		},
	}
	c.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the recorder until SIGINT or SIGTERM",
			Action: runCmd,
		},
		{
			Name:   "compile",
			Usage:  "print the triggers the roster compiles to",
			Action: compileCmd,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "refresh", Usage: "run roster.refresh_command before reading"},
			},
		},
		{
			Name:   "ledger",
			Usage:  "print the quota ledger",
			Action: ledgerCmd,
		},
		{
			Name:   "sweep",
			Usage:  "remove leftover artifacts now (do not run while the recorder is recording)",
			Action: sweepCmd,
		},
		{
			Name:      "credentials",
			Usage:     "store upload identity credentials in the OS keyring",
			ArgsUsage: "<identity>",
			Action:    credentialsCmd,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "client-id"},
				cli.StringFlag{Name: "client-secret"},
				cli.StringFlag{Name: "redirect-uri"},
				cli.StringFlag{Name: "token"},
			},
		},
	}
	return c
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	return config.NewManager(ctx.GlobalString("config")).Load()
}

func runCmd(ctx *cli.Context) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	a, err := app.New(ctx.GlobalString("config"))
	if err != nil {
		return err
	}
	if err := a.Start(context.Background()); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	var reason app.StopReason
	select {
	case sig := <-sigc:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func compileCmd(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	pv, err := app.CompileRoster(context.Background(), cfg, ctx.Bool("refresh"))
	if err != nil {
		return err
	}

	now := time.Now().In(pv.Location)
	tw := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tDUTY\tPATTERN\tDURATION\tNEXT")
	for _, t := range pv.Triggers {
		next := "-"
		if n := t.NextAfter(now); !n.IsZero() {
			next = n.Format("2006-01-02 15:04 MST")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.DateKey, t.Duty, t.Pattern, t.Window.Duration(pv.Ceiling), next)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, e := range pv.Skipped {
		fmt.Fprintln(ctx.App.ErrWriter, "skipped:", e)
	}
	fmt.Fprintf(ctx.App.Writer, "%d triggers, %d skipped\n", len(pv.Triggers), len(pv.Skipped))
	return nil
}

func ledgerCmd(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := app.LedgerSnapshot(c, cfg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(ctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func sweepCmd(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	removed, err := app.SweepOnce(context.Background(), cfg, nil, logx.NewWriter(ctx.App.ErrWriter, "info"))
	fmt.Fprintf(ctx.App.Writer, "%d removed\n", len(removed))
	return err
}

func credentialsCmd(ctx *cli.Context) error {
	var identity int
	if _, err := fmt.Sscanf(ctx.Args().First(), "%d", &identity); err != nil || identity < 1 {
		return errors.New("usage: dutyrec credentials <identity> --client-id ... --token ...")
	}
	creds := upload.Credentials{
		ClientID:     ctx.String("client-id"),
		ClientSecret: ctx.String("client-secret"),
		RedirectURI:  ctx.String("redirect-uri"),
		Token:        ctx.String("token"),
	}
	if err := upload.StoreInKeyring(identity, creds); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "stored credentials for identity %d\n", identity)
	return nil
}
