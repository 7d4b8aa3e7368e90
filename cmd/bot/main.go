package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"broadcastbot/internal/app"
	"broadcastbot/pkg/systemd"
)

const stopTimeout = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "broadcastbot",
		Usage: "Telegram broadcast bot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./config.yaml",
				EnvVars: []string{"BOT_CONFIG"},
				Usage:   "path to config (yaml or json)",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the bot (default)",
				Action: run,
			},
			{
				Name:  "migrate",
				Usage: "database migrations",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "create migration tables",
						Action: withStore(func(c *cli.Context, s storeOps) error {
							return s.InitMigrations(c.Context)
						}),
					},
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: withStore(func(c *cli.Context, s storeOps) error {
							return s.Migrate(c.Context)
						}),
					},
					{
						Name:  "down",
						Usage: "roll back the last migration group",
						Action: withStore(func(c *cli.Context, s storeOps) error {
							return s.Rollback(c.Context)
						}),
					},
					{
						Name:  "status",
						Usage: "list migrations",
						Action: withStore(func(c *cli.Context, s storeOps) error {
							ms, err := s.MigrationStatus(c.Context)
							if err != nil {
								return err
							}
							for _, m := range ms {
								state := "pending"
								if m.IsApplied() {
									state = fmt.Sprintf("applied (group %d)", m.GroupID)
								}
								fmt.Fprintf(c.App.Writer, "%-40s %s\n", m.Name, state)
							}
							return nil
						}),
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "job queue maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "migrate",
						Usage: "apply river migrations (postgres only)",
						Action: func(c *cli.Context) error {
							err := app.MigrateJobs(c.Context, c.String("config"))
							if errors.Is(err, app.ErrNoJobTables) {
								fmt.Fprintln(c.App.Writer, err)
								return nil
							}
							return err
						},
					},
				},
			},
		},
	}
}

func run(c *cli.Context) error {
	ctx := c.Context
	a, err := app.New(ctx, c.String("config"))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}
	_, _ = systemd.Ready()

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if ctx.Err() == nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return errors.Join(a.Err(), stopErr)
	}
	return stopErr
}
