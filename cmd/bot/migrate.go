package main

import (
	"context"

	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"

	"broadcastbot/internal/app"
	logx "broadcastbot/pkg/logx"
)

type storeOps interface {
	InitMigrations(ctx context.Context) error
	Migrate(ctx context.Context) error
	Rollback(ctx context.Context) error
	MigrationStatus(ctx context.Context) (migrate.MigrationSlice, error)
}

func withStore(fn func(c *cli.Context, s storeOps) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := app.OpenStore(c.Context, c.String("config"), logx.NewConsole("info"))
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(c, s)
	}
}
