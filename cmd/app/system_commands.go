package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/recoverability/cmd/app/commands"
	"github.com/allisson/recoverability/internal/app"
	"github.com/allisson/recoverability/internal/config"
	"github.com/allisson/recoverability/internal/http"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Start the operator API together with the background workers",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunServer(ctx, version)
			},
		},
		{
			Name:  "worker",
			Usage: "Start ingestion, retry forwarding and notifications without the operator API",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunWorker(ctx, version)
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunMigrations(container.Logger(), cfg.DBDriver, cfg.DBConnectionString)
			},
		},
		{
			Name:  "create-api-key-hash",
			Usage: "Hash an operator API key for OPERATOR_API_KEY_HASH",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "key",
					Aliases: []string{"k"},
					Usage:   "API key to hash (omit to generate one)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunCreateAPIKeyHash(
					http.NewAPIKeyHasher(),
					commands.DefaultIO().Writer,
					cmd.String("key"),
				)
			},
		},
	}
}
