package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/recoverability/cmd/app/commands"
	"github.com/allisson/recoverability/internal/app"
	"github.com/allisson/recoverability/internal/config"
)

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func getMaintenanceCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "unarchive-range",
			Usage: "Restore archived failed messages last modified within a time range",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "from",
					Required: true,
					Usage:    "Range start (RFC 3339, YYYY-MM-DD or YYYY-MM-DD HH:MM:SS)",
				},
				&cli.StringFlag{
					Name:     "to",
					Required: true,
					Usage:    "Range end (RFC 3339, YYYY-MM-DD or YYYY-MM-DD HH:MM:SS)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer commands.CloseContainer(container)

				archiveUseCase, err := container.ArchiveUseCase()
				if err != nil {
					return err
				}

				return commands.RunUnarchiveRange(
					ctx,
					archiveUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("from"),
					cmd.String("to"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "purge-expired",
			Usage: "Delete resolved and archived failed messages past their retention",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "dry-run",
					Aliases: []string{"n"},
					Value:   false,
					Usage:   "Show how many records would be deleted without deleting",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer commands.CloseContainer(container)

				failedMessageUseCase, err := container.FailedMessageUseCase()
				if err != nil {
					return err
				}

				return commands.RunPurgeExpired(
					ctx,
					failedMessageUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.Bool("dry-run"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "adopt-orphans",
			Usage: "Reclaim retry batches left staging by stopped instances",
			Flags: []cli.Flag{
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer commands.CloseContainer(container)

				stagingUseCase, err := container.StagingUseCase()
				if err != nil {
					return err
				}

				return commands.RunAdoptOrphans(
					ctx,
					stagingUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("format"),
				)
			},
		},
	}
}
