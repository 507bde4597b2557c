package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cohortly/memberd/internal/bot"
	"github.com/cohortly/memberd/internal/setup"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "memberd",
		Usage: "Start the membership tier bot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log role and message actions instead of performing them",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := setup.InitializeApp(c.String("config"))
			if err != nil {
				return err
			}
			defer app.CleanupApp()

			if c.IsSet("dry-run") {
				app.Config.Bot.DryRun = c.Bool("dry-run")
			}

			discordBot, err := bot.New(app)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := discordBot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	return app.Run(context.Background(), os.Args)
}
