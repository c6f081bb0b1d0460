package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/MrSnakeDoc/bookmirror/internal/app"
	"github.com/MrSnakeDoc/bookmirror/internal/config"
	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/utils"
	"github.com/MrSnakeDoc/bookmirror/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:    "bookmirror",
		Usage:   "Mirror your X bookmarks into a local library",
		Version: version.String(),
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:  "sync",
				Usage: "Run one sync for a user and print the result as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "local user id (default: BOOKMIRROR_DEFAULT_USER)"},
					&cli.StringFlag{Name: "folder", Usage: "remote folder id, syncs only that folder"},
				},
				Action: syncOnce,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatalf("❌ bookmirror: %v", err)
	}
}

func setup(ctx context.Context) (*app.App, *config.Config, logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	a, err := app.New(ctx, cfg, loggerClient)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, cfg, loggerClient, nil
}

func serve(ctx context.Context, _ *cli.Command) error {
	a, _, loggerClient, err := setup(ctx)
	if err != nil {
		return err
	}
	defer utils.MustClose(a, "app", loggerClient)

	if err := a.Serve(ctx); err != nil {
		return err
	}
	loggerClient.Info("✅ bookmirror stopped cleanly")
	return nil
}

func syncOnce(ctx context.Context, c *cli.Command) error {
	a, cfg, loggerClient, err := setup(ctx)
	if err != nil {
		return err
	}
	defer utils.MustClose(a, "app", loggerClient)

	userID := c.String("user")
	if userID == "" {
		userID = cfg.DefaultUserID
	}
	if userID == "" {
		return errors.New("--user is required when BOOKMIRROR_DEFAULT_USER is not set")
	}

	res, err := a.Sync(ctx, userID, c.String("folder"))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res); encErr != nil {
		return encErr
	}
	switch {
	case errors.Is(err, domain.ErrAuthExpired):
		return errors.New("authorization expired, reconnect the account")
	case err != nil:
		return err
	}
	return nil
}
