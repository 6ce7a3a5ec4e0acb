package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/victorivanov/commsync/internal/auth"
	"github.com/victorivanov/commsync/internal/config"
	"github.com/victorivanov/commsync/internal/devserver"
	redisclient "github.com/victorivanov/commsync/internal/redis"
)

const tokenExpiry = 24 * time.Hour

func main() {
	app := &cli.App{
		Name:  "commsync-devserver",
		Usage: "development server for the commsync push and REST protocol",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file",
				EnvVars: []string{"COMMSYNC_CONFIG"},
			},
			&cli.Int64Flag{
				Name:  "node",
				Usage: "snowflake node id for message ids",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("devserver failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := cfg.ValidateDevServer(); err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	// --- Infrastructure ---

	rdb, err := redisclient.NewClient(cfg.DevServer.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	srv, err := devserver.New(devserver.Options{
		Tokens: auth.NewTokenService(cfg.Auth.Secret, tokenExpiry),
		Redis:  rdb,
		Node:   c.Int64("node"),
		Logger: log,
	})
	if err != nil {
		return err
	}

	// --- Start ---

	sigCtx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(cfg.DevServer.Addr) }()

	select {
	case err := <-errc:
		return err
	case <-sigCtx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
