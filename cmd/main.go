package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"reward_ledger/internal/config"
	"reward_ledger/internal/database"
	"reward_ledger/internal/economy"
	"reward_ledger/internal/httpapi"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/notify"
	"reward_ledger/internal/scheduler"
)

func main() {
	app := &cli.App{
		Name:  "reward-ledger",
		Usage: "reward ledger and engagement economy service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start http server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or update database tables",
				Action: migrate,
			},
			{
				Name:      "check-config",
				Usage:     "validate an economy file",
				ArgsUsage: "[path]",
				Action:    checkConfig,
			},
			{
				Name:  "issue-token",
				Usage: "sign a development identity token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
					&cli.StringFlag{Name: "role", Value: httpapi.RoleUser},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour},
				},
				Action: issueToken,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.L.Fatal("command failed", zap.Error(err))
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// loadEconomy falls back to built-in defaults when the file does not exist.
func loadEconomy(path string) (*config.Holder, error) {
	h, err := config.NewFileHolder(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.L.Warn("economy file not found, using defaults", zap.String("path", path))
		return config.NewHolder(config.DefaultEconomy()), nil
	}
	return h, err
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IdentitySecret == "" {
		return errors.New("IDENTITY_SECRET is required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	holder, err := loadEconomy(cfg.EconomyFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	hub := notify.NewHub()
	sinks := notify.Multi{hub}
	rdb, err := database.ConnectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.NotifyChannel))
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.NotifyWorkers, cfg.StoreTimeout)
	defer dispatcher.Close()

	engine := economy.New(db, holder, economy.Options{
		Location:     loc,
		StoreTimeout: cfg.StoreTimeout,
		Notifier:     dispatcher,
	})
	if err := engine.Tasks.SeedDefinitions(ctx); err != nil {
		return err
	}

	reload := scheduler.ReloaderFunc(func() error {
		if err := holder.Reload(); err != nil {
			return err
		}
		return engine.Tasks.SeedDefinitions(context.Background())
	})
	sched, err := scheduler.New(reload, engine.Tasks, scheduler.Options{
		ReloadInterval: cfg.ReloadInterval,
		ClaimRetention: cfg.ClaimRetention,
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.L.Warn("scheduler shutdown", zap.Error(err))
		}
	}()

	router := httpapi.NewRouter(engine, httpapi.NewVerifier([]byte(cfg.IdentitySecret)), hub)
	return httpapi.Run(ctx, cfg.HTTPAddr, router)
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		return err
	}
	return database.Migrate(db)
}

func checkConfig(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = os.Getenv("ECONOMY_FILE")
	}
	if path == "" {
		path = "economy.yaml"
	}
	e, err := config.LoadEconomy(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: ok (version %d, %d prize tables, %d tasks)\n",
		path, e.Version, len(e.PrizeTables), len(e.Tasks))
	return nil
}

func issueToken(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IdentitySecret == "" {
		return errors.New("IDENTITY_SECRET is required")
	}
	token, err := httpapi.Sign([]byte(cfg.IdentitySecret), httpapi.Identity{
		UserID: c.String("user"),
		Role:   c.String("role"),
	}, c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
