package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"basebox-backend/internal/common"
	"basebox-backend/internal/legacy"
	"basebox-backend/internal/logic"
	"basebox-backend/internal/season"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		common.Error(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "basebox",
		Usage:  "Base Box mini app backend",
		Flags:  []cli.Flag{configFlag()},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, scheduler and live leaderboard",
				Flags:  []cli.Flag{configFlag()},
				Action: serve,
			},
			{
				Name:   "sweep",
				Usage:  "Send unlock notifications for due capsules once",
				Flags:  []cli.Flag{configFlag()},
				Action: runJob(func(ctx context.Context, s *logic.Server) (*logic.JobReport, error) { return s.SweepUnlocked(ctx) }),
			},
			{
				Name:   "remind",
				Usage:  "Send streak reminders once",
				Flags:  []cli.Flag{configFlag()},
				Action: runJob(func(ctx context.Context, s *logic.Server) (*logic.JobReport, error) { return s.SendStreakReminders(ctx) }),
			},
			{
				Name:  "migrate-legacy",
				Usage: "Import streaks from the legacy Postgres tables",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "season", Usage: "Target season id (default season when empty)"},
					&cli.BoolFlag{Name: "overwrite", Usage: "Replace existing participation records"},
				},
				Action: migrateLegacy,
			},
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to config file (yaml)"}
}

// configPath 子命令上的 --config 覆盖全局的
func configPath(c *cli.Context) string {
	for _, ctx := range c.Lineage() {
		if v := ctx.String("config"); v != "" {
			return v
		}
	}
	return ""
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(configPath(c))
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := openStore(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	srv, err := logic.NewServer(cfg, store, logic.Options{})
	if err != nil {
		return err
	}

	if cfg.Scheduler.Enabled {
		sched := logic.NewScheduler(srv, cfg.Scheduler)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.SetupRouter(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		common.WithFields(logrus.Fields{"port": cfg.Server.Port}).Info("server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		common.WithFields(logrus.Fields{"signal": sig.String()}).Info("shutting down server")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	// 先断开 websocket，否则 Shutdown 会一直等待
	srv.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		common.WithFields(logrus.Fields{"error": err}).Error("server shutdown error")
	}
	common.Info("server stopped")
	return nil
}

func runJob(job func(context.Context, *logic.Server) (*logic.JobReport, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(configPath(c))
		if err != nil {
			return err
		}
		store, err := openStore(c.Context, cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		srv, err := logic.NewServer(cfg, store, logic.Options{})
		if err != nil {
			return err
		}
		report, err := job(c.Context, srv)
		if err != nil {
			return err
		}
		return printJSON(c, report)
	}
}

func migrateLegacy(c *cli.Context) error {
	cfg, err := loadConfig(configPath(c))
	if err != nil {
		return err
	}
	if cfg.Legacy.PostgresDSN == "" {
		return errors.New("legacy.postgres_dsn (or DATABASE_URL) is required")
	}
	cal, err := season.FromConfig(cfg.Season)
	if err != nil {
		return err
	}

	src, err := legacy.OpenPostgres(cfg.Legacy.PostgresDSN)
	if err != nil {
		return err
	}
	defer src.Close()

	store, err := openStore(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	m := legacy.NewMigrator(src, store, cal, cfg.Streak, c.Bool("overwrite"))
	report, err := m.Run(c.Context, c.String("season"))
	if err != nil {
		return err
	}
	return printJSON(c, report)
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
