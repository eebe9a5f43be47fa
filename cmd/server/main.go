// Command server runs the peoplesync HTTP service: the ETL run/status
// endpoints, CSV pass-through, metrics and the optional cron schedules.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/salasdw/peoplesync/internal/config"
	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/etl/jobs"
	"github.com/salasdw/peoplesync/internal/orchestration"
	"github.com/salasdw/peoplesync/internal/schedule"
	"github.com/salasdw/peoplesync/internal/server"
	"github.com/salasdw/peoplesync/internal/staging"
	"github.com/salasdw/peoplesync/internal/warehouse"
)

func main() {
	configPath := flag.String("config", os.Getenv("PS_CONFIG"), "path to YAML config file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(*configPath, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wh, err := warehouse.Open(ctx, cfg.WarehouseDSN, log)
	if err != nil {
		return err
	}
	defer wh.Close()

	env := &jobs.Env{
		Sesame:         sesame.NewClient(cfg.Sesame(), log),
		WH:             wh,
		Schema:         cfg.Schema,
		DatamartSchema: cfg.DatamartSchema,
		Archiver:       staging.NewFromConfig(ctx, cfg.Staging, log),
		Log:            log,
	}
	tasks := orchestration.NewManager(log)

	if len(cfg.Schedules) > 0 {
		runner, err := schedule.New(cfg.Schedules, env.JobByName, tasks, log)
		if err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.New(server.Config{
			Jobs:      env,
			Tasks:     tasks,
			Fetcher:   env.Sesame,
			APISecret: cfg.APISecret,
			Log:       log,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
