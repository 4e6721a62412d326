package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"jobdesk/internal/api"
	"jobdesk/internal/config"
	"jobdesk/internal/lifecycle"
	"jobdesk/internal/store"
	"jobdesk/internal/sweeper"
	"jobdesk/internal/webhook"
)

func main() {
	cfg := config.FromEnv()
	var (
		addr       = flag.String("addr", cfg.Addr, "HTTP bind address")
		dbPath     = flag.String("db", cfg.DBPath, "SQLite DB path")
		webhookURL = flag.String("webhook-url", cfg.WebhookURL, "completion webhook destination")
		runDelay   = flag.Duration("run-delay", cfg.RunDelay, "simulated execution time of a run")
		sweepSched = flag.String("sweep", cfg.SweepSchedule, "cron schedule for the overdue-job sweep")
		debug      = flag.Bool("debug", false, "expose pprof endpoints")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	if *webhookURL == "" {
		log.Warn().Msg("no webhook URL configured, completions will record webhookStatus=failed")
	}

	repo := store.NewSQLiteRepo(db)
	notifier := webhook.NewNotifier(*webhookURL, cfg.WebhookTimeout)
	jobs := lifecycle.NewService(repo, notifier, *runDelay)

	// Jobs left running by a previous process complete here, webhook included.
	sweep := sweeper.NewService(repo, jobs, *sweepSched)
	sweep.Sweep(context.Background(), time.Now())
	if err := sweep.Start(); err != nil {
		log.Fatal().Err(err).Msg("start sweeper")
	}

	srv := &http.Server{Addr: *addr, Handler: api.NewServerWithDebug(jobs, *debug)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	sweep.Stop()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
