// Command mcsend publishes a fixed-size message at a target bit-rate until it
// is interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/talostrading/mcperf"
	"github.com/talostrading/mcperf/config"
	"github.com/talostrading/mcperf/mcopts"
	"github.com/talostrading/mcperf/telemetry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.LoadSender(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcsend: %v\n", err)
		return 1
	}

	logger, err := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcsend: %v\n", err)
		return 1
	}
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	cfg.ApplyRuntime()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter := mcperf.MultiReporter{mcperf.LogReporter{Logger: logger}}
	if cfg.HTTPAddr != "" {
		hub := telemetry.NewHub(ctx, logger)
		srv, err := telemetry.NewServer(cfg.HTTPAddr, hub, logger)
		if err != nil {
			logger.Error("could not start telemetry server", "addr", cfg.HTTPAddr, "err", err)
			return 1
		}
		srv.Start()
		defer closeServer(srv, cancel, logger)
		reporter = append(reporter, hub)
	}

	shutdown := mcperf.NewShutdown()
	stopSignals := shutdown.WatchSignals()
	defer stopSignals()

	var (
		pacer   *mcperf.Pacer
		session mcperf.Session
	)
	ctrl := &mcperf.Controller{
		Open: func() (mcperf.Session, error) {
			return mcperf.Open(mcopts.ModePublish, cfg.Address, cfg.Options()...)
		},
		Worker: func(s mcperf.Session) (mcperf.Worker, error) {
			session = s
			p, err := mcperf.NewPacer(s, mcperf.PacerConfig{
				PayloadSize: cfg.MessageSize,
				RateKbps:    cfg.Rate.Kbps(),
				Topic:       []byte(cfg.Topic),
				Count:       cfg.Count,
			}, reporter)
			if err != nil {
				return nil, err
			}
			pacer = p

			reporter.Started(mcperf.Startup{
				RunID:         runID,
				Role:          mcperf.RoleSender,
				Address:       cfg.Address,
				PayloadSize:   cfg.MessageSize,
				RateKbps:      cfg.Rate.Kbps(),
				EffectiveKbps: mcperf.EffectiveRate(cfg.Rate.Kbps()),
				Delay:         p.Delay().Microseconds(),
				TTL:           cfg.TTL,
				Topic:         cfg.Topic,
			})
			return mcperf.Pinned(cfg.CPU, p), nil
		},
		Shutdown: shutdown,
		Logger:   logger,
	}

	err = ctrl.Run()
	if session != nil {
		mcperf.LogSessionStats(logger, session)
	}
	if err != nil {
		logger.Error("mcsend failed", "err", err)
		return 1
	}
	if pacer != nil {
		logger.Info(pacer.Summary())
	}
	return 0
}

func closeServer(srv *telemetry.Server, cancel context.CancelFunc, logger *slog.Logger) {
	cancel()
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := srv.Close(ctx); err != nil {
		logger.Warn("telemetry server did not stop cleanly", "err", err)
	}
}
