// Command mcrecv subscribes to a multicast address and reports the throughput
// it receives until it is interrupted.
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
	cfg, err := config.LoadReceiver(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcrecv: %v\n", err)
		return 1
	}

	logger, err := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcrecv: %v\n", err)
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
		consumer *mcperf.Consumer
		session  mcperf.Session
	)
	ctrl := &mcperf.Controller{
		Open: func() (mcperf.Session, error) {
			return mcperf.Open(mcopts.ModeSubscribe, cfg.Address, cfg.Options()...)
		},
		Worker: func(s mcperf.Session) (mcperf.Worker, error) {
			session = s
			consumer = mcperf.NewConsumer(s, mcperf.ConsumerConfig{Marker: []byte(cfg.Topic)}, reporter)
			reporter.Started(mcperf.Startup{
				RunID:    runID,
				Role:     mcperf.RoleReceiver,
				Address:  cfg.Address,
				RateKbps: cfg.Rate.Kbps(),
				Topic:    cfg.Topic,
			})
			return mcperf.Pinned(cfg.CPU, consumer), nil
		},
		Shutdown: shutdown,
		Logger:   logger,
	}

	err = ctrl.Run()
	if session != nil {
		mcperf.LogSessionStats(logger, session)
	}
	if consumer != nil && cfg.Histogram {
		consumer.Report(os.Stdout)
	}
	if err != nil {
		logger.Error("mcrecv failed", "err", err)
		return 1
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
