// Command gardener waters garden zones when their soil gets dry. Each zone is
// a repetitive runner; all zones share one bounded pool of go routines.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/huangjunwen/repetask/gardener"
	"github.com/huangjunwen/repetask/logr"
	"github.com/huangjunwen/repetask/logr/zerologr"
	"github.com/huangjunwen/repetask/taskrunner/limitedrunner"
	"github.com/huangjunwen/repetask/taskrunner/repetitive"
)

func main() {
	configPath := flag.String("config", "", "path of config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		stderr := zerolog.New(os.Stderr).With().Timestamp().Logger()
		stderr.Fatal().Err(err).Msg("Load config failed")
	}

	output, closeOutput := logOutput(&cfg.Log)
	defer closeOutput()

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerologr.New(zerolog.New(output).Level(level).With().Timestamp().Logger())

	pool := limitedrunner.Must(
		limitedrunner.MinWorkers(1),
		limitedrunner.MaxWorkers(cfg.Pool.MaxWorkers),
		limitedrunner.Logger(logger.WithName("pool")),
	)

	runners := make([]*repetitive.Runner, 0, len(cfg.Zones))
	for _, zone := range cfg.Zones {
		runners = append(runners, newZoneRunner(zone, cfg, pool, logger))
	}
	for _, r := range runners {
		r.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx, runners, pool, logger); err != nil {
		logger.Error(err, "shutdown incomplete")
	}
}

// shutdown stops all runners then closes the pool, giving up when ctx is done.
// Cycles still in flight at that point have their contexts cancelled, so
// valves get closed even if shutdown returns before they finish.
func shutdown(ctx context.Context, runners []*repetitive.Runner, pool *limitedrunner.LimitedRunner, logger logr.Logger) error {
	var firstErr error
	for _, r := range runners {
		if err := r.Stop(ctx); err != nil {
			logger.Error(err, "zone did not stop in time", "zone", r.Name())
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	closed := make(chan struct{})
	go func() {
		pool.Close()
		close(closed)
	}()

	select {
	case <-closed:
		return firstErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newZoneRunner(zone ZoneConfig, cfg *Config, pool *limitedrunner.LimitedRunner, logger logr.Logger) *repetitive.Runner {
	sim := gardener.NewSimulation(zone.Moisture, zone.Decay, zone.GainPerSecond)
	g := &gardener.Gardener{
		Sensor:       sim,
		Valve:        sim,
		Threshold:    zone.Threshold,
		WateringTime: zone.WateringTime,
	}
	return repetitive.Must(
		g,
		cfg.Interval,
		repetitive.Name("Gardener."+zone.Name),
		repetitive.Logger(logger.WithValues("zone", zone.Name)),
		repetitive.Executor(pool),
	)
}

// logOutput returns stdout, or a rotating file if configured.
func logOutput(cfg *LogConfig) (io.Writer, func()) {
	if cfg.File == "" {
		return os.Stdout, func() {}
	}
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   true,
	}
	return w, func() { w.Close() }
}
