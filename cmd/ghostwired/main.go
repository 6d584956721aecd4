package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/config"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/server"
	"github.com/danmuck/ghostwire/internal/sim"
	"github.com/danmuck/ghostwire/internal/world"
)

func main() {
	path := flag.String("config", "cmd/ghostwired/config.toml", "path to server config")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "demo world seed")
	flag.Parse()

	if err := run(*path, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "ghostwired: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, seed uint64) error {
	logging.ConfigureRuntime()
	cfg, err := config.LoadServerConfig(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		observability.RegisterMetrics()
	}
	shutdown, err := observability.SetupTracing(ctx, cfg.Name, cfg.TracingEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flush, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flush); err != nil {
			logging.Warnf("ghostwired tracing shutdown err=%v", err)
		}
	}()

	demo := sim.New(world.NewStore(cfg.ChunkCapacity), seed)
	if err := demo.Populate(cfg.Population); err != nil {
		return err
	}
	go simulate(ctx, demo, cfg.TickInterval())

	return server.New(cfg, demo.Store(), codec.DefaultSet()).Run(ctx)
}

func simulate(ctx context.Context, demo *sim.World, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := demo.Step(); err != nil {
				logging.Errf("ghostwired simulate err=%v", err)
			}
		}
	}
}
