package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/ghostwire/internal/client"
	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/config"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

func main() {
	path := flag.String("config", "cmd/ghostprobe/config.toml", "path to probe config")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "ghostprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	logging.ConfigureRuntime()
	cfg, err := config.LoadProbeConfig(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	c := client.New(codec.DefaultSet(), client.Config{
		HistoryCapacity: cfg.HistoryCapacity,
		AckEvery:        cfg.AckEvery,
		Session:         cfg.Session,
	})
	go report(ctx, c, cfg.ReportEvery)

	limit := int64(frame.DefaultLimits().MaxPayloadBytes)
	err = c.Connect(ctx, client.WebSocketDialer(cfg.ServerURL, cfg.Session, limit))
	summarize(c)
	return err
}

func report(ctx context.Context, c *client.Client, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summarize(c)
		}
	}
}

func summarize(c *client.Client) {
	stats := c.Stats()
	self, _ := c.Self()
	logging.Infof(
		"ghostprobe tick=%d ghosts=%d snapshots=%d desyncs=%d skipped=%d self=%d users=%d",
		stats.LastTick, len(c.Ghosts()), stats.Snapshots, stats.Desyncs, stats.Skipped, self, len(c.Users()),
	)
}
