package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DroneTales/GreenHouse/internal/config"
	"github.com/DroneTales/GreenHouse/internal/logging"
	"github.com/DroneTales/GreenHouse/internal/simulator"
	"github.com/DroneTales/GreenHouse/shared/topics"
)

const appName = "greenhouse-simulate"

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"zone_count", cfg.ZoneCount,
		"interval", cfg.SimInterval.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub := simulator.NewPublisher(cfg, logger)
	defer pub.Disconnect()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.MQTTConnectTimeout)
	err = pub.Connect(connectCtx)
	cancel()
	if err != nil {
		slog.Error("mqtt connect failed", "error", err)
		os.Exit(1)
	}

	gen := simulator.NewGenerator(topics.NewMapper(cfg.MQTTTopicPrefix, cfg.ZoneCount), uint64(time.Now().UnixNano()))
	if err := simulator.Run(ctx, pub, gen, cfg.SimInterval, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("simulator failed", "error", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
