// Command tedge-mapper-c8y runs the Cumulocity mapper core: connect to
// the local bus, reconcile alarms, and bridge SmartREST/JSON traffic
// with the cloud.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/k-butz/tedge-c8y-mapper/internal/alarms"
	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
	"github.com/k-butz/tedge-c8y-mapper/internal/config"
	"github.com/k-butz/tedge-c8y-mapper/internal/converter"
	"github.com/k-butz/tedge-c8y-mapper/internal/executor"
	"github.com/k-butz/tedge-c8y-mapper/internal/httpclient"
	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
	"github.com/k-butz/tedge-c8y-mapper/internal/mapper"
	"github.com/k-butz/tedge-c8y-mapper/internal/metrics"
	"github.com/k-butz/tedge-c8y-mapper/internal/operations"
)

func main() {
	app := kingpin.New("tedge-mapper-c8y", "The thin-edge.io Cumulocity IoT mapper.")
	startCmd := app.Command("start", "Connect to the bus and run the mapper loop.").Default()
	initCmd := app.Command("init-session", "Register the mapper's persistent MQTT session without processing messages.")
	clearCmd := app.Command("clear-session", "Drop the mapper's persistent MQTT session state.")

	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case startCmd.FullCommand():
		if err := runStart(); err != nil {
			fmt.Fprintln(os.Stderr, "tedge-mapper-c8y:", err)
			os.Exit(1)
		}
	case initCmd.FullCommand():
		if err := runSessionCmd(bus.InitSession); err != nil {
			fmt.Fprintln(os.Stderr, "tedge-mapper-c8y:", err)
			os.Exit(1)
		}
	case clearCmd.FullCommand():
		if err := runSessionCmd(bus.ClearSession); err != nil {
			fmt.Fprintln(os.Stderr, "tedge-mapper-c8y:", err)
			os.Exit(1)
		}
	}
}

func runStart() error {
	cfg, err := config.LoadMapper()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	registry, err := operations.New(cfg.OperationsDir)
	if err != nil {
		return fmt.Errorf("load operation registry: %w", err)
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	cloudClient := httpclient.New(httpclient.Config{
		BaseURL:      cfg.CloudBaseURL,
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
	}, log)

	exec := executor.New(log)

	conv, err := converter.New(converter.Config{
		DeviceID:               cfg.DeviceID,
		DeviceType:             cfg.DeviceType,
		SizeThreshold:          codec.NewSizeThreshold(cfg.PayloadSizeThreshold),
		InventoryFragmentsFile: cfg.InventoryFragmentsFile,
	}, registry, alarms.New(), cloudClient, exec, j, log)
	if err != nil {
		return fmt.Errorf("build converter: %w", err)
	}

	go func() {
		if err := metrics.ListenAndServe(cfg.MetricsAddr); err != nil {
			log.Warn("metrics listener stopped", zap.Error(err))
		}
	}()

	loop := mapper.New(busConfig(cfg), conv, exec, j, cfg.SyncWindow, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting mapper", zap.String("device_id", cfg.DeviceID))
	return loop.Run(ctx)
}

func runSessionCmd(f func(bus.Config, bus.TopicFilter, *zap.Logger) error) error {
	cfg, err := config.LoadMapper()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	registry, err := operations.New(cfg.OperationsDir)
	if err != nil {
		return fmt.Errorf("load operation registry: %w", err)
	}

	conv, err := converter.New(converter.Config{
		DeviceID:      cfg.DeviceID,
		DeviceType:    cfg.DeviceType,
		SizeThreshold: codec.NewSizeThreshold(cfg.PayloadSizeThreshold),
	}, registry, alarms.New(), &httpclient.Stub{}, nil, mustOpenScratchJournal(cfg.JournalPath, log), log)
	if err != nil {
		return fmt.Errorf("build converter: %w", err)
	}

	filter := conv.Subscriptions()
	filter.AddAll("health/check", "health/check/+")
	return f(busConfig(cfg), filter, log)
}

func mustOpenScratchJournal(path string, log *zap.Logger) *journal.Journal {
	j, err := journal.Open(path)
	if err != nil {
		log.Fatal("open journal", zap.Error(err))
	}
	return j
}

func busConfig(cfg config.Mapper) bus.Config {
	return bus.Config{
		Host:         cfg.MQTTHost,
		Port:         cfg.MQTTPort,
		ClientID:     cfg.MQTTClientID,
		CleanSession: true,
	}
}
