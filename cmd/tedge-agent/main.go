// Command tedge-agent is the local device-side agent: it owns the
// software plugin registry and answers software list/update requests
// and restart requests published by the mapper core.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/config"
	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
	"github.com/k-butz/tedge-c8y-mapper/internal/software"
)

const (
	requestTopicList    = "local/cmd/req/software/list"
	requestTopicUpdate  = "local/cmd/req/software/update"
	requestTopicRestart = "local/cmd/req/restart"

	responseTopicRestart = "local/cmd/res/restart"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tedge-agent:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAgent()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	registry, err := software.OpenRegistry(cfg.PluginsDir)
	if err != nil {
		return fmt.Errorf("open plugin registry: %w", err)
	}
	if registry.Empty() {
		log.Warn("no software plugins discovered", zap.String("dir", cfg.PluginsDir))
	} else {
		log.Info("software plugins discovered", zap.Strings("types", registry.Types()))
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	agent := software.NewAgent(registry, j, log)

	filter := bus.NewTopicFilter(requestTopicList, requestTopicUpdate, requestTopicRestart)
	conn, err := bus.Connect(bus.Config{
		Host:         cfg.MQTTHost,
		Port:         cfg.MQTTPort,
		ClientID:     cfg.MQTTClientID,
		CleanSession: true,
	}, filter, log)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Disconnect()

	publish := func(m bus.Message) error { return conn.Publish(m) }

	if err := agent.PublishCapabilities(publish); err != nil {
		log.Warn("failed to publish capabilities", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("tedge-agent ready", zap.String("plugins_dir", cfg.PluginsDir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-conn.Received:
			handleMessage(ctx, agent, publish, msg, log)
		case err := <-conn.Errors:
			return fmt.Errorf("bus error: %w", err)
		}
	}
}

func handleMessage(ctx context.Context, agent *software.Agent, publish software.Publisher, msg bus.Message, log *zap.Logger) {
	switch msg.Topic {
	case requestTopicList:
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			log.Warn("malformed software list request", zap.Error(err))
			return
		}
		if err := agent.ProcessListRequest(req.ID, publish); err != nil {
			log.Warn("failed to process software list request", zap.Error(err))
		}

	case requestTopicUpdate:
		var req software.UpdateRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			log.Warn("malformed software update request", zap.Error(err))
			return
		}
		if err := agent.ProcessUpdateRequest(ctx, req, publish); err != nil {
			log.Warn("failed to process software update request", zap.Error(err))
		}

	case requestTopicRestart:
		handleRestartRequest(publish, log)
	}
}

// handleRestartRequest reports Executing, invokes the platform reboot
// command, and lets the process supervisor handle anything after
// that — if the reboot command itself fails to start, it reports
// Failed immediately so the cloud is not left waiting forever.
func handleRestartRequest(publish software.Publisher, log *zap.Logger) {
	publishRestartStatus(publish, "executing", "")

	cmd := exec.Command("systemctl", "reboot")
	if err := cmd.Start(); err != nil {
		log.Warn("failed to invoke reboot command", zap.Error(err))
		publishRestartStatus(publish, "failed", err.Error())
	}
}

func publishRestartStatus(publish software.Publisher, status, reason string) {
	payload, err := json.Marshal(struct {
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	}{Status: status, Reason: reason})
	if err != nil {
		return
	}
	_ = publish(bus.New(responseTopicRestart, string(payload)))
}
