// Package mapper implements the mapper loop: it owns the bus
// connection, runs the bounded sync window, and forever after routes
// inbound messages either to the health responder or to the converter,
// publishing whatever each returns before the next message is read.
package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
	"github.com/k-butz/tedge-c8y-mapper/internal/converter"
	"github.com/k-butz/tedge-c8y-mapper/internal/executor"
	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
	"github.com/k-butz/tedge-c8y-mapper/internal/metrics"
)

const (
	healthCheckTopic       = "health/check"
	healthCheckTopicPrefix = "health/check/"
	defaultHealthName      = "mapper"
)

// connection is the narrow bus dependency Run needs: enough to
// publish, receive, report transport errors, and disconnect, so a fake
// can drive Run in a test without a real broker.
type connection interface {
	Publish(bus.Message) error
	Disconnect()
	Received() <-chan bus.Message
	Errors() <-chan error
}

// connAdapter satisfies connection by exposing *bus.Connection's
// Received/Errors fields as methods.
type connAdapter struct{ *bus.Connection }

func (c connAdapter) Received() <-chan bus.Message { return c.Connection.Received }
func (c connAdapter) Errors() <-chan error         { return c.Connection.Errors }

// dialFunc abstracts bus.Connect so tests can inject a fake connection.
type dialFunc func(bus.Config, bus.TopicFilter, *zap.Logger) (connection, error)

func defaultDial(cfg bus.Config, filter bus.TopicFilter, log *zap.Logger) (connection, error) {
	conn, err := bus.Connect(cfg, filter, log)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

// Loop is the owner of the bus connection and the single logical loop:
// startup sequencing (journal repair, init messages, bounded sync
// window, sync messages) followed by the forever loop that routes
// inbound messages and executor completions through the converter.
type Loop struct {
	busCfg     bus.Config
	conv       converter.Converter
	executor   *executor.Executor
	journal    *journal.Journal
	syncWindow time.Duration
	log        *zap.Logger

	dial dialFunc
	conn connection
}

// New builds a Loop. executor may be nil if no custom operations are
// registered; its Completions channel is simply never selected on then.
func New(busCfg bus.Config, conv converter.Converter, exec *executor.Executor, j *journal.Journal, syncWindow time.Duration, log *zap.Logger) *Loop {
	return &Loop{
		busCfg:     busCfg,
		conv:       conv,
		executor:   exec,
		journal:    j,
		syncWindow: syncWindow,
		log:        log,
		dial:       defaultDial,
	}
}

// Run executes the full startup-to-forever sequence: connect, repair
// the journal, publish init messages, run the bounded sync window,
// publish sync messages, then loop forever. It returns when connecting
// or publishing fails, when the bus reports a transport error, or when
// ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	filter := l.conv.Subscriptions()
	filter.AddAll(healthCheckTopic, healthCheckTopicPrefix+"+")

	dial := l.dial
	if dial == nil {
		dial = defaultDial
	}
	conn, err := dial(l.busCfg, filter, l.log)
	if err != nil {
		return fmt.Errorf("mapper: connect: %w", err)
	}
	l.conn = conn
	defer conn.Disconnect()

	l.repairJournal()

	for _, m := range l.conv.InitMessages(ctx) {
		if err := l.conn.Publish(m); err != nil {
			return fmt.Errorf("mapper: publish init message: %w", err)
		}
	}

	if err := l.runSyncWindow(ctx); err != nil {
		return err
	}

	for _, m := range l.conv.SyncMessages() {
		if err := l.conn.Publish(m); err != nil {
			return fmt.Errorf("mapper: publish sync message: %w", err)
		}
	}

	return l.runForever(ctx)
}

// repairJournal is the startup recovery step: a live journal entry
// means the core crashed mid-operation, so it publishes an explicit
// failure and clears the file rather than leaving the cloud waiting
// forever. Failure to read or clear the journal is logged and never
// prevents startup.
func (l *Loop) repairJournal() {
	entry, ok, err := l.journal.Read()
	if err != nil {
		l.logWarn("failed to read operation journal at startup", err)
		return
	}
	if !ok {
		return
	}

	line := codec.FailedLine(entry.ID, "unfinished operation request")
	if err := l.conn.Publish(bus.New("cloud/out", line)); err != nil {
		l.logWarn("failed to publish unfinished-operation status", err)
	}
	if err := l.journal.Clear(); err != nil {
		l.logWarn("failed to clear operation journal after startup repair", err)
	}
}

// runSyncWindow consumes inbound messages for a bounded duration,
// routing each through the converter and publishing its outputs in
// order. The window's expiry — not a marker message — is the only
// thing that ends it.
func (l *Loop) runSyncWindow(ctx context.Context) error {
	started := time.Now()
	timer := time.NewTimer(l.syncWindow)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			metrics.AlarmReconcileDuration.Observe(time.Since(started).Seconds())
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-l.conn.Received():
			if err := l.routeThroughConverter(ctx, msg); err != nil {
				return err
			}
		case err := <-l.conn.Errors():
			return fmt.Errorf("mapper: bus error during sync window: %w", err)
		}
	}
}

// runForever routes every inbound message to either the health
// responder or the converter, and folds in the operation executor's
// completion messages alongside the real bus traffic.
func (l *Loop) runForever(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-l.conn.Received():
			if statusTopic, ok := healthStatusTopic(msg.Topic); ok {
				if err := l.respondHealth(statusTopic); err != nil {
					l.logWarn("failed to publish health status", err)
				}
				continue
			}
			if err := l.routeThroughConverter(ctx, msg); err != nil {
				return err
			}
		case msg, open := <-l.completions():
			if !open {
				continue
			}
			if err := l.routeThroughConverter(ctx, msg); err != nil {
				return err
			}
		case err := <-l.conn.Errors():
			return fmt.Errorf("mapper: bus error: %w", err)
		}
	}
}

func (l *Loop) completions() <-chan bus.Message {
	if l.executor == nil {
		return nil // a nil channel blocks forever in select, never fires
	}
	return l.executor.Completions()
}

func (l *Loop) routeThroughConverter(ctx context.Context, msg bus.Message) error {
	outputs, err := l.conv.Convert(ctx, msg)
	if err != nil {
		l.logWarn("message conversion reported an error", err)
	}
	for _, out := range outputs {
		if pubErr := l.conn.Publish(out); pubErr != nil {
			return fmt.Errorf("mapper: publish: %w", pubErr)
		}
		metrics.MessagesPublished.Inc()
	}
	return nil
}

type healthStatus struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

func (l *Loop) respondHealth(statusTopic string) error {
	payload, err := json.Marshal(healthStatus{Status: "up", PID: os.Getpid()})
	if err != nil {
		return err
	}
	return l.conn.Publish(bus.New(statusTopic, string(payload)))
}

// healthStatusTopic maps a `health/check[/<name>]` topic to the
// `health/status/<name>` topic the response belongs on, defaulting the
// unnamed check to this binary's own component name.
func healthStatusTopic(topic string) (string, bool) {
	switch {
	case topic == healthCheckTopic:
		return "health/status/" + defaultHealthName, true
	case strings.HasPrefix(topic, healthCheckTopicPrefix):
		return "health/status/" + strings.TrimPrefix(topic, healthCheckTopicPrefix), true
	default:
		return "", false
	}
}

func (l *Loop) logWarn(msg string, err error) {
	if l.log != nil {
		l.log.Warn(msg, zap.Error(err))
	}
}
