// Package converter implements the single-threaded, mostly-pure routing
// spine that turns local-bus messages into outbound SmartREST and
// cloud-JSON messages, dispatches cloud-originated operations, and
// drives the alarm reconciler and operation journal.
//
// Routing is expressed as an interface so the mapper loop
// (internal/mapper) never needs to know which cloud target it is
// talking to.
package converter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/k-butz/tedge-c8y-mapper/internal/alarms"
	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
	"github.com/k-butz/tedge-c8y-mapper/internal/httpclient"
	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
	"github.com/k-butz/tedge-c8y-mapper/internal/metrics"
	"github.com/k-butz/tedge-c8y-mapper/internal/operations"
	"github.com/k-butz/tedge-c8y-mapper/internal/software"
)

// Converter is the capability set a mapper loop needs: subscriptions,
// a pure per-message transform, and the two init/sync hooks the mapper
// loop calls once each at startup.
type Converter interface {
	Subscriptions() bus.TopicFilter
	InitMessages(ctx context.Context) []bus.Message
	SyncMessages() []bus.Message
	Convert(ctx context.Context, msg bus.Message) ([]bus.Message, error)
}

// OperationSpawner is the narrow dependency the converter needs from
// the operation executor (internal/executor): start a registered
// command, reporting only the spawn failure synchronously.
type OperationSpawner interface {
	Spawn(op operations.Operation, payload []byte) error
}

// Cloud operation codes used in status lines and journal entries for
// the two built-in (non-registry) operations.
const (
	CodeSoftwareUpdate = "c8y_SoftwareUpdate"
	CodeRestart        = "c8y_Restart"
)

// Config holds the converter's static, non-collaborator configuration.
type Config struct {
	DeviceID               string
	DeviceType              string
	SizeThreshold           codec.SizeThreshold
	InventoryFragmentsFile  string
	SupportedLogTypes       []string
}

// CumulocityConverter is the concrete Converter for the Cumulocity
// cloud.
type CumulocityConverter struct {
	cfg Config

	registry    *operations.Registry
	reconciler  *alarms.Reconciler
	http        httpclient.CloudClient
	spawner     OperationSpawner
	journal     *journal.Journal
	log         *zap.Logger

	children           map[string]bool
	inventoryFragments map[string]any
	executingSince     map[string]time.Time
}

// New builds a CumulocityConverter, loading the optional inventory
// fragments file merged into the inventory fragment InitMessages
// publishes.
func New(cfg Config, registry *operations.Registry, reconciler *alarms.Reconciler, http httpclient.CloudClient, spawner OperationSpawner, j *journal.Journal, log *zap.Logger) (*CumulocityConverter, error) {
	fragments, err := loadInventoryFragments(cfg.InventoryFragmentsFile)
	if err != nil {
		return nil, fmt.Errorf("converter: %w", err)
	}
	if len(cfg.SupportedLogTypes) == 0 {
		cfg.SupportedLogTypes = []string{"software-management"}
	}
	return &CumulocityConverter{
		cfg:                cfg,
		registry:           registry,
		reconciler:         reconciler,
		http:               http,
		spawner:            spawner,
		journal:            j,
		log:                log,
		children:           map[string]bool{},
		inventoryFragments: fragments,
		executingSince:     map[string]time.Time{},
	}, nil
}

// Subscriptions implements Converter.
func (c *CumulocityConverter) Subscriptions() bus.TopicFilter {
	tf := bus.NewTopicFilter(
		"local/measurements", "local/measurements/+",
		"local/alarms/#", "internal/alarms/#",
		"local/events/+",
		"local/cmd/res/software/list", "local/cmd/res/software/update", "local/cmd/res/restart",
		"cloud/in/"+codec.TemplateRestartRequest, "cloud/in/"+codec.TemplateSoftwareUpdateRequest,
		operations.CompletionTopicPrefix+"#",
	)
	tf.AddAll(c.registry.Topics()...)
	return tf
}

// Convert implements Converter's per-topic routing table.
func (c *CumulocityConverter) Convert(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	prefix := topicPrefix(msg.Topic)
	metrics.MessagesConverted.WithLabelValues(prefix).Inc()

	out, err := c.convert(ctx, msg)
	if err != nil {
		metrics.ConversionErrors.WithLabelValues(prefix).Inc()
	}
	return out, err
}

func (c *CumulocityConverter) convert(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	if err := c.cfg.SizeThreshold.Validate(msg.Payload); err != nil {
		return asLocalError(err)
	}

	switch {
	case msg.Topic == "local/measurements" || strings.HasPrefix(msg.Topic, "local/measurements/"):
		return c.convertMeasurement(msg)
	case strings.HasPrefix(msg.Topic, "local/alarms/"):
		out, err := c.reconciler.HandleLocal(msg)
		if err != nil {
			return asLocalError(err)
		}
		return out, nil
	case strings.HasPrefix(msg.Topic, "internal/alarms/"):
		if err := c.reconciler.HandleInternal(msg); err != nil {
			return asLocalError(err)
		}
		return nil, nil
	case strings.HasPrefix(msg.Topic, "local/events/"):
		return c.convertEvent(msg)
	case msg.Topic == "local/cmd/res/software/list":
		return c.handleSoftwareListResponse(ctx, msg)
	case msg.Topic == "local/cmd/res/software/update":
		return c.handleSoftwareUpdateResponse(ctx, msg)
	case msg.Topic == "local/cmd/res/restart":
		return c.handleRestartResponse(ctx, msg)
	case strings.HasPrefix(msg.Topic, "cloud/in/"):
		return c.handleCloudIn(msg)
	case strings.HasPrefix(msg.Topic, operations.CompletionTopicPrefix):
		return c.handleOperationCompletion(msg)
	default:
		return asLocalError(&codec.UnsupportedTopicError{Topic: msg.Topic})
	}
}

func (c *CumulocityConverter) convertMeasurement(msg bus.Message) ([]bus.Message, error) {
	childID := strings.TrimPrefix(msg.Topic, "local/measurements/")
	if childID == msg.Topic {
		childID = "" // topic was exactly "local/measurements": root device
	}

	var out []bus.Message
	if childID != "" && !c.children[childID] {
		out = append(out, bus.New("cloud/out", codec.ChildCreateLine(childID)))
		c.children[childID] = true
	}

	cloudJSON, err := codec.MeasurementToCloudJSON(msg.Payload, childID)
	if err != nil {
		return asLocalError(err)
	}
	return append(out, bus.New("cloud/measurement/create", string(cloudJSON))), nil
}

func (c *CumulocityConverter) convertEvent(msg bus.Message) ([]bus.Message, error) {
	line, err := codec.EventToSmartRest(msg.Topic, msg.Payload)
	if err != nil {
		return asLocalError(err)
	}
	return []bus.Message{bus.New("cloud/out", line)}, nil
}

// mapOperationStatus is the shared status-mapping table reused by both
// the software-update and restart response handlers: write the journal
// before Executing, clear it after the terminal status, and upload the
// inventory (if any) alongside either terminal outcome.
func (c *CumulocityConverter) mapOperationStatus(ctx context.Context, code string, kind journal.Kind, status, reason string, inventory software.Inventory) ([]bus.Message, error) {
	switch status {
	case software.StatusExecuting:
		if err := c.journal.Write(journal.Entry{ID: code, Kind: kind}); err != nil {
			c.logWarn("failed to write journal entry", err)
		}
		if code == CodeSoftwareUpdate {
			c.executingSince[code] = time.Now()
		}
		metrics.OperationsExecuting.Inc()
		return []bus.Message{bus.New("cloud/out", codec.ExecutingLine(code))}, nil

	case software.StatusSuccessful, software.StatusFailed:
		if inventory != nil {
			if payload, err := json.Marshal(inventory); err == nil {
				if uploadErr := c.http.UploadSoftwareList(ctx, c.cfg.DeviceID, payload); uploadErr != nil {
					c.logWarn("software inventory upload failed", uploadErr)
					metrics.InventoryUploads.WithLabelValues("failed").Inc()
				} else {
					metrics.InventoryUploads.WithLabelValues("successful").Inc()
				}
			}
		}
		if err := c.journal.Clear(); err != nil {
			c.logWarn("failed to clear journal entry", err)
		}
		if code == CodeSoftwareUpdate {
			if since, ok := c.executingSince[code]; ok {
				metrics.SoftwareUpdateDuration.Observe(time.Since(since).Seconds())
				delete(c.executingSince, code)
			}
		}
		metrics.OperationsExecuting.Dec()
		metrics.OperationsTotal.WithLabelValues(code, status).Inc()
		if status == software.StatusSuccessful {
			return []bus.Message{bus.New("cloud/out", codec.SuccessfulLine(code))}, nil
		}
		return []bus.Message{bus.New("cloud/out", codec.FailedLine(code, reason))}, nil

	default:
		return nil, fmt.Errorf("converter: unknown operation status %q for %s", status, code)
	}
}

func (c *CumulocityConverter) logWarn(msg string, err error) {
	if c.log != nil {
		c.log.Warn(msg, zap.Error(err))
	}
}

func asLocalError(err error) ([]bus.Message, error) {
	return []bus.Message{bus.New("local/errors", err.Error())}, err
}

// topicPrefix reduces a topic to its leading segment for metrics
// cardinality, e.g. "local/measurements/sensor-a" -> "local".
func topicPrefix(topic string) string {
	if i := strings.IndexByte(topic, '/'); i >= 0 {
		return topic[:i]
	}
	return topic
}

func appendBearerToken(rawURL, token string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
