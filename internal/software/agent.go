package software

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
)

const (
	ResponseTopicList   = "local/cmd/res/software/list"
	ResponseTopicUpdate = "local/cmd/res/software/update"

	CapabilityTopicList   = "local/capabilities/software/list"
	CapabilityTopicUpdate = "local/capabilities/software/update"
)

const (
	StatusExecuting  = "executing"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
)

// ListResponse is published on ResponseTopicList.
type ListResponse struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"`
	CurrentSoftwareList Inventory `json:"currentSoftwareList,omitempty"`
}

// UpdateResponse is published on ResponseTopicUpdate, once with
// Status==executing and exactly once more with a terminal status.
type UpdateResponse struct {
	ID                  string          `json:"id"`
	Status              string          `json:"status"`
	Reason              string          `json:"reason,omitempty"`
	CurrentSoftwareList Inventory       `json:"currentSoftwareList,omitempty"`
	Failures            []ModuleFailure `json:"failures,omitempty"`
}

// Publisher is the narrow bus dependency the Agent needs: publish one
// message, in order, before returning.
type Publisher func(bus.Message) error

// Agent is the software-management collaborator. It owns no bus
// connection itself — cmd/tedge-agent wires a real bus.Connection into
// its Publisher callback.
type Agent struct {
	registry *Registry
	journal  *journal.Journal
	log      *zap.Logger
}

// NewAgent builds an Agent over a plugin registry and operation journal.
func NewAgent(registry *Registry, j *journal.Journal, log *zap.Logger) *Agent {
	return &Agent{registry: registry, journal: j, log: log}
}

// PublishCapabilities announces the two retained, empty capability
// messages on CapabilityTopicList and CapabilityTopicUpdate.
func (a *Agent) PublishCapabilities(publish Publisher) error {
	if err := publish(bus.New(CapabilityTopicList, "").Retained()); err != nil {
		return err
	}
	return publish(bus.New(CapabilityTopicUpdate, "").Retained())
}

// ProcessListRequest builds the current inventory and publishes it as the
// terminal response to a software/list request: successful with the
// inventory, or failed without one if any plugin's list fails.
func (a *Agent) ProcessListRequest(requestID string, publish Publisher) error {
	inventory, err := a.registry.List()
	if err != nil {
		return publishListResponse(publish, ListResponse{ID: requestID, Status: StatusFailed})
	}
	return publishListResponse(publish, ListResponse{
		ID:                  requestID,
		Status:              StatusSuccessful,
		CurrentSoftwareList: inventory,
	})
}

// ProcessUpdateRequest runs the full software/update lifecycle: journal
// write, Executing, per-type prepare/install-or-remove/finalize,
// failure aggregation, final inventory list, terminal status, journal
// clear.
func (a *Agent) ProcessUpdateRequest(ctx context.Context, req UpdateRequest, publish Publisher) error {
	if err := a.journal.Write(journal.Entry{ID: req.ID, Kind: journal.KindSoftwareUpdate}); err != nil {
		return fmt.Errorf("software: write journal: %w", err)
	}

	if err := publishUpdateResponse(publish, UpdateResponse{ID: req.ID, Status: StatusExecuting}); err != nil {
		return err
	}

	var failures []ModuleFailure
	var reasons []string

	for softwareType, modules := range req.UpdateList {
		plugin, ok := a.registry.ByType(softwareType)
		if !ok {
			failures = append(failures, ModuleFailure{Type: softwareType, Reason: "unknown software type"})
			reasons = append(reasons, fmt.Sprintf("unknown software type %q", softwareType))
			continue
		}

		if err := plugin.Prepare(); err != nil {
			reasons = append(reasons, fmt.Sprintf("prepare failed for %s: %v", softwareType, err))
		}

		for _, m := range modules {
			m.Type = softwareType
			var actionErr error
			switch m.Action {
			case ActionRemove:
				actionErr = plugin.Remove(m)
			default:
				actionErr = plugin.Install(m)
			}
			if actionErr != nil {
				failures = append(failures, ModuleFailure{Type: softwareType, Module: m, Reason: actionErr.Error()})
			}
		}

		if err := plugin.Finalize(); err != nil {
			reasons = append(reasons, fmt.Sprintf("finalize failed for %s: %v", softwareType, err))
		}
	}

	inventory, err := a.registry.List()
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("failed to rebuild inventory: %v", err))
	}

	status := StatusSuccessful
	if len(failures) > 0 || len(reasons) > 0 {
		status = StatusFailed
	}

	resp := UpdateResponse{
		ID:                  req.ID,
		Status:              status,
		CurrentSoftwareList: inventory,
		Failures:            failures,
	}
	if len(reasons) > 0 {
		resp.Reason = joinReasons(reasons)
	}

	if err := publishUpdateResponse(publish, resp); err != nil {
		return err
	}

	return a.journal.Clear()
}

func publishListResponse(publish Publisher, resp ListResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("software: marshal list response: %w", err)
	}
	return publish(bus.New(ResponseTopicList, string(payload)))
}

func publishUpdateResponse(publish Publisher, resp UpdateResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("software: marshal update response: %w", err)
	}
	return publish(bus.New(ResponseTopicUpdate, string(payload)))
}

func joinReasons(reasons []string) string {
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
