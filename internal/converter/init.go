package converter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
)

// agentIdentityFragment is the reserved "c8y_Agent" inventory fragment
// the core itself contributes, identifying the mapper to the cloud
// inventory UI. This key is reserved: any user-supplied inventory
// fragments file entry under the same key is overwritten.
var agentIdentityFragment = map[string]any{
	"name":    "tedge-mapper-c8y",
	"version": "1.0.0",
	"url":     "https://thin-edge.io",
}

// InitMessages implements Converter: the fixed six-message startup
// sequence, run once before the sync window opens.
func (c *CumulocityConverter) InitMessages(ctx context.Context) []bus.Message {
	inventoryTopic := "cloud/inventory/update/" + c.cfg.DeviceID

	operationNames := append([]string{CodeSoftwareUpdate, CodeRestart}, c.registry.Names()...)

	listReq, _ := json.Marshal(struct {
		ID string `json:"id"`
	}{ID: "c8y_SoftwareList"})

	return []bus.Message{
		bus.New(inventoryTopic, mustJSON(c.buildInventoryFragments())),
		bus.New("cloud/out", codec.SupportedOperationsLine(operationNames)),
		bus.New(inventoryTopic, mustJSON(map[string]any{"type": c.cfg.DeviceType})),
		bus.New("cloud/out", codec.SupportedLogTypesLine(c.cfg.SupportedLogTypes)),
		bus.New("cloud/out", codec.GetPendingOperationsLine()),
		bus.New("local/cmd/req/software/list", string(listReq)),
	}
}

// SyncMessages implements Converter. The reconciler's Flush() yields
// raw local/alarms-shaped messages; each is then fed back through the
// (now Synced) reconciler so the cloud also receives the matching
// SmartREST line and internal mirror update — see the design note in
// internal/alarms.Reconciler.Flush.
func (c *CumulocityConverter) SyncMessages() []bus.Message {
	raw := c.reconciler.Flush()

	var out []bus.Message
	for _, m := range raw {
		out = append(out, m)
		converted, err := c.reconciler.HandleLocal(m)
		if err != nil {
			c.logWarn("sync flush: failed to convert alarm", err)
			continue
		}
		out = append(out, converted...)
	}
	return out
}

func (c *CumulocityConverter) buildInventoryFragments() map[string]any {
	out := map[string]any{}
	for k, v := range c.inventoryFragments {
		out[k] = v
	}
	out["c8y_Agent"] = agentIdentityFragment
	return out
}

// loadInventoryFragments reads the optional user-supplied inventory
// fragments file. A missing or empty path yields no fragments; a
// present-but-unreadable file is an error so a typo in configuration
// surfaces at startup rather than silently losing data.
func loadInventoryFragments(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read inventory fragments file %q: %w", path, err)
	}
	var fragments map[string]any
	if err := json.Unmarshal(data, &fragments); err != nil {
		return nil, fmt.Errorf("parse inventory fragments file %q: %w", path, err)
	}
	return fragments, nil
}

func mustJSON(v any) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(payload)
}
