package converter

import (
	"context"
	"encoding/json"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
	"github.com/k-butz/tedge-c8y-mapper/internal/software"
)

// handleSoftwareListResponse handles "local/cmd/res/software/list": on
// success, upload the inventory; either way, no outbound SmartREST is
// produced.
func (c *CumulocityConverter) handleSoftwareListResponse(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	var resp software.ListResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return asLocalError(err)
	}

	if resp.Status == software.StatusSuccessful {
		if payload, err := json.Marshal(resp.CurrentSoftwareList); err == nil {
			if uploadErr := c.http.UploadSoftwareList(ctx, c.cfg.DeviceID, payload); uploadErr != nil {
				c.logWarn("software inventory upload failed", uploadErr)
			}
		}
	}
	return nil, nil
}

// handleSoftwareUpdateResponse handles "local/cmd/res/software/update"
// via the shared status mapping.
func (c *CumulocityConverter) handleSoftwareUpdateResponse(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	var resp software.UpdateResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return asLocalError(err)
	}
	return c.mapOperationStatus(ctx, CodeSoftwareUpdate, journal.KindSoftwareUpdate, resp.Status, resp.Reason, resp.CurrentSoftwareList)
}

type restartResponsePayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// handleRestartResponse handles "local/cmd/res/restart": the same
// status mapping as software update, without an inventory upload.
func (c *CumulocityConverter) handleRestartResponse(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	var resp restartResponsePayload
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return asLocalError(err)
	}
	return c.mapOperationStatus(ctx, CodeRestart, journal.KindRestart, resp.Status, resp.Reason, nil)
}
