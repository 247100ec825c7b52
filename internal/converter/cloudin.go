package converter

import (
	"context"
	"encoding/json"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
	"github.com/k-butz/tedge-c8y-mapper/internal/metrics"
	"github.com/k-butz/tedge-c8y-mapper/internal/operations"
	"github.com/k-butz/tedge-c8y-mapper/internal/software"
)

// handleCloudIn parses the SmartREST line arriving on "cloud/in/**",
// then dispatches on its template id.
func (c *CumulocityConverter) handleCloudIn(msg bus.Message) ([]bus.Message, error) {
	line, err := codec.ParseSmartRest(msg.Payload)
	if err != nil {
		// The payload itself is unparseable; the topic's trailing segment
		// is the only operation identifier we still have.
		code := templateIDFromTopic(msg.Topic)
		return statusPair(code, err)
	}

	switch line.TemplateID {
	case codec.TemplateSoftwareUpdateRequest:
		return c.handleSoftwareUpdateRequest(line)
	case codec.TemplateRestartRequest:
		return c.handleRestartRequest(line)
	default:
		return c.handleCustomOperation(line)
	}
}

func (c *CumulocityConverter) handleCustomOperation(line codec.SmartRestLine) ([]bus.Message, error) {
	op, ok := c.registry.Find(line.TemplateID)
	if !ok {
		code := operationCode(line)
		return statusPair(code, &codec.UnknownOperationError{TemplateID: line.TemplateID})
	}

	payload := rebuildSmartRestPayload(line)
	if err := c.spawner.Spawn(op, payload); err != nil {
		return []bus.Message{bus.New("cloud/out", codec.FailedLine(op.Name, err.Error()))}, err
	}
	metrics.OperationsExecuting.Inc()
	return []bus.Message{bus.New("cloud/out", codec.ExecutingLine(op.Name))}, nil
}

// handleOperationCompletion converts a synthetic executor completion
// message (internal/executor) into the terminal SmartREST line for a
// registry-backed custom operation.
func (c *CumulocityConverter) handleOperationCompletion(msg bus.Message) ([]bus.Message, error) {
	opName := msg.Topic[len(operations.CompletionTopicPrefix):]

	var payload struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return asLocalError(err)
	}
	metrics.OperationsExecuting.Dec()
	if payload.Success {
		metrics.OperationsTotal.WithLabelValues(opName, "successful").Inc()
		return []bus.Message{bus.New("cloud/out", codec.SuccessfulLine(opName))}, nil
	}
	metrics.OperationsTotal.WithLabelValues(opName, "failed").Inc()
	return []bus.Message{bus.New("cloud/out", codec.FailedLine(opName, payload.Reason))}, nil
}

// handleSoftwareUpdateRequest handles the `528` template: parse the
// module list, rewrite any in-tenant-domain URL with a bearer token,
// and forward as a local command request. The Executing status is
// published later, when the agent echoes its own "executing" status
// back on local/cmd/res/software/update (see handleSoftwareUpdateResponse).
func (c *CumulocityConverter) handleSoftwareUpdateRequest(line codec.SmartRestLine) ([]bus.Message, error) {
	modules, err := codec.ParseSoftwareUpdateRequest(line.Fields)
	if err != nil {
		return statusPair(CodeSoftwareUpdate, err)
	}

	updateList := map[string][]software.Module{}
	for _, m := range modules {
		mod := software.Module{Name: m.Name, Version: m.Version, URL: m.URL, Action: m.Action}
		if mod.URL != "" {
			mod.URL = c.rewriteModuleURL(mod.URL)
		}
		updateList[m.Type] = append(updateList[m.Type], mod)
	}

	req := software.UpdateRequest{ID: CodeSoftwareUpdate, UpdateList: updateList}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return []bus.Message{bus.New("local/cmd/req/software/update", string(payload))}, nil
}

// rewriteModuleURL injects a bearer token into a download URL when it
// resolves inside the cloud tenant's own domain. Any httpclient
// failure is logged and the URL is left untouched — HttpError never
// blocks this request from being forwarded.
func (c *CumulocityConverter) rewriteModuleURL(rawURL string) string {
	inTenant, err := c.http.URLIsInTenantDomain(rawURL)
	if err != nil {
		c.logWarn("failed to check tenant domain for module URL", err)
		return rawURL
	}
	if !inTenant {
		return rawURL
	}
	token, err := c.http.GetJWTToken(context.Background())
	if err != nil {
		c.logWarn("failed to fetch bearer token for module URL", err)
		metrics.JWTTokenErrors.Inc()
		return rawURL
	}
	return appendBearerToken(rawURL, token)
}

type restartRequestPayload struct {
	ID string `json:"id"`
}

// handleRestartRequest implements the `510` row: forward a restart
// request to the local command topic. Status mapping happens when the
// response arrives on local/cmd/res/restart.
func (c *CumulocityConverter) handleRestartRequest(line codec.SmartRestLine) ([]bus.Message, error) {
	if err := codec.ParseRestartRequest(line.Fields); err != nil {
		return statusPair(CodeRestart, err)
	}
	payload, err := json.Marshal(restartRequestPayload{ID: CodeRestart})
	if err != nil {
		return nil, err
	}
	return []bus.Message{bus.New("local/cmd/req/restart", string(payload))}, nil
}

// statusPair builds the `501,<op>` then `502,<op>,"<reason>"` pair
// published for ill-formed cloud input, returning err unchanged so
// callers can still log/inspect it.
func statusPair(code string, err error) ([]bus.Message, error) {
	return []bus.Message{
		bus.New("cloud/out", codec.ExecutingLine(code)),
		bus.New("cloud/out", codec.FailedLine(code, err.Error())),
	}, err
}

// operationCode picks the status-line operation identifier for an
// unrecognised template id: the request's first field, falling back to
// the template id itself when there is no first field.
func operationCode(line codec.SmartRestLine) string {
	if len(line.Fields) > 0 {
		return line.Fields[0]
	}
	return line.TemplateID
}

func templateIDFromTopic(topic string) string {
	const prefix = "cloud/in/"
	if len(topic) > len(prefix) {
		return topic[len(prefix):]
	}
	return topic
}

// rebuildSmartRestPayload hands the executor back the exact CSV line a
// custom operation's command expects as argv[1].
func rebuildSmartRestPayload(line codec.SmartRestLine) []byte {
	fields := append([]string{line.TemplateID}, line.Fields...)
	return []byte(joinCSV(fields))
}

func joinCSV(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}
