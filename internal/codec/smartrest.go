package codec

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// SmartRestLine is a single parsed SmartREST CSV record: a template id
// plus the fields that followed it.
type SmartRestLine struct {
	TemplateID string
	Fields     []string
}

// ParseSmartRest decodes a single SmartREST line as CSV. The first
// column is always the template id.
func ParseSmartRest(payload []byte) (SmartRestLine, error) {
	reader := csv.NewReader(strings.NewReader(string(payload)))
	records, err := reader.ReadAll()
	if err != nil {
		return SmartRestLine{}, &InvalidSmartRestError{Reason: err.Error()}
	}
	if len(records) == 0 || len(records[0]) == 0 {
		return SmartRestLine{}, &InvalidSmartRestError{Reason: "empty SmartREST line"}
	}
	record := records[0]
	return SmartRestLine{TemplateID: record[0], Fields: record[1:]}, nil
}

// Outbound template ids used throughout the converter and init sequence.
const (
	TemplateChildCreate          = "101"
	TemplateSupportedOperations  = "114"
	TemplateSupportedLogTypes    = "118"
	TemplateGetPendingOperations = "500"
	TemplateOperationExecuting   = "501"
	TemplateOperationFailed      = "502"
	TemplateOperationSuccessful  = "503"
)

// Inbound template ids the converter dispatches on directly; anything
// else is looked up in the operation registry.
const (
	TemplateRestartRequest         = "510"
	TemplateSoftwareUpdateRequest  = "528"
)

// ChildCreateLine builds the `101,<id>,<id>,thin-edge.io-child` line
// emitted the first time a child device is seen.
func ChildCreateLine(childID string) string {
	return fmt.Sprintf("%s,%s,%s,thin-edge.io-child", TemplateChildCreate, childID, childID)
}

// SupportedOperationsLine builds the `114,...` line from an ordered list
// of cloud operation names (c8y_Restart, c8y_SoftwareUpdate, and any
// names declared in the operation registry).
func SupportedOperationsLine(operationNames []string) string {
	return fmt.Sprintf("%s,%s", TemplateSupportedOperations, strings.Join(operationNames, ","))
}

// SupportedLogTypesLine builds the `118,...` line.
func SupportedLogTypesLine(logTypes []string) string {
	return fmt.Sprintf("%s,%s", TemplateSupportedLogTypes, strings.Join(logTypes, ","))
}

// GetPendingOperationsLine builds the fixed `500` line requesting any
// operations the cloud queued while the device was offline.
func GetPendingOperationsLine() string {
	return TemplateGetPendingOperations
}

// ExecutingLine builds `501,<code>`.
func ExecutingLine(code string) string {
	return fmt.Sprintf("%s,%s", TemplateOperationExecuting, code)
}

// SuccessfulLine builds `503,<code>[,<extra>]`.
func SuccessfulLine(code string, extra ...string) string {
	if len(extra) == 0 {
		return fmt.Sprintf("%s,%s", TemplateOperationSuccessful, code)
	}
	return fmt.Sprintf("%s,%s,%s", TemplateOperationSuccessful, code, strings.Join(extra, ","))
}

// FailedLine builds `502,<code>,"<reason>"`.
func FailedLine(code, reason string) string {
	return fmt.Sprintf(`%s,%s,"%s"`, TemplateOperationFailed, code, strings.ReplaceAll(reason, `"`, `""`))
}

// SoftwareModuleRequest is one module entry inside a 528 software update
// request.
type SoftwareModuleRequest struct {
	Type    string
	Name    string
	Version string
	URL     string
	Action  string // "install" or "remove"
}

// softwareUpdateActionNames maps the SmartREST 528 action keyword to the
// normalised action used throughout the rest of the module.
var softwareUpdateActionNames = map[string]string{
	"install": "install",
	"remove":  "remove",
	"delete":  "remove",
}

// ParseSoftwareUpdateRequest decodes a `528,<device>,<name>,<version>,
// <url>,<action>,...` line into a flat list of module requests. Cumulocity
// groups updates by software type with a `softwaretype::name` convention
// in the name field; the type defaults to "default" when absent.
func ParseSoftwareUpdateRequest(fields []string) ([]SoftwareModuleRequest, error) {
	// fields[0] is the device id/serial; the remainder comes in groups of 4.
	if len(fields) < 1 {
		return nil, &InvalidSmartRestError{TemplateID: TemplateSoftwareUpdateRequest, Reason: "missing device id"}
	}
	rest := fields[1:]
	if len(rest)%4 != 0 {
		return nil, &InvalidSmartRestError{
			TemplateID: TemplateSoftwareUpdateRequest,
			Reason:     fmt.Sprintf("malformed module list: %d fields is not a multiple of 4", len(rest)),
		}
	}

	count := len(rest) / 4
	modules := make([]SoftwareModuleRequest, 0, count)
	for i := 0; i < count; i++ {
		name := rest[i*4]
		version := rest[i*4+1]
		url := rest[i*4+2]
		rawAction := rest[i*4+3]

		action, ok := softwareUpdateActionNames[strings.ToLower(rawAction)]
		if !ok {
			return nil, &InvalidSmartRestError{
				TemplateID: TemplateSoftwareUpdateRequest,
				Reason:     fmt.Sprintf("unknown action %q for module %q", rawAction, name),
			}
		}

		softwareType := "default"
		moduleName := name
		if idx := strings.Index(name, "::"); idx >= 0 {
			softwareType = name[:idx]
			moduleName = name[idx+2:]
		}

		modules = append(modules, SoftwareModuleRequest{
			Type:    softwareType,
			Name:    moduleName,
			Version: version,
			URL:     url,
			Action:  action,
		})
	}
	return modules, nil
}

// ParseRestartRequest accepts any `510[,<device>]` line; no field is
// checked. Restart carries no further parameters of interest to the
// converter.
func ParseRestartRequest(fields []string) error {
	return nil
}
