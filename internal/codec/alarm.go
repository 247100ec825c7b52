package codec

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// alarmTemplates maps a lower-cased alarm severity to the SmartREST
// template id used to create an alarm of that severity. Clearing an
// alarm (zero-length payload) always uses template 305 regardless of
// severity, matching Cumulocity's static-template set.
var alarmTemplates = map[string]string{
	"critical": "301",
	"major":    "302",
	"minor":    "303",
	"warning":  "304",
}

const alarmClearTemplate = "305"

// AlarmSeverityAndType splits a `local/alarms/<severity>/<type>` (or
// `internal/alarms/<severity>/<type>`) topic into its two trailing
// segments. The leading segment (local/internal) is ignored by callers
// that only need the reconciliation key.
func AlarmSeverityAndType(topic string) (severity, alarmType string, ok bool) {
	segs := strings.Split(topic, "/")
	if len(segs) != 4 {
		return "", "", false
	}
	return segs[2], segs[3], true
}

// AlarmToSmartRest converts a local alarm message to its outbound
// SmartREST line. A zero-length payload is a clear.
func AlarmToSmartRest(topic string, payload []byte) (string, error) {
	severity, alarmType, ok := AlarmSeverityAndType(topic)
	if !ok {
		return "", &InvalidLocalJSONError{Reason: fmt.Sprintf("malformed alarm topic %q", topic)}
	}

	if len(payload) == 0 {
		return fmt.Sprintf("%s,%s", alarmClearTemplate, alarmType), nil
	}

	templateID, ok := alarmTemplates[strings.ToLower(severity)]
	if !ok {
		return "", &InvalidLocalJSONError{Reason: fmt.Sprintf("unknown alarm severity %q", severity)}
	}

	if !gjson.ValidBytes(payload) {
		return "", &InvalidLocalJSONError{Reason: "alarm payload is not valid JSON"}
	}
	root := gjson.ParseBytes(payload)
	text := root.Get("text").String()
	time := root.Get("time").String()

	return fmt.Sprintf("%s,%s,%s,%s", templateID, alarmType, csvQuote(text), time), nil
}

// csvQuote wraps a field in double quotes if it contains a comma, quote,
// or newline, doubling any embedded quotes — the minimal CSV quoting
// SmartREST lines need for free-text fields.
func csvQuote(field string) string {
	if !strings.ContainsAny(field, ",\"\n") {
		return field
	}
	escaped := strings.ReplaceAll(field, `"`, `""`)
	return `"` + escaped + `"`
}
