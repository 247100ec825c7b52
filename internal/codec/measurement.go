package codec

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CloudMeasurementEnvelopeType is the fixed "type" field of a Cumulocity
// ThinEdgeMeasurement JSON document.
const CloudMeasurementEnvelopeType = "ThinEdgeMeasurement"

// MeasurementToCloudJSON converts a local-bus measurement payload (a flat
// or one-level-grouped JSON object of numeric leaves, plus an optional
// "time" field) into the cloud's ThinEdgeMeasurement envelope.
//
// Root form: {"temperature":21.5,"time":"..."} ->
//
//	{"type":"ThinEdgeMeasurement","time":"...","temperature":{"temperature":{"value":21.5}}}
//
// Grouped form: {"pressure":{"avg":100,"max":120}} ->
//
//	{"type":"ThinEdgeMeasurement","pressure":{"avg":{"value":100},"max":{"value":120}}}
//
// childID, if non-empty, embeds an externalSource block identifying the
// child device the measurement was published on behalf of.
func MeasurementToCloudJSON(payload []byte, childID string) ([]byte, error) {
	if !gjson.ValidBytes(payload) {
		return nil, &InvalidLocalJSONError{Reason: "payload is not valid JSON"}
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, &InvalidLocalJSONError{Reason: "payload is not a JSON object"}
	}

	out := fmt.Sprintf(`{"type":%q}`, CloudMeasurementEnvelopeType)
	var setErr error

	root.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if k == "time" {
			out, setErr = sjson.Set(out, "time", value.Value())
			return setErr == nil
		}

		if value.IsObject() {
			group := map[string]any{}
			var leafErr error
			value.ForEach(func(leafKey, leafValue gjson.Result) bool {
				if !leafValue.IsNumber() {
					leafErr = &InvalidLocalJSONError{
						Reason: fmt.Sprintf("leaf %q.%q is not numeric", k, leafKey.String()),
					}
					return false
				}
				group[leafKey.String()] = map[string]any{"value": leafValue.Num}
				return true
			})
			if leafErr != nil {
				setErr = leafErr
				return false
			}
			out, setErr = sjson.Set(out, k, group)
			return setErr == nil
		}

		if !value.IsNumber() {
			setErr = &InvalidLocalJSONError{Reason: fmt.Sprintf("leaf %q is not numeric", k)}
			return false
		}
		out, setErr = sjson.Set(out, k, map[string]any{k: map[string]any{"value": value.Num}})
		return setErr == nil
	})
	if setErr != nil {
		return nil, setErr
	}

	if childID != "" {
		out, setErr = sjson.Set(out, "externalSource.externalId", childID)
		if setErr != nil {
			return nil, setErr
		}
		out, setErr = sjson.Set(out, "externalSource.type", "c8y_Serial")
		if setErr != nil {
			return nil, setErr
		}
	}

	return []byte(out), nil
}
