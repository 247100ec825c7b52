package codec

import "fmt"

// InvalidLocalJSONError is returned when a local-bus payload that was
// expected to be measurement/event JSON fails to parse, or parses but is
// shaped in a way the codec cannot translate (e.g. a non-numeric leaf).
type InvalidLocalJSONError struct {
	Reason string
}

func (e *InvalidLocalJSONError) Error() string {
	return fmt.Sprintf("invalid local JSON: %s", e.Reason)
}

// InvalidSmartRestError is returned when a SmartREST line cannot be read
// as CSV or is empty, or when a known template's parameters are
// ill-formed.
type InvalidSmartRestError struct {
	TemplateID string
	Reason     string
}

func (e *InvalidSmartRestError) Error() string {
	return fmt.Sprintf("invalid SmartREST %s: %s", e.TemplateID, e.Reason)
}

// UnknownOperationError is returned when a SmartREST template id is not a
// built-in (510/528) and is not present in the operation registry.
type UnknownOperationError struct {
	TemplateID string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation template id %q", e.TemplateID)
}

// SizeExceededError is returned by the size gate when a payload exceeds
// the configured threshold.
type SizeExceededError struct {
	Actual    int
	Threshold int
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("The input size %d is too big. The threshold is %d.", e.Actual, e.Threshold)
}

// UnsupportedTopicError is returned for local topics the converter has no
// routing rule for.
type UnsupportedTopicError struct {
	Topic string
}

func (e *UnsupportedTopicError) Error() string {
	return fmt.Sprintf("unsupported topic %q", e.Topic)
}
