package codec

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const eventTemplate = "400"

// EventType extracts the trailing segment of a `local/events/<type>`
// topic.
func EventType(topic string) (eventType string, ok bool) {
	segs := strings.Split(topic, "/")
	if len(segs) != 3 {
		return "", false
	}
	return segs[2], true
}

// EventToSmartRest converts a local event message to the fixed
// `400,<type>,<text>,<time>` SmartREST line.
func EventToSmartRest(topic string, payload []byte) (string, error) {
	eventType, ok := EventType(topic)
	if !ok {
		return "", &InvalidLocalJSONError{Reason: fmt.Sprintf("malformed event topic %q", topic)}
	}
	if !gjson.ValidBytes(payload) {
		return "", &InvalidLocalJSONError{Reason: "event payload is not valid JSON"}
	}
	root := gjson.ParseBytes(payload)
	text := root.Get("text").String()
	time := root.Get("time").String()

	return fmt.Sprintf("%s,%s,%s,%s", eventTemplate, eventType, csvQuote(text), time), nil
}
