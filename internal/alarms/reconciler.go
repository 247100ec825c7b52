// Package alarms implements a cross-restart alarm reconciler: a
// two-state machine (Syncing, Synced) that diffs the alarms the broker
// remembers as "currently raised" against the core's own retained
// mirror of what it last told the cloud, so that an alarm cleared while
// the core was down is still reported as cleared.
//
// This is modelled as a sum type (an unexported interface with two
// disjoint implementations) rather than a base struct with optional
// fields — there is no state in which both a Syncing map and "nothing
// to diff" make sense simultaneously, and a tagged union makes that
// invariant a compile-time property of which methods are reachable.
package alarms

import (
	"fmt"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
)

// reconcilerState is the sum-type tag. Only *syncingState and
// *syncedState implement it.
type reconcilerState interface {
	isReconcilerState()
}

type syncingState struct {
	pending map[string]bus.Message // key -> local/alarms/<key> message
	prior   map[string][]byte      // key -> internal/alarms/<key> payload
}

func (*syncingState) isReconcilerState() {}

type syncedState struct{}

func (*syncedState) isReconcilerState() {}

// Reconciler owns the current state and the transition between them.
// It is used from a single goroutine (the mapper loop) and needs no
// locking.
type Reconciler struct {
	state reconcilerState
}

// New returns a Reconciler starting in the Syncing state.
func New() *Reconciler {
	return &Reconciler{
		state: &syncingState{
			pending: map[string]bus.Message{},
			prior:   map[string][]byte{},
		},
	}
}

// HandleLocal processes a `local/alarms/<severity>/<type>` message.
//
// In Syncing, the message is stored and no output is produced yet. In
// Synced, it converts immediately: a SmartREST line on cloud/out plus a
// retained mirror with byte-identical payload on internal/alarms/<key>.
func (r *Reconciler) HandleLocal(msg bus.Message) ([]bus.Message, error) {
	switch st := r.state.(type) {
	case *syncingState:
		key, ok := alarmKey(msg.Topic)
		if !ok {
			return nil, fmt.Errorf("alarms: malformed topic %q", msg.Topic)
		}
		st.pending[key] = msg
		return nil, nil
	case *syncedState:
		return convertSyncedAlarm(msg)
	default:
		panic("alarms: unreachable reconciler state")
	}
}

// HandleInternal processes an `internal/alarms/<severity>/<type>`
// message: informational during Syncing (recorded into `prior`),
// ignored once Synced.
func (r *Reconciler) HandleInternal(msg bus.Message) error {
	st, ok := r.state.(*syncingState)
	if !ok {
		return nil
	}
	key, ok := alarmKey(msg.Topic)
	if !ok {
		return fmt.Errorf("alarms: malformed topic %q", msg.Topic)
	}
	st.prior[key] = msg.Payload
	return nil
}

// Flush performs the one-shot sync diff and transitions the reconciler
// to Synced. It must be called exactly once, by the mapper loop, after
// the bounded sync window closes; calling it again is a no-op
// returning nil (the pending/prior maps have already been released).
//
// The returned messages are the *raw* local/alarms messages implied by
// the diff (synthetic retained-empty clears, and pending alarms that
// differ from what the cloud was last told). The converter is expected
// to feed each one back through the (now Synced) reconciler via
// HandleLocal to obtain the final cloud/out + internal/alarms outputs;
// see converter.Converter.SyncMessages.
func (r *Reconciler) Flush() []bus.Message {
	st, ok := r.state.(*syncingState)
	if !ok {
		return nil
	}

	var out []bus.Message

	for key, priorPayload := range st.prior {
		if _, present := st.pending[key]; !present {
			out = append(out, bus.Message{
				Topic:   "local/alarms/" + key,
				Payload: nil,
				Retain:  true,
			}.Retained())
			_ = priorPayload // only its absence from pending matters here
		}
	}

	for key, msg := range st.pending {
		if priorPayload, present := st.prior[key]; present && string(priorPayload) == string(msg.Payload) {
			continue // already processed before restart, drop
		}
		out = append(out, msg)
	}

	r.state = &syncedState{}
	return out
}

func convertSyncedAlarm(msg bus.Message) ([]bus.Message, error) {
	key, ok := alarmKey(msg.Topic)
	if !ok {
		return nil, fmt.Errorf("alarms: malformed topic %q", msg.Topic)
	}

	line, err := codec.AlarmToSmartRest(msg.Topic, msg.Payload)
	if err != nil {
		return nil, err
	}

	return []bus.Message{
		bus.New("cloud/out", line),
		{Topic: "internal/alarms/" + key, Payload: msg.Payload, Retain: true},
	}, nil
}

func alarmKey(topic string) (string, bool) {
	severity, alarmType, ok := codec.AlarmSeverityAndType(topic)
	if !ok {
		return "", false
	}
	return severity + "/" + alarmType, true
}
