// Package executor spawns registry-declared commands as detached child
// processes and reports their completion back as synthetic bus
// messages, so the converter's per-message routing never blocks on a
// child's exit.
package executor

import (
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/operations"
)

// completionPayload is the JSON body of a synthetic completion message.
type completionPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Executor spawns operation-registry commands and funnels their exit
// status back onto Completions().
type Executor struct {
	completions chan bus.Message
	log         *zap.Logger
}

// New builds an Executor. The completion channel buffers up to 64
// finished operations until the mapper loop drains them; a completion
// that arrives while the buffer is full is logged and dropped.
func New(log *zap.Logger) *Executor {
	return &Executor{
		completions: make(chan bus.Message, 64),
		log:         log,
	}
}

// Completions is the channel of synthetic bus messages the mapper loop
// must fold into its inbound stream alongside the real bus connection.
func (e *Executor) Completions() <-chan bus.Message {
	return e.completions
}

// Spawn starts op.Command as a detached child process with the raw
// SmartREST payload as its sole argument. It returns synchronously only
// the spawn failure, if any — a spawn failure lets the converter
// synthesise an immediate 502, while a successfully started child's
// outcome arrives later through Completions().
func (e *Executor) Spawn(op operations.Operation, payload []byte) error {
	if op.Command == "" {
		return fmt.Errorf("executor: operation %q has no command", op.Name)
	}

	cmd := exec.Command(op.Command, string(payload))
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("executor: spawn %q: %w", op.Name, err)
	}

	invocationID := uuid.NewString()
	if e.log != nil {
		e.log.Info("spawned operation command",
			zap.String("operation", op.Name), zap.String("invocation_id", invocationID), zap.Int("pid", cmd.Process.Pid))
	}

	go e.await(op, cmd, invocationID)
	return nil
}

func (e *Executor) await(op operations.Operation, cmd *exec.Cmd, invocationID string) {
	waitErr := cmd.Wait()

	result := completionPayload{Success: waitErr == nil}
	if waitErr != nil {
		result.Reason = waitErr.Error()
		if e.log != nil {
			e.log.Warn("operation command exited with error",
				zap.String("operation", op.Name), zap.String("invocation_id", invocationID), zap.Error(waitErr))
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		// Unreachable for this fixed-shape struct, but fall back to a
		// minimal payload rather than silently dropping the completion.
		payload = []byte(`{"success":false,"reason":"internal: failed to encode completion"}`)
	}

	msg := bus.New(operations.CompletionTopicPrefix+op.Name, string(payload))
	select {
	case e.completions <- msg:
	default:
		if e.log != nil {
			e.log.Error("completion channel full, dropping operation result",
				zap.String("operation", op.Name))
		}
	}
}
