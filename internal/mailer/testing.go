package mailer

import (
	"context"
	"fmt"
	"sync"
)

// RecordingAdapter is an in-memory Adapter for tests: it records every
// message and can be programmed to fail.
type RecordingAdapter struct {
	mu   sync.Mutex
	sent []Message

	// FailWith, when non-nil, is returned for the next FailCount sends
	// (or forever if FailCount is 0).
	FailWith  error
	FailCount int

	// Script, when non-empty, overrides FailWith: each send consumes one
	// entry, where nil means success and anything else is returned as-is.
	Script []error
}

func (a *RecordingAdapter) Send(_ context.Context, msg Message) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Script) > 0 {
		err := a.Script[0]
		a.Script = a.Script[1:]
		if err != nil {
			return "", err
		}
		a.sent = append(a.sent, msg)
		return fmt.Sprintf("msg-%d", len(a.sent)), nil
	}
	if a.FailWith != nil {
		if a.FailCount == 0 {
			return "", a.FailWith
		}
		a.FailCount--
		err := a.FailWith
		if a.FailCount == 0 {
			a.FailWith = nil
		}
		return "", err
	}
	a.sent = append(a.sent, msg)
	return fmt.Sprintf("msg-%d", len(a.sent)), nil
}

// Sent returns a copy of the recorded messages.
func (a *RecordingAdapter) Sent() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.sent))
	copy(out, a.sent)
	return out
}
