package mailer

import (
	"context"
	"errors"
	"fmt"
)

// Message is the one shape that crosses the provider boundary.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// Adapter sends one rendered message through the email provider. Exactly
// one outbound provider call per invocation; callers own retries.
type Adapter interface {
	Send(ctx context.Context, msg Message) (providerMsgID string, err error)
}

// ErrorKind splits provider failures into the two classes the retry policy
// cares about.
type ErrorKind string

const (
	// ErrTransient covers timeouts, throttling and 5xx-equivalents; worth
	// retrying.
	ErrTransient ErrorKind = "transient"
	// ErrPermanent covers rejected content and invalid recipients; retrying
	// cannot help.
	ErrPermanent ErrorKind = "permanent"
)

// SendError is a classified provider failure.
type SendError struct {
	Kind   ErrorKind
	Code   string // provider status or error code, for diagnostics
	Detail string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("provider send failed (%s, %s): %s", e.Kind, e.Code, e.Detail)
}

// Classify extracts the error kind from err. Unclassified errors (network
// faults, context timeouts) count as transient: when in doubt, retry.
// At-least-once tolerates a duplicate, not a loss.
func Classify(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrTransient
}
