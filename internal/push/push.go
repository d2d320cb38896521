// Package push isolates the mobile push provider behind a small Sender
// contract. The rest of the relay only hands over a device token (or many)
// plus a provider-neutral Notification; provider errors are logged here and
// surfaced as plain error values.
package push

import (
	"context"
	"errors"
)

// ErrDisabled is returned by the Disabled sender.
var ErrDisabled = errors.New("push delivery disabled")

// Notification is the provider-neutral push payload. Data values are already
// coerced to strings because providers require a homogeneous string map.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// MulticastResult is the outcome of SendToTokens. Stale lists the tokens the
// provider reported as no longer valid; transient failures are only counted
// in Failed.
type MulticastResult struct {
	Sent   int
	Failed int
	Stale  []string
}

// Sender delivers push notifications to device tokens.
type Sender interface {
	// SendToToken delivers n to one device.
	SendToToken(ctx context.Context, token string, n Notification) error
	// SendToTokens delivers n to many devices.
	SendToTokens(ctx context.Context, tokens []string, n Notification) (MulticastResult, error)
}

// Disabled is the Sender used when no provider credentials are configured.
// Every call fails with ErrDisabled and is counted as skipped.
type Disabled struct{}

func (Disabled) SendToToken(context.Context, string, Notification) error {
	observe(outcomeSkipped, 1)
	return ErrDisabled
}

func (Disabled) SendToTokens(_ context.Context, tokens []string, _ Notification) (MulticastResult, error) {
	observe(outcomeSkipped, len(tokens))
	return MulticastResult{}, ErrDisabled
}
