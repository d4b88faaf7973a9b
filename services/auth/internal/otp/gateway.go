// Package otp sends and checks SMS one-time codes. No challenge state is kept
// locally; the provider owns the code lifecycle.
package otp

import (
	"context"
	"errors"
)

// ErrProviderUnavailable means the provider could not be reached or failed.
// It is never returned for a code that is simply wrong.
var ErrProviderUnavailable = errors.New("otp provider unavailable")

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	// StatusNotFound is reported when the provider has no live challenge for
	// the phone, typically because it expired or was already used.
	StatusNotFound = "not_found"
)

type CheckResult struct {
	Valid  bool
	Status string
}

type Gateway interface {
	Send(ctx context.Context, phone string) error
	Check(ctx context.Context, phone, code string) (CheckResult, error)
}
