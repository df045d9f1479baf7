// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the service. Callers match with
// errors.Is; typed errors below wrap these so both forms work.
var (
	// ErrRateLimited surfaces after internal retries against a
	// throttling remote are exhausted.
	ErrRateLimited = errors.New("rate limited by remote")

	// ErrRemoteUnavailable is returned while a circuit breaker is open;
	// no remote call was attempted.
	ErrRemoteUnavailable = errors.New("remote unavailable (circuit open)")

	// ErrInvalidState rejects operations against a transaction that
	// already reached a terminal state.
	ErrInvalidState = errors.New("transaction not pending")
)

// ValidationError reports a malformed or self-contradictory intent.
// Never retried; surfaced immediately.
type ValidationError struct {
	// IntentID is the offending intent, when known.
	IntentID string

	// Reason describes what is wrong.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.IntentID == "" {
		return "invalid intent: " + e.Reason
	}
	return fmt.Sprintf("invalid intent %s: %s", e.IntentID, e.Reason)
}

// ConflictError reports incompatible structural intents within one
// compile cycle. Scoped to a single resource; other resources'
// compilations proceed.
type ConflictError struct {
	// SpreadsheetID is the resource whose compilation aborted.
	SpreadsheetID string

	// IntentIDs are the conflicting intents.
	IntentIDs []string

	// Reason describes the incompatibility.
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting intents %v on %s: %s", e.IntentIDs, e.SpreadsheetID, e.Reason)
}

// RateLimitedError carries the retry budget state when throttling
// survives internal retries.
type RateLimitedError struct {
	// Category is the call category that was throttled.
	Category string

	// Attempts is how many times the call was tried.
	Attempts int

	// RetryAfter is the remote's suggested wait, if it supplied one.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("category %s rate limited after %d attempts", e.Category, e.Attempts)
}

// Unwrap returns ErrRateLimited for errors.Is support.
func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RemoteUnavailableError reports an open circuit for a call category.
type RemoteUnavailableError struct {
	// Category is the call category whose breaker is open.
	Category string

	// RetryAt is when the breaker will next admit a probe.
	RetryAt time.Time
}

// Error implements the error interface.
func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("category %s unavailable, next probe at %s",
		e.Category, e.RetryAt.Format(time.RFC3339))
}

// Unwrap returns ErrRemoteUnavailable for errors.Is support.
func (e *RemoteUnavailableError) Unwrap() error { return ErrRemoteUnavailable }

// TransactionAbortedError reports a commit that failed after partial
// application and was rolled back. The resource is back at its
// pre-transaction state.
type TransactionAbortedError struct {
	// TransactionID is the aborted transaction.
	TransactionID string

	// AppliedCalls is how many compiled calls succeeded before the
	// failure.
	AppliedCalls int

	// Cause is the dispatch error that triggered the abort.
	Cause error
}

// Error implements the error interface.
func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction %s aborted after %d applied calls: %v",
		e.TransactionID, e.AppliedCalls, e.Cause)
}

// Unwrap returns the dispatch error.
func (e *TransactionAbortedError) Unwrap() error { return e.Cause }

// TransactionFailedError is fatal: compensation itself failed. The
// snapshot id is included so external tooling can recover manually.
type TransactionFailedError struct {
	// TransactionID is the failed transaction.
	TransactionID string

	// SnapshotID is the pre-commit snapshot to restore from.
	SnapshotID string

	// Cause is the original dispatch error.
	Cause error

	// CompensationErr is the error from the failed restore.
	CompensationErr error

	// LastAppliedCall describes the last remote call that succeeded.
	LastAppliedCall string
}

// Error implements the error interface.
func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed and compensation failed (snapshot %s, last applied %q): dispatch: %v; compensation: %v",
		e.TransactionID, e.SnapshotID, e.LastAppliedCall, e.Cause, e.CompensationErr)
}

// Unwrap returns the original dispatch error.
func (e *TransactionFailedError) Unwrap() error { return e.Cause }
