// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mediator

import "context"

// Semaphore implements a counting semaphore for bounded concurrency.
//
// Thread Safety: Safe for concurrent use.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{ch: make(chan struct{}, capacity)}
}

// Acquire acquires a slot, blocking until one is available.
//
// Outputs:
//   - error: Non-nil if the context was cancelled while waiting.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a slot back to the semaphore.
// Must be called after a successful Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.ch:
	default:
		panic("semaphore: release without acquire")
	}
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}
