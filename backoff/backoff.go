// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backoff implements the retry policy used around external
// calls: jittered exponential delays, bounded attempts, cancellation
// observed while waiting.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

const (
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 2
	// DefaultBase is the first retry delay before jitter.
	DefaultBase = 250 * time.Millisecond
	// DefaultCap bounds the exponential growth.
	DefaultCap = 4 * time.Second
)

// Retry runs fn up to retries+1 times. Between attempts it sleeps an
// exponentially growing, jittered delay (half fixed, half random), never
// exceeding cap. Context cancellation aborts the wait and returns the
// context error.
func Retry(ctx context.Context, retries int, base, cap time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := base << (attempt - 1)
			if delay > cap {
				delay = cap
			}
			jittered := delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jittered):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		// A cancelled context is not transient; stop immediately.
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// RetryDefault applies the standard policy.
func RetryDefault(ctx context.Context, fn func(ctx context.Context) error) error {
	return Retry(ctx, DefaultRetries, DefaultBase, DefaultCap, fn)
}
