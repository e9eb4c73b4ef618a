// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"golang.org/x/time/rate"
)

// defaultSendsPerSecond bounds outbound explicit-error sends during a
// storm, independent of the probabilistic sampling rate in
// internal/report: sampling decides whether an individual error is
// worth reporting at all, this limiter bounds the absolute rate at
// which accepted errors leave the process once volume spikes.
const defaultSendsPerSecond = 20

// defaultBurst allows a short burst above the steady rate before
// throttling kicks in.
const defaultBurst = 40

// sendLimiter wraps a token-bucket limiter for outbound exception sends.
// A rejected reservation never drops the record — callers fall back to
// pushing it onto the bounded queue, preserving the "never reject a
// push" invariant of spec.md §3.
type sendLimiter struct {
	limiter *rate.Limiter
}

// newSendLimiter builds a limiter at the given sustained rate (0 means
// "use the package default").
func newSendLimiter(perSecond float64) *sendLimiter {
	if perSecond <= 0 {
		perSecond = defaultSendsPerSecond
	}
	return &sendLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), defaultBurst)}
}

// Allow reports whether a send may proceed inline right now, consuming
// a token if so. It never blocks.
func (l *sendLimiter) Allow() bool {
	return l.limiter.Allow()
}
