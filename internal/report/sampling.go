// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package report

import "math/rand"

// ShouldSample decides whether an explicit error capture should be
// reported, mirroring aivory_should_sample's three-way rule: a rate at
// or above 1.0 always accepts, a rate at or below 0.0 always rejects,
// and anything in between is a uniform coin flip against rate.
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return rand.Float64() < rate
}
