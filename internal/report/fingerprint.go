// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package report

import "fmt"

// fingerprintStackLimit caps how much of the encoded stack trace
// contributes to the fingerprint hash, matching the 500-character cap
// in original_source's aivory_calculate_fingerprint.
const fingerprintStackLimit = 500

// Fingerprint computes the deterministic djb2-style hash
// original_source uses to group identical crashes: seed 5381, folded
// over every byte of exceptionType in full, then over at most the
// first fingerprintStackLimit bytes of encodedStack. The result is
// rendered as 16 lowercase hex digits, matching the C agent's
// "%016lx" format exactly so reports from either implementation
// fingerprint identically.
func Fingerprint(exceptionType, encodedStack string) string {
	var hash uint64 = 5381

	for i := 0; i < len(exceptionType); i++ {
		hash = (hash << 5) + hash + uint64(exceptionType[i])
	}

	limit := len(encodedStack)
	if limit > fingerprintStackLimit {
		limit = fingerprintStackLimit
	}
	for i := 0; i < limit; i++ {
		hash = (hash << 5) + hash + uint64(encodedStack[i])
	}

	return fmt.Sprintf("%016x", hash)
}
