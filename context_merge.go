// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package agent

import "encoding/json"

// mergeJSONObjects folds a sequence of JSON object bodies into one,
// later entries overwriting earlier ones on key collision. Malformed
// entries are skipped rather than failing the capture.
func mergeJSONObjects(objects []string) string {
	merged := map[string]interface{}{}

	for _, obj := range objects {
		if obj == "" {
			continue
		}
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(obj), &fields); err != nil {
			continue
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	if len(merged) == 0 {
		return ""
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return ""
	}
	return string(encoded)
}
