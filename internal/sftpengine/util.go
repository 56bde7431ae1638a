package sftpengine

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// parseOctalMode parses a permissions string like "755" or "0755".
func parseOctalMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("not an octal mode: %w", err)
	}
	return os.FileMode(v), nil
}

// marshalFlat merges base's keys with body's fields (body may be a struct,
// map, or nil) into one flat JSON object. Used so SFTP_SUCCESS headers read
// as {sessionId, operationId, <op-specific fields>} rather than nesting the
// operation-specific payload under its own key.
func marshalFlat(base map[string]any, body any) ([]byte, error) {
	out := make(map[string]any, len(base)+4)
	for k, v := range base {
		out[k] = v
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		var extra map[string]any
		if err := json.Unmarshal(raw, &extra); err != nil {
			// body wasn't an object (e.g. a scalar) — keep it under "data".
			out["data"] = body
		} else {
			for k, v := range extra {
				out[k] = v
			}
		}
	}
	return json.Marshal(out)
}
