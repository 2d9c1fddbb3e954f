package adapters

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tidwall/sjson"
)

// MergeArgs overlays overrides on base attach arguments and returns the
// result as decoded JSON. Override keys are paths, so "connect.port"
// replaces a single field of a nested object and leaves its siblings.
func MergeArgs(base, overrides map[string]any) (map[string]any, error) {
	data := []byte("{}")
	if len(base) > 0 {
		var err error
		if data, err = json.Marshal(base); err != nil {
			return nil, fmt.Errorf("encode attach arguments: %w", err)
		}
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		var err error
		data, err = sjson.SetBytes(data, key, overrides[key])
		if err != nil {
			return nil, fmt.Errorf("attach argument %q: %w", key, err)
		}
	}

	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, fmt.Errorf("decode attach arguments: %w", err)
	}
	return merged, nil
}
