package store

import (
	"context"
	"encoding/json"
)

// ConfigNS is the namespace for graph tunables.
const ConfigNS = "graph"

// ConfigInt reads an integer tunable, falling back to def when the key is
// missing, unreadable, or not a number. Configuration problems are never
// fatal to a turn.
func ConfigInt(ctx context.Context, s GraphStore, key string, def int) int {
	raw, ok, err := s.GetConfig(ctx, ConfigNS, key)
	if err != nil || !ok {
		return def
	}
	var v float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return def
	}
	return int(v)
}

// ConfigFloat reads a float tunable with the same fallback behavior as ConfigInt.
func ConfigFloat(ctx context.Context, s GraphStore, key string, def float64) float64 {
	raw, ok, err := s.GetConfig(ctx, ConfigNS, key)
	if err != nil || !ok {
		return def
	}
	var v float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return def
	}
	return v
}

// ConfigBool reads a boolean tunable with the same fallback behavior as ConfigInt.
func ConfigBool(ctx context.Context, s GraphStore, key string, def bool) bool {
	raw, ok, err := s.GetConfig(ctx, ConfigNS, key)
	if err != nil || !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return def
	}
	return v
}

// ConfigFloatMap reads a string-to-float map tunable (e.g. ranking weights).
// Missing entries in the stored value keep their defaults.
func ConfigFloatMap(ctx context.Context, s GraphStore, key string, def map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(def))
	for k, v := range def {
		out[k] = v
	}
	raw, ok, err := s.GetConfig(ctx, ConfigNS, key)
	if err != nil || !ok {
		return out
	}
	var v map[string]float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return out
	}
	for k, val := range v {
		out[k] = val
	}
	return out
}
