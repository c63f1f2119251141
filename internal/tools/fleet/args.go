package fleet

import (
	"fmt"

	"github.com/jaakkos/agentshq/internal/domain"
)

// requireString extracts a non-empty string from args by key.
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// optionalInt extracts a positive integer from args by key, returning the
// fallback if missing, not a number or not positive.
func optionalInt(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok && v >= 1 {
		return int(v)
	}
	return fallback
}

// optionalField maps one tool argument onto a patch field: a missing key
// stays absent, an explicit null clears, a string sets.
func optionalField(args map[string]any, key string) domain.Optional[string] {
	v, exists := args[key]
	if !exists {
		return domain.Optional[string]{}
	}
	if v == nil {
		return domain.Null[string]()
	}
	if s, ok := v.(string); ok {
		return domain.Some(s)
	}
	return domain.Optional[string]{}
}
