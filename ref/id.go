package ref

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// idPattern is the full reference id grammar: a cache name (letter
// first, then letters/digits/hyphen/underscore), a colon, and a hex
// hash of at least 8 characters. The hash segment being hex-only and
// the name segment being alnum-only keeps path separators and shell
// metacharacters out of anything later used as a storage key.
var idPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*:[0-9a-fA-F]{8,}$`)

// namePattern validates a cache name on its own.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// IsRefID reports whether s fully matches the reference id grammar.
func IsRefID(s string) bool {
	return idPattern.MatchString(s)
}

// ValidCacheName reports whether a cache name can appear in a
// reference id.
func ValidCacheName(name string) bool {
	return namePattern.MatchString(name)
}

// MintID derives the deterministic reference id for a value cached
// under the given cache name and key. The same cache name, key, and
// value content always yield the same id, making re-caching
// idempotent.
func MintID(cacheName, key string, value any) (string, error) {
	if !ValidCacheName(cacheName) {
		return "", fmt.Errorf("ref: invalid cache name %q", cacheName)
	}

	canonical, err := Canonicalize(value)
	if err != nil {
		return "", fmt.Errorf("ref: failed to canonicalize value: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write(canonical)
	sum := h.Sum(nil)

	return fmt.Sprintf("%s:%s", cacheName, hex.EncodeToString(sum[:8])), nil
}

// Canonicalize produces a deterministic JSON representation of a
// value. Maps are rendered with sorted keys so that iteration order
// never changes the bytes.
func Canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := Canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := Canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}
