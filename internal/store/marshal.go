package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalValue converts a stored value to JSON TEXT.
// HTML escaping is disabled so strings are stored as written.
func marshalValue(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal value %T: %w", v, err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalValue decodes JSON TEXT into dst.
func unmarshalValue(data string, dst any) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("unmarshal value into %T: %w", dst, err)
	}
	return nil
}
