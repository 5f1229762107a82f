package lazyjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// canonicalIndent keeps stored records diff-friendly.
const canonicalIndent = " "

// CanonicalJSON serializes v as UTF-8 JSON with stable key ordering,
// one-space indentation, and a trailing newline, so that record diffs stay
// review-friendly. Map keys are sorted by encoding/json; struct fields keep
// declaration order, which is stable per record shape.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetIndent("", canonicalIndent)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeRecord parses stored bytes into v, mapping malformed JSON to
// ErrCorruptRecord.
func DecodeRecord(key string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}

	return nil
}
