// Package jsonutil parses JSON documents written by external systems, which
// may carry a UTF-8 byte order mark or surrounding whitespace.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// previewLen bounds how much of a bad document is echoed in errors.
const previewLen = 200

// Clean strips a leading byte order mark and surrounding whitespace.
func Clean(data []byte) []byte {
	return bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
}

// Parse cleans data and unmarshals it into T. The error carries a truncated
// preview of the document for debugging.
func Parse[T any](data []byte) (T, error) {
	var result T
	text := Clean(data)
	if len(text) == 0 {
		return result, fmt.Errorf("empty JSON document")
	}
	if err := json.Unmarshal(text, &result); err != nil {
		var zero T
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(text))
	}
	return result, nil
}

// Preview returns at most the first 200 bytes of data.
func Preview(data []byte) string {
	if len(data) > previewLen {
		return string(data[:previewLen]) + "..."
	}
	return string(data)
}
