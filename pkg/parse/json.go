// Package parse turns unstructured remote output into typed records.
package parse

import (
	"encoding/json"
	"strings"

	"github.com/pershinghar/go-termux-relay/pkg/models"
)

// ExtractJSON recovers the JSON object embedded in noisy shell output: the
// span from the first '{' to the last '}' inclusive. Brace balance is not
// checked, so output with several objects or stray braces after the payload
// will not parse.
func ExtractJSON(raw string) (map[string]any, error) {
	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return nil, models.NewError(models.MalformedResponse, "extract json", "no valid JSON found in response")
	}
	end := strings.LastIndexByte(raw, '}')
	if end < start {
		return nil, models.NewError(models.MalformedResponse, "extract json", "no valid JSON found in response")
	}
	return decodeObject(raw[start : end+1])
}

// DecodeObject parses raw as exactly one JSON object.
func DecodeObject(raw string) (map[string]any, error) {
	return decodeObject(strings.TrimSpace(raw))
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, models.NewError(models.MalformedResponse, "parse json", "JSON parsing failed: %v", err)
	}
	if obj == nil {
		return nil, models.NewError(models.MalformedResponse, "parse json", "JSON parsing failed: not an object")
	}
	return obj, nil
}
