// Package jsonutil decodes loosely typed JSON produced by language models.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexibleString decodes a JSON string, number or boolean into a string.
// Models asked for "2 weeks" sometimes answer 14 or true.
type FlexibleString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexibleString) UnmarshalJSON(data []byte) error {
	*s = FlexibleString(FlexibleStringValue(data))
	return nil
}

// String returns the decoded value.
func (s FlexibleString) String() string {
	return string(s)
}

// FlexibleStringValue converts raw JSON to a string. Null and empty input give
// "". Objects and arrays are returned as their raw JSON text.
func FlexibleStringValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Integers are formatted from their literal so large values keep precision.
	if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return strconv.FormatFloat(numVal, 'g', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}
