package storage

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// keyPart escapes a value embedded in a '#'-delimited DynamoDB key so that
// ids or roles containing '#' cannot collide with another key.
func keyPart(s string) string {
	return url.PathEscape(s)
}

// decodeJSONMeta decodes a stored meta document keeping integers exact.
func decodeJSONMeta(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	return normalizeNumbers(meta), nil
}

// normalizeNumbers replaces textual numbers produced by a UseNumber decoder
// with int64 when the value is integral and fits, and float64 otherwise.
func normalizeNumbers(meta map[string]any) map[string]any {
	for k, v := range meta {
		meta[k] = normalizeValue(v)
	}
	return meta
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		return parseNumber(string(t))
	case attributevalue.Number:
		return parseNumber(string(t))
	case map[string]any:
		return normalizeNumbers(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}

func parseNumber(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
