// Package xjson is the single import site for JSON encoding on the streaming
// and persistence paths. It is backed by goccy/go-json.
package xjson

import (
	stdjson "encoding/json"

	gjson "github.com/goccy/go-json"
)

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage

func Marshal(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gjson.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return gjson.Valid(data)
}
