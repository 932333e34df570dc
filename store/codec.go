package store

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Codec serializes object bodies.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec stores bodies as JSON.
type JSONCodec struct {
	// UseNumber decodes numbers into json.Number instead of float64 when the
	// target is an interface, keeping integer attributes indexable.
	UseNumber bool
}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (c JSONCodec) Unmarshal(data []byte, v any) error {
	if !c.UseNumber {
		return json.Unmarshal(data, v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// YAMLCodec stores bodies as YAML.
type YAMLCodec struct{}

func (YAMLCodec) Marshal(v any) ([]byte, error) { return yaml.Marshal(v) }

func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
