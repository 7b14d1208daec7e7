package db

import "github.com/bytedance/sonic"

// Codec serializes application values for SetObject/GetObject.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// SonicCodec encodes values as JSON with bytedance/sonic using the
// encoding/json compatible configuration (sorted map keys, HTML escaping),
// so stored bytes do not depend on map iteration order.
type SonicCodec struct{}

// Marshal implements Codec.
func (SonicCodec) Marshal(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

// Unmarshal implements Codec.
func (SonicCodec) Unmarshal(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}
