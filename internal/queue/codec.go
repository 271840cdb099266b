package queue

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// gzipMagic is the two-byte header every gzip stream starts with.
var gzipMagic = []byte{0x1f, 0x8b}

// Encode marshals a payload to JSON, optionally wrapping it in a gzip
// frame. Whether to compress is the producer's choice; consumers accept
// both forms.
func Encode(payload any, compress bool) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if !compress {
		return body, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode unmarshals a message body into target, transparently unwrapping
// a gzip frame when present.
func Decode(body []byte, target any) error {
	if bytes.HasPrefix(body, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("open gzip frame: %w", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
		body = raw
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
