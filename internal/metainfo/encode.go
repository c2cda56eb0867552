package metainfo

import (
	"errors"
	"fmt"

	"github.com/zeebo/bencode"
)

// Encode returns the canonical bencoding of v, dictionary keys sorted.
func Encode(v Value) ([]byte, error) {
	if v == nil {
		return nil, errors.New("bencode: cannot encode nil value")
	}

	data, err := bencode.EncodeBytes(plain(v))
	if err != nil {
		return nil, fmt.Errorf("failed to encode bencode value: %w", err)
	}
	return data, nil
}

// plain lowers v into the builtin types the bencode encoder understands.
func plain(v Value) interface{} {
	switch t := v.(type) {
	case Integer:
		return int64(t)
	case Bytes:
		return string(t)
	case List:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	case Dict:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = plain(item)
		}
		return out
	}
	return nil
}
