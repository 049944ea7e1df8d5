// Package codec is the binary wire boundary: MessagePack in both directions.
// Decode failures are reported as errors and converted to a drop at the call
// site; nothing in the gateway retries a malformed payload.
package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes a record for the bus.
func Encode(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return data, nil
}

// Decode deserializes a bus payload into out.
func Decode(data []byte, out interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("msgpack decode: empty payload")
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}
