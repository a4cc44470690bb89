package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MaxControlMessageBytes bounds the 2-byte length prefix:
// a control message's JSON body can never exceed a uint16.
const MaxControlMessageBytes = 65535

// Encode marshals v to JSON and prefixes it with its 2-byte big-endian
// length, ready to place in a single WebSocket Binary frame.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxControlMessageBytes {
		return nil, fmt.Errorf("control message too large: %d bytes", len(body))
	}
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	return out, nil
}

// SplitPrefixed reads the 2-byte big-endian length prefix from a decoded
// Binary frame payload and returns the JSON body plus any trailing bytes
// (there should be none for control frames, but callers decide).
func SplitPrefixed(payload []byte) (jsonBody, rest []byte, err error) {
	if len(payload) < 2 {
		return nil, nil, fmt.Errorf("frame too short for length prefix: %d bytes", len(payload))
	}
	n := int(binary.BigEndian.Uint16(payload))
	if len(payload) < 2+n {
		return nil, nil, fmt.Errorf("frame truncated: want %d body bytes, have %d", n, len(payload)-2)
	}
	return payload[2 : 2+n], payload[2+n:], nil
}
