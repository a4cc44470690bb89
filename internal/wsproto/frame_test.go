package wsproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcceptKeyRFC6455Vector(t *testing.T) {
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestFrameRoundTrip(t *testing.T) {
	lengths := []int{0, 125, 126, 65535, 65536, 1 << 20}
	opcodes := []Opcode{OpText, OpBinary}

	for _, fin := range []bool{true, false} {
		for _, opcode := range opcodes {
			for _, l := range lengths {
				payload := bytes.Repeat([]byte{0xAB}, l)
				original := Frame{Fin: fin, Opcode: opcode, MaskKey: []byte{1, 2, 3, 4}, Payload: payload}

				wire := original.Serialize()
				parsed, err := ParseFrame(bytes.NewReader(wire))
				require.NoError(t, err)

				require.Equal(t, original.Fin, parsed.Fin)
				require.Equal(t, original.Opcode, parsed.Opcode)
				require.Equal(t, original.Payload, parsed.Payload)
				require.Equal(t, original.MaskKey, parsed.MaskKey)
			}
		}
	}
}

func TestFrameRoundTripUnmasked(t *testing.T) {
	original := Frame{Fin: true, Opcode: OpBinary, Payload: []byte("server to client, never masked")}
	wire := original.Serialize()
	parsed, err := ParseFrame(bytes.NewReader(wire))
	require.NoError(t, err)
	require.Nil(t, parsed.MaskKey)
	require.Equal(t, original.Payload, parsed.Payload)
}

func TestControlFrameMustBeShortAndFinal(t *testing.T) {
	big := Frame{Fin: true, Opcode: OpClose, Payload: bytes.Repeat([]byte{0}, 200)}
	_, err := ParseFrame(bytes.NewReader(big.Serialize()))
	require.Error(t, err)
}
