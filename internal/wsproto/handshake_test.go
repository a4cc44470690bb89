package wsproto

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeAcceptsValidUpgrade(t *testing.T) {
	raw := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Origin: https://x\r\n\r\n"

	req, err := ParseHandshakeRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	key, err := req.Validate()
	require.NoError(t, err)
	require.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", key)

	resp := string(HandshakeResponse(key))
	require.Contains(t, resp, "101 Switching Protocols")
	require.Contains(t, resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
}

func TestHandshakeRejectsMissingUpgradeHeader(t *testing.T) {
	raw := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"

	req, err := ParseHandshakeRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	_, err = req.Validate()
	require.Error(t, err)
}

func TestHandshakeRejectsMissingOrigin(t *testing.T) {
	raw := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"

	req, err := ParseHandshakeRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	_, err = req.Validate()
	require.ErrorIs(t, err, ErrMissingOrigin)
}
