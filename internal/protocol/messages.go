// Package protocol defines the JSON control messages exchanged between
// player and server and their length-prefixed framing on top
// of a WebSocket Binary frame.
package protocol

import "encoding/json"

// ClientInit is sent once, immediately after the handshake, to bind a
// session to a channel and optionally resume.
type ClientInit struct {
	Type       string `json:"type"`
	Channel    string `json:"channel"`
	NextVts    *int64 `json:"nextVts,omitempty"`
	NextAts    *int64 `json:"nextAts,omitempty"`
	ScreenW    int    `json:"screenWidth,omitempty"`
	ScreenH    int    `json:"screenHeight,omitempty"`
	ABR        string `json:"abr,omitempty"`
}

// ClientInfo reports player-observed state: playback buffers, rebuffer
// events, and lifecycle events such as "play"/"pause"/"startup".
type ClientInfo struct {
	Type             string  `json:"type"`
	Event            string  `json:"event,omitempty"`
	VideoBufferS     float64 `json:"videoBufferLength"`
	AudioBufferS     float64 `json:"audioBufferLength"`
	CumulativeRebufS float64 `json:"cumulativeRebufferTime"`
	ScreenW          int     `json:"screenWidth,omitempty"`
	ScreenH          int     `json:"screenHeight,omitempty"`
}

// ClientVidAck / ClientAudAck acknowledge one chunk's data frames as they
// accumulate; the session treats the chunk as delivered once
// byteOffset+byteLength == totalByteLength.
type ClientVidAck struct {
	Type            string  `json:"type"`
	Timestamp       int64   `json:"timestamp"`
	ByteOffset      int64   `json:"byteOffset"`
	ByteLength      int64   `json:"byteLength"`
	TotalByteLength int64   `json:"totalByteLength"`
	SSIM            float64 `json:"ssim"`
}

type ClientAudAck struct {
	Type            string `json:"type"`
	Timestamp       int64  `json:"timestamp"`
	ByteOffset      int64  `json:"byteOffset"`
	ByteLength      int64  `json:"byteLength"`
	TotalByteLength int64  `json:"totalByteLength"`
}

// ServerInit answers ClientInit.
type ServerInit struct {
	Type               string `json:"type"`
	InitVideoTimestamp int64  `json:"initVideoTimestamp"`
	InitAudioTimestamp int64  `json:"initAudioTimestamp"`
	CanResume          bool   `json:"canResume"`
}

// ServerVideo / ServerAudio precede the raw media Binary frames for one
// chunk; byteOffset lets the client reassemble and ack partial delivery.
type ServerVideo struct {
	Type            string `json:"type"`
	Timestamp       int64  `json:"timestamp"`
	Format          string `json:"format"`
	SSIM            float64 `json:"ssim,omitempty"`
	ByteOffset      int64  `json:"byteOffset"`
	TotalByteLength int64  `json:"totalByteLength"`
}

type ServerAudio struct {
	Type            string `json:"type"`
	Timestamp       int64  `json:"timestamp"`
	Format          string `json:"format"`
	ByteOffset      int64  `json:"byteOffset"`
	TotalByteLength int64  `json:"totalByteLength"`
}

// ErrorReason enumerates server-error causes.
type ErrorReason string

const (
	ErrorUnknownChannel ErrorReason = "UnknownChannel"
	ErrorReinit         ErrorReason = "Reinit"
	ErrorMaintenance    ErrorReason = "Maintenance"
)

// ServerError notifies the client of a fatal session condition just before
// the connection is closed.
type ServerError struct {
	Type   string      `json:"type"`
	Reason ErrorReason `json:"reason"`
}

// messageType peeks at a decoded message's "type" discriminator, which is
// how the server dispatches control messages.
type messageType struct {
	Type string `json:"type"`
}

// DecodeClientMessage sniffs the "type" field and unmarshals into the
// matching Go struct, returned as `any`.
func DecodeClientMessage(data []byte) (any, error) {
	var mt messageType
	if err := json.Unmarshal(data, &mt); err != nil {
		return nil, err
	}
	switch mt.Type {
	case "client-init":
		var m ClientInit
		return &m, json.Unmarshal(data, &m)
	case "client-info":
		var m ClientInfo
		return &m, json.Unmarshal(data, &m)
	case "client-vidack":
		var m ClientVidAck
		return &m, json.Unmarshal(data, &m)
	case "client-audack":
		var m ClientAudAck
		return &m, json.Unmarshal(data, &m)
	default:
		return nil, &UnknownMessageTypeError{Type: mt.Type}
	}
}

// UnknownMessageTypeError is a protocol error.
type UnknownMessageTypeError struct {
	Type string
}

func (e *UnknownMessageTypeError) Error() string {
	return "unknown client message type: " + e.Type
}
