package wsserver

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/StanfordSNR/puffer-sub000/internal/channel"
	"github.com/StanfordSNR/puffer-sub000/internal/protocol"
	"github.com/StanfordSNR/puffer-sub000/internal/session"
	"github.com/StanfordSNR/puffer-sub000/internal/wsproto"
)

// conn owns one client connection end to end: the handshake, the read
// loop, the outbound frame queue, and the dispatch ticker for its bound
// session. Everything that touches sess runs on this connection's
// goroutines only.
type conn struct {
	id       string
	nc       net.Conn
	br       *bufio.Reader
	logger   *slog.Logger
	registry *channel.Registry
	opts     Options

	sess *session.Session

	// boundChannel mirrors sess's bound channel name for statusws, which
	// reads it from outside conn's own goroutines.
	boundChannel atomic.Pointer[string]

	writeCh chan []byte
	pending atomic.Int64

	doneCh    chan struct{}
	closeOnce sync.Once
}

func newConn(nc net.Conn, registry *channel.Registry, opts Options, logger *slog.Logger) *conn {
	return &conn{
		nc:       nc,
		br:       bufio.NewReader(nc),
		logger:   logger,
		registry: registry,
		opts:     opts,
		sess:     session.New(opts.MaxBufferS),
		writeCh:  make(chan []byte, 256),
		doneCh:   make(chan struct{}),
	}
}

func (c *conn) run() {
	defer c.closeOnce.Do(func() {
		_ = c.nc.Close()
		close(c.doneCh)
	})

	req, err := wsproto.ParseHandshakeRequest(c.br)
	if err != nil {
		c.logger.Debug("handshake read failed", "error", err)
		return
	}
	key, err := req.Validate()
	if err != nil {
		status := []byte("HTTP/1.1 400 Bad Request\r\n\r\n")
		if errors.Is(err, wsproto.ErrMissingOrigin) {
			status = []byte("HTTP/1.1 403 Forbidden\r\n\r\n")
		}
		_, _ = c.nc.Write(status)
		c.logger.Debug("handshake rejected", "error", err)
		return
	}
	if _, err := c.nc.Write(wsproto.HandshakeResponse(key)); err != nil {
		return
	}
	c.id = c.sess.ConnectionID()
	c.logger = c.logger.With("conn", c.id)

	go c.writeLoop()
	go c.dispatchLoop()

	c.readLoop()
}

func (c *conn) writeLoop() {
	for {
		select {
		case b := <-c.writeCh:
			c.pending.Add(-int64(len(b)))
			if _, err := c.nc.Write(b); err != nil {
				c.forceClose()
				return
			}
		case <-c.doneCh:
			return
		}
	}
}

// enqueue appends b to the send buffer, tracked for backpressure.
// Returns false if the connection's send buffer is already full and the
// caller should treat this as resource exhaustion.
func (c *conn) enqueue(b []byte) bool {
	if c.pending.Load() > c.opts.SendMax {
		return false
	}
	c.pending.Add(int64(len(b)))
	select {
	case c.writeCh <- b:
		return true
	case <-c.doneCh:
		return false
	}
}

func (c *conn) readLoop() {
	var (
		msgBuf    []byte
		msgOpcode wsproto.Opcode
		inMessage bool
	)
	for {
		frame, err := wsproto.ParseFrame(c.br)
		if err != nil {
			return
		}
		switch frame.Opcode {
		case wsproto.OpPing:
			c.enqueue(wsproto.Frame{Fin: true, Opcode: wsproto.OpPong, Payload: frame.Payload}.Serialize())
		case wsproto.OpPong:
			// no-op
		case wsproto.OpClose:
			c.enqueue(wsproto.Frame{Fin: true, Opcode: wsproto.OpClose}.Serialize())
			return
		case wsproto.OpContinuation:
			if !inMessage {
				return // protocol error: continuation with nothing open
			}
			msgBuf = append(msgBuf, frame.Payload...)
			if frame.Fin {
				c.handleMessage(msgOpcode, msgBuf)
				msgBuf, inMessage = nil, false
			}
		case wsproto.OpText, wsproto.OpBinary:
			if frame.Fin {
				c.handleMessage(frame.Opcode, frame.Payload)
			} else {
				msgOpcode, msgBuf, inMessage = frame.Opcode, append([]byte{}, frame.Payload...), true
			}
		default:
			return
		}
	}
}

func (c *conn) handleMessage(opcode wsproto.Opcode, payload []byte) {
	if opcode != wsproto.OpBinary {
		return
	}
	body, _, err := protocol.SplitPrefixed(payload)
	if err != nil {
		c.logger.Warn("malformed control frame", "error", err)
		c.enqueue(wsproto.Frame{Fin: true, Opcode: wsproto.OpClose}.Serialize())
		return
	}
	msg, err := protocol.DecodeClientMessage(body)
	if err != nil {
		c.logger.Warn("unrecognized client message", "error", err)
		return
	}
	c.sess.Touch()

	switch m := msg.(type) {
	case *protocol.ClientInit:
		c.handleClientInit(m)
	case *protocol.ClientInfo:
		c.sess.OnClientInfo(m.Event, m.VideoBufferS, m.AudioBufferS, m.CumulativeRebufS, m.ScreenW, m.ScreenH)
	case *protocol.ClientVidAck:
		c.sess.VideoChunkAcked(m.Timestamp, m.ByteOffset, m.ByteLength, m.TotalByteLength, m.SSIM, int(m.ByteLength))
	case *protocol.ClientAudAck:
		c.sess.AudioChunkAcked(m.Timestamp, m.ByteOffset, m.ByteLength, m.TotalByteLength)
	}
}

func (c *conn) handleClientInit(m *protocol.ClientInit) {
	ch, ok := c.registry.Get(m.Channel)
	if !ok {
		c.sendError(protocol.ErrorUnknownChannel)
		return
	}

	abrName := m.ABR
	if abrName == "" {
		abrName = c.opts.DefaultABR
	}

	canResume, err := c.sess.Bind(ch, abrName, c.opts.ABROptions, m.NextVts)
	if err != nil {
		c.logger.Warn("bind failed", "channel", m.Channel, "error", err)
		c.sendError(protocol.ErrorReinit)
		return
	}

	c.boundChannel.Store(&m.Channel)

	c.enqueueJSON(&protocol.ServerInit{
		Type:               "server-init",
		InitVideoTimestamp: c.sess.NextVts(),
		InitAudioTimestamp: c.sess.NextAts(),
		CanResume:          canResume,
	})
}

func (c *conn) sendError(reason protocol.ErrorReason) {
	c.enqueueJSON(&protocol.ServerError{Type: "server-error", Reason: reason})
	c.enqueue(wsproto.Frame{Fin: true, Opcode: wsproto.OpClose}.Serialize())
}

func (c *conn) enqueueJSON(v any) {
	body, err := protocol.Encode(v)
	if err != nil {
		c.logger.Error("encode control message", "error", err)
		return
	}
	c.enqueue(wsproto.Frame{Fin: true, Opcode: wsproto.OpBinary, Payload: body}.Serialize())
}

func (c *conn) dispatchLoop() {
	ticker := time.NewTicker(c.opts.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.doneCh:
			return
		}
	}
}

func (c *conn) tick() {
	if time.Since(c.sess.LastMsgRecvTs()) > c.opts.IdleTimeout {
		c.closeWithMaintenance()
		return
	}
	if c.pending.Load() > c.opts.SendMax {
		c.forceClose()
		return
	}
	if c.pending.Load() > c.opts.SendHighWatermark {
		return
	}

	tcpInfo := sampleTCPInfo(c.nc)

	if dec, ok, err := c.sess.TryDispatchVideo(c.opts.MaxVideoInFlight, tcpInfo); err != nil {
		c.logger.Warn("abr video selection failed", "error", err)
		c.closeWithMaintenance()
		return
	} else if ok {
		c.sendMedia("server-video", dec.Format.String(), dec.Timestamp, dec.Init, dec.Data, true)
	}

	if dec, ok, err := c.sess.TryDispatchAudio(c.opts.MaxAudioInFlight); err != nil {
		c.logger.Warn("audio selection failed", "error", err)
		c.closeWithMaintenance()
		return
	} else if ok {
		c.sendMedia("server-audio", dec.Format.String(), dec.Timestamp, dec.Init, dec.Data, false)
	}
}

func (c *conn) sendMedia(msgType, format string, timestamp int64, init, data []byte, isVideo bool) {
	total := int64(len(init) + len(data))
	if isVideo {
		c.enqueueJSON(&protocol.ServerVideo{
			Type:            msgType,
			Timestamp:       timestamp,
			Format:          format,
			ByteOffset:      0,
			TotalByteLength: total,
		})
	} else {
		c.enqueueJSON(&protocol.ServerAudio{
			Type:            msgType,
			Timestamp:       timestamp,
			Format:          format,
			ByteOffset:      0,
			TotalByteLength: total,
		})
	}

	combined := make([]byte, 0, total)
	combined = append(combined, init...)
	combined = append(combined, data...)

	for offset := 0; offset < len(combined); offset += c.opts.MTU {
		end := offset + c.opts.MTU
		if end > len(combined) {
			end = len(combined)
		}
		c.enqueue(wsproto.Frame{Fin: true, Opcode: wsproto.OpBinary, Payload: combined[offset:end]}.Serialize())
	}
}

// closeWithMaintenance enqueues a Maintenance server-error and a Close
// frame, then lets writeLoop drain naturally.
func (c *conn) closeWithMaintenance() {
	c.enqueueJSON(&protocol.ServerError{Type: "server-error", Reason: protocol.ErrorMaintenance})
	c.enqueue(wsproto.Frame{Fin: true, Opcode: wsproto.OpClose}.Serialize())
}

// forceClose drops the connection immediately, discarding any buffered
// output (resource exhaustion / shutdown deadline).
func (c *conn) forceClose() {
	c.closeOnce.Do(func() {
		_ = c.nc.Close()
		close(c.doneCh)
	})
}
