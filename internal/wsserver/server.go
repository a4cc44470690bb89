// Package wsserver accepts WebSocket connections, runs the handshake and
// per-connection message loop on top of wsproto, and drives each bound
// session's dispatch tick. Session state is confined to the goroutine
// that owns its connection, so a session is never mutated concurrently;
// the Chunk Store it reads is shared across connections and guarded by
// its own lock instead.
package wsserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/StanfordSNR/puffer-sub000/internal/abr"
	"github.com/StanfordSNR/puffer-sub000/internal/channel"
	"github.com/StanfordSNR/puffer-sub000/internal/statusws"
)

// Options configures dispatch and resource limits shared by every
// connection the server accepts.
type Options struct {
	DefaultABR  string
	ABROptions  abr.Options
	ModelDir    string
	MaxBufferS  float64

	MTU               int           // max bytes per outbound Binary data frame
	SendHighWatermark int64         // defer new chunks above this many buffered bytes
	SendMax           int64         // clear buffer and close above this many
	IdleTimeout       time.Duration // graceful close if no client message arrives
	DispatchInterval  time.Duration // how often each connection's tick runs
	MaxVideoInFlight  int64         // in units of vduration chunks
	MaxAudioInFlight  int64         // in units of aduration chunks
}

// DefaultOptions returns sensible limits matching the scales the protocol
// and dispatch sections describe.
func DefaultOptions() Options {
	return Options{
		DefaultABR:        "linear_bba",
		MaxBufferS:        10,
		MTU:               1 << 20,
		SendHighWatermark: 1 << 20,
		SendMax:           4 << 20,
		IdleTimeout:       10 * time.Second,
		DispatchInterval:  50 * time.Millisecond,
		MaxVideoInFlight:  3,
		MaxAudioInFlight:  3,
	}
}

// Server accepts connections on a single listener and fans each one out to
// its own connection goroutine.
type Server struct {
	listener net.Listener
	registry *channel.Registry
	opts     Options
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}

	closing   bool
	startedAt time.Time
}

// New binds addr and returns a Server ready to Serve.
func New(addr string, registry *channel.Registry, opts Options, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind websocket listener on %s: %w", addr, err)
	}
	return &Server{
		listener: ln,
		registry: registry,
		opts:     opts,
		logger:    logger,
		conns:     make(map[*conn]struct{}),
		startedAt: time.Now(),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until the listener is closed by Shutdown. It
// returns nil on a clean shutdown, or the accept error otherwise.
func (s *Server) Serve() error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}
		c := newConn(nc, s.registry, s.opts, s.logger)
		s.register(c)
		go func() {
			c.run()
			s.unregister(c)
		}()
	}
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// Shutdown stops accepting new connections, tells every live connection
// the server is going into maintenance, and waits up to the context
// deadline for them to drain before forcing them closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	_ = s.listener.Close()

	for _, c := range conns {
		c.closeWithMaintenance()
	}

	done := make(chan struct{})
	go func() {
		for _, c := range conns {
			<-c.doneCh
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.forceClose()
		}
		return ctx.Err()
	}
}

// Snapshot implements statusws.Provider, summarizing every known channel
// and how many live connections are currently bound to it.
func (s *Server) Snapshot() statusws.Snapshot {
	s.mu.Lock()
	perChannel := make(map[string]int)
	total := 0
	for c := range s.conns {
		if name := c.boundChannel.Load(); name != nil {
			perChannel[*name]++
		}
		total++
	}
	s.mu.Unlock()

	names := s.registry.Names()
	channels := make([]statusws.ChannelStatus, 0, len(names))
	for _, name := range names {
		cs := statusws.ChannelStatus{Name: name, ActiveSessions: perChannel[name]}
		if ch, ok := s.registry.Get(name); ok {
			store := ch.Store()
			cs.VCleanFrontier = store.VCleanFrontier()
			cs.ACleanFrontier = store.ACleanFrontier()
		}
		channels = append(channels, cs)
	}

	return statusws.Snapshot{
		Channels:      channels,
		TotalSessions: total,
		UptimeS:       time.Since(s.startedAt).Seconds(),
	}
}
