// Package session implements per-client session state and dispatch
// logic: channel binding, resume resolution, ABR selection, and the
// per-tick send decision.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/StanfordSNR/puffer-sub000/internal/abr"
	"github.com/StanfordSNR/puffer-sub000/internal/channel"
	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

// Session is one client connection's state.
type Session struct {
	connectionID  string
	abrName       string
	lastMsgRecvTs time.Time

	channel   *channel.Channel
	videoSel  abr.VideoSelector
	audioSel  *abr.AudioSelector

	nextVts       int64
	nextAts       int64
	clientNextVts int64
	clientNextAts int64

	currVFormat    mediaformat.VideoFormat
	hasCurrVFormat bool
	currAFormat    mediaformat.AudioFormat
	hasCurrAFormat bool

	videoPlaybackBufS float64
	audioPlaybackBufS float64
	cumulativeRebufS  float64
	startupDelayS     float64
	sessionStart      time.Time

	screenWidth  int
	screenHeight int

	lastVideoSendTs time.Time
	lastTCPInfo     abr.TCPInfo

	sentVideoInit map[mediaformat.VideoFormat]bool
	sentAudioInit map[mediaformat.AudioFormat]bool

	maxBufferS float64
}

// New creates an unbound session.
func New(maxBufferS float64) *Session {
	return &Session{
		connectionID:  uuid.NewString(),
		lastMsgRecvTs: time.Now(),
		sessionStart:  time.Now(),
		maxBufferS:    maxBufferS,
		sentVideoInit: make(map[mediaformat.VideoFormat]bool),
		sentAudioInit: make(map[mediaformat.AudioFormat]bool),
	}
}

// Accessors satisfying abr.SessionView / abr.AudioSessionView and exposing
// session state to the wsserver layer.
func (s *Session) ConnectionID() string           { return s.connectionID }
func (s *Session) ABRName() string                { return s.abrName }
func (s *Session) VideoPlaybackBufferS() float64  { return s.videoPlaybackBufS }
func (s *Session) AudioPlaybackBufferS() float64  { return s.audioPlaybackBufS }
func (s *Session) MaxBufferS() float64            { return s.maxBufferS }
func (s *Session) NextVts() int64                 { return s.nextVts }
func (s *Session) NextAts() int64                 { return s.nextAts }
func (s *Session) ClientNextVts() int64           { return s.clientNextVts }
func (s *Session) ClientNextAts() int64           { return s.clientNextAts }
func (s *Session) CumulativeRebufS() float64      { return s.cumulativeRebufS }
func (s *Session) LastMsgRecvTs() time.Time       { return s.lastMsgRecvTs }
func (s *Session) Channel() *channel.Channel      { return s.channel }

func (s *Session) CurrVideoFormat() (mediaformat.VideoFormat, bool) {
	return s.currVFormat, s.hasCurrVFormat
}

func (s *Session) CurrAudioFormat() (mediaformat.AudioFormat, bool) {
	return s.currAFormat, s.hasCurrAFormat
}

// VideoInFlight returns next_vts - client_next_vts.
func (s *Session) VideoInFlight() int64 {
	return s.nextVts - s.clientNextVts
}

// Touch records that a message was just received from the client, for
// idle-timeout tracking.
func (s *Session) Touch() { s.lastMsgRecvTs = time.Now() }

// abrChannelView adapts a Chunk Store to abr.ChannelView.
type abrChannelView struct{ store *channel.ChunkStore }

func (v abrChannelView) VideoFormats() []mediaformat.VideoFormat { return v.store.VideoFormats() }
func (v abrChannelView) AudioFormats() []mediaformat.AudioFormat { return v.store.AudioFormats() }
func (v abrChannelView) Timescale() int64                        { return v.store.Timescale() }
func (v abrChannelView) VDuration() int64                        { return v.store.VDuration() }
func (v abrChannelView) VSizes(ts int64) map[mediaformat.VideoFormat]int {
	return v.store.VSizes(ts)
}
func (v abrChannelView) VSSIMs(ts int64) map[mediaformat.VideoFormat]float64 {
	return v.store.VSSIMs(ts)
}
func (v abrChannelView) ASizes(ts int64) map[mediaformat.AudioFormat]int { return v.store.ASizes(ts) }
func (v abrChannelView) Vready(ts int64) bool                           { return v.store.Vready(ts) }
func (v abrChannelView) VReadyFrontier(n int) (int64, bool)             { return v.store.VReadyFrontier(n) }

type audioChannelView struct{ store *channel.ChunkStore }

func (a audioChannelView) ASizes(ts int64) map[mediaformat.AudioFormat]int { return a.store.ASizes(ts) }

// Bind implements client-init: resolve a starting vts (resuming if
// possible), instantiate the ABR algorithm, and prime both
// next/client_next cursors. Returns whether the session resumed.
func (s *Session) Bind(ch *channel.Channel, abrName string, opts abr.Options, resumeVts *int64) (canResume bool, err error) {
	store := ch.Store()
	cfg := ch.Config()

	vts, resumed, err := resolveStartVts(store, cfg, s.maxBufferS, resumeVts)
	if err != nil {
		return false, err
	}
	ats := store.FindAts(vts)

	videoSel, err := abr.New(abrName, opts, s.maxBufferS, "")
	if err != nil {
		return false, fmt.Errorf("bind channel %s: %w", cfg.Name, err)
	}

	s.channel = ch
	s.abrName = abrName
	s.videoSel = videoSel
	s.audioSel = abr.NewAudioSelector(s.maxBufferS)
	s.nextVts, s.clientNextVts = vts, vts
	s.nextAts, s.clientNextAts = ats, ats
	s.hasCurrVFormat = false
	s.hasCurrAFormat = false
	s.sentVideoInit = make(map[mediaformat.VideoFormat]bool)
	s.sentAudioInit = make(map[mediaformat.AudioFormat]bool)

	return resumed, nil
}

func resolveStartVts(store *channel.ChunkStore, cfg channel.Config, maxBufferS float64, resumeVts *int64) (vts int64, canResume bool, err error) {
	if resumeVts != nil {
		vclean := store.VCleanFrontier()
		if store.Vready(*resumeVts) && (vclean == nil || *resumeVts >= *vclean) {
			return *resumeVts, true, nil
		}
	}
	vts, ok := store.InitVts(maxBufferS)
	if !ok {
		return 0, false, fmt.Errorf("channel %s not ready to serve a new session yet", cfg.Name)
	}
	return vts, false, nil
}

// OnClientInfo applies a client-info update: playback buffers,
// cumulative rebuffer, and lifecycle events. event == "startup" records
// startup delay relative to session start.
func (s *Session) OnClientInfo(event string, videoBufS, audioBufS, cumulativeRebufS float64, screenW, screenH int) {
	s.videoPlaybackBufS = videoBufS
	s.audioPlaybackBufS = audioBufS
	s.cumulativeRebufS = cumulativeRebufS
	if screenW > 0 {
		s.screenWidth = screenW
	}
	if screenH > 0 {
		s.screenHeight = screenH
	}
	if event == "startup" {
		s.startupDelayS = time.Since(s.sessionStart).Seconds()
	}
}

// VideoChunkAcked processes a client-vidack: advances client_next_vts
// when the chunk's final byte arrived and feeds the ABR's throughput
// history.
func (s *Session) VideoChunkAcked(timestamp, byteOffset, byteLength, totalByteLength int64, ssim float64, size int) {
	if byteOffset+byteLength == totalByteLength {
		s.clientNextVts = timestamp + s.channel.Store().VDuration()
	}
	if s.videoSel != nil {
		s.videoSel.VideoChunkAcked(abr.Chunk{
			Format:    s.currVFormat,
			SSIM:      ssim,
			Size:      size,
			TransTime: time.Since(s.lastVideoSendTs),
			TCPInfo:   s.lastTCPInfo,
		})
	}
}

// AudioChunkAcked processes a client-audack.
func (s *Session) AudioChunkAcked(timestamp, byteOffset, byteLength, totalByteLength int64) {
	if byteOffset+byteLength == totalByteLength {
		s.clientNextAts = timestamp + s.channel.Store().ADuration()
	}
}

// VideoDispatchDecision is what one dispatch tick decided to send for
// video.
type VideoDispatchDecision struct {
	Format    mediaformat.VideoFormat
	Timestamp int64
	NeedInit  bool
	Init      []byte
	Data      []byte
}

// TryDispatchVideo attempts one video send decision for this tick. ok is
// false when nothing is ready to send; callers are responsible for
// checking backpressure before calling this.
func (s *Session) TryDispatchVideo(maxVideoInFlight int64, sampledTCP abr.TCPInfo) (VideoDispatchDecision, bool, error) {
	if s.channel == nil {
		return VideoDispatchDecision{}, false, nil
	}
	store := s.channel.Store()
	if s.VideoInFlight() >= maxVideoInFlight*store.VDuration() {
		return VideoDispatchDecision{}, false, nil
	}
	if !store.Vready(s.nextVts) {
		return VideoDispatchDecision{}, false, nil
	}

	s.lastTCPInfo = sampledTCP
	vf, err := s.videoSel.SelectVideoFormat(s, abrChannelView{store: store})
	if err != nil {
		return VideoDispatchDecision{}, false, err
	}

	data, ok := store.VData(s.nextVts, vf)
	if !ok {
		return VideoDispatchDecision{}, false, fmt.Errorf("video data missing for ready ts %d format %s", s.nextVts, vf)
	}

	needInit := !s.sentVideoInit[vf]
	var initBytes []byte
	if needInit {
		initSpan, ok := store.VInit(vf)
		if !ok {
			return VideoDispatchDecision{}, false, fmt.Errorf("video init missing for format %s", vf)
		}
		initBytes = initSpan.Bytes()
		s.sentVideoInit[vf] = true
	}

	decision := VideoDispatchDecision{
		Format:    vf,
		Timestamp: s.nextVts,
		NeedInit:  needInit,
		Init:      initBytes,
		Data:      data.Bytes(),
	}

	s.currVFormat, s.hasCurrVFormat = vf, true
	s.nextVts += store.VDuration()
	s.lastVideoSendTs = time.Now()
	return decision, true, nil
}

// AudioDispatchDecision mirrors VideoDispatchDecision for audio.
type AudioDispatchDecision struct {
	Format    mediaformat.AudioFormat
	Timestamp int64
	NeedInit  bool
	Init      []byte
	Data      []byte
}

// TryDispatchAudio mirrors TryDispatchVideo using the fixed audio BBA
// selector.
func (s *Session) TryDispatchAudio(maxAudioInFlight int64) (AudioDispatchDecision, bool, error) {
	if s.channel == nil {
		return AudioDispatchDecision{}, false, nil
	}
	store := s.channel.Store()
	if s.nextAts-s.clientNextAts >= maxAudioInFlight*store.ADuration() {
		return AudioDispatchDecision{}, false, nil
	}
	if !store.Aready(s.nextAts) {
		return AudioDispatchDecision{}, false, nil
	}

	af, err := s.audioSel.SelectAudioFormat(s, audioChannelView{store: store})
	if err != nil {
		return AudioDispatchDecision{}, false, err
	}

	data, ok := store.AData(s.nextAts, af)
	if !ok {
		return AudioDispatchDecision{}, false, fmt.Errorf("audio data missing for ready ts %d format %s", s.nextAts, af)
	}

	needInit := !s.sentAudioInit[af]
	var initBytes []byte
	if needInit {
		initSpan, ok := store.AInit(af)
		if !ok {
			return AudioDispatchDecision{}, false, fmt.Errorf("audio init missing for format %s", af)
		}
		initBytes = initSpan.Bytes()
		s.sentAudioInit[af] = true
	}

	decision := AudioDispatchDecision{
		Format:    af,
		Timestamp: s.nextAts,
		NeedInit:  needInit,
		Init:      initBytes,
		Data:      data.Bytes(),
	}

	s.currAFormat, s.hasCurrAFormat = af, true
	s.nextAts += store.ADuration()
	return decision, true, nil
}
