// Package channel implements the per-channel live Chunk Store:
// a memory index from media timestamp to per-format mapped byte spans,
// populated by filesystem move-in events from an external encoding
// pipeline and aged out by a sliding clean-time window.
package channel

import (
	"fmt"
	"math"
	"sync"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
	"github.com/StanfordSNR/puffer-sub000/internal/mmapspan"
)

// chunkSpan pairs a mapped byte span with the Mapping that owns it, so the
// store can Unmap on eviction once the entry leaves the index.
type chunkSpan struct {
	span    mmapspan.Span
	mapping *mmapspan.Mapping
}

// ChunkStore is the live index for one channel. Ingest runs on the
// channel's watcher goroutine while ABR and dispatch reads run on each
// session's own goroutine, so access is serialized by mu rather than by
// confinement to a single thread.
type ChunkStore struct {
	mu sync.RWMutex

	cfg Config

	vdata map[int64]*videoEntry
	vkeys sortedInt64Set

	adata map[int64]*audioEntry
	akeys sortedInt64Set

	vinit map[mediaformat.VideoFormat]chunkSpan
	ainit map[mediaformat.AudioFormat]chunkSpan

	vclean *int64 // vclean_frontier
	aclean *int64 // aclean_frontier

	onIngestError func(path string, err error)
}

// NewChunkStore constructs an empty store for cfg. Population happens via
// Channel.IngestFile, called once per file during the startup scan and again for every
// watcher move-in event thereafter (§4.1: the two call sites share one
// idempotent ingest function).
func NewChunkStore(cfg Config, onIngestError func(path string, err error)) *ChunkStore {
	return &ChunkStore{
		cfg:           cfg,
		vdata:         make(map[int64]*videoEntry),
		adata:         make(map[int64]*audioEntry),
		vinit:         make(map[mediaformat.VideoFormat]chunkSpan),
		ainit:         make(map[mediaformat.AudioFormat]chunkSpan),
		onIngestError: onIngestError,
	}
}

func (s *ChunkStore) reportError(path string, err error) {
	if s.onIngestError != nil {
		s.onIngestError(path, err)
	}
}

// --- readiness ---

// Vready reports whether ts has every configured video format present in
// both vdata and vssim, and every format's init segment is loaded.
func (s *ChunkStore) Vready(ts int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vreadyLocked(ts)
}

// vreadyLocked is Vready's body, callable while mu is already held.
func (s *ChunkStore) vreadyLocked(ts int64) bool {
	e, ok := s.vdata[ts]
	if !ok {
		return false
	}
	if len(s.vinit) != len(s.cfg.VideoFormats) {
		return false
	}
	for _, vf := range s.cfg.VideoFormats {
		if _, ok := e.data[vf]; !ok {
			return false
		}
		if _, ok := e.ssim[vf]; !ok {
			return false
		}
	}
	return true
}

// Aready reports whether ts has every configured audio format present.
func (s *ChunkStore) Aready(ts int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.adata[ts]
	if !ok {
		return false
	}
	if len(s.ainit) != len(s.cfg.AudioFormats) {
		return false
	}
	for _, af := range s.cfg.AudioFormats {
		if _, ok := e.data[af]; !ok {
			return false
		}
	}
	return true
}

// --- reads ---

// VSizes returns the byte size of every available format for ts.
func (s *ChunkStore) VSizes(ts int64) map[mediaformat.VideoFormat]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vdata[ts]
	if !ok {
		return nil
	}
	out := make(map[mediaformat.VideoFormat]int, len(e.data))
	for vf, c := range e.data {
		out[vf] = c.span.Len()
	}
	return out
}

// VData returns the mapped bytes for (ts, vf), and whether present.
func (s *ChunkStore) VData(ts int64, vf mediaformat.VideoFormat) (mmapspan.Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vdata[ts]
	if !ok {
		return mmapspan.Span{}, false
	}
	c, ok := e.data[vf]
	return c.span, ok
}

// VSSIMs returns the SSIM value of every available format for ts.
func (s *ChunkStore) VSSIMs(ts int64) map[mediaformat.VideoFormat]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vdata[ts]
	if !ok {
		return nil
	}
	out := make(map[mediaformat.VideoFormat]float64, len(e.ssim))
	for vf, v := range e.ssim {
		out[vf] = v
	}
	return out
}

// VSSIM returns the SSIM value for (ts, vf), and whether present.
func (s *ChunkStore) VSSIM(ts int64, vf mediaformat.VideoFormat) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vdata[ts]
	if !ok {
		return 0, false
	}
	v, ok := e.ssim[vf]
	return v, ok
}

// ADataSizes returns the byte size of every available audio format for ts.
func (s *ChunkStore) ADataSizes(ts int64) map[mediaformat.AudioFormat]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.adata[ts]
	if !ok {
		return nil
	}
	out := make(map[mediaformat.AudioFormat]int, len(e.data))
	for af, c := range e.data {
		out[af] = c.span.Len()
	}
	return out
}

// AData returns the mapped bytes for (ts, af), and whether present.
func (s *ChunkStore) AData(ts int64, af mediaformat.AudioFormat) (mmapspan.Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.adata[ts]
	if !ok {
		return mmapspan.Span{}, false
	}
	c, ok := e.data[af]
	return c.span, ok
}

// VInit returns the init segment span for vf.
func (s *ChunkStore) VInit(vf mediaformat.VideoFormat) (mmapspan.Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.vinit[vf]
	return c.span, ok
}

// AInit returns the init segment span for af.
func (s *ChunkStore) AInit(af mediaformat.AudioFormat) (mmapspan.Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.ainit[af]
	return c.span, ok
}

// VCleanFrontier returns the current vclean_frontier, or nil if eviction
// has never run (no clean_time_window configured, or not enough data yet).
func (s *ChunkStore) VCleanFrontier() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vclean
}

// ACleanFrontier returns the current aclean_frontier.
func (s *ChunkStore) ACleanFrontier() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aclean
}

// VReadyFrontier returns the n-th most recent ready video ts (0 = newest),
// or false if fewer than n+1 such timestamps exist.
func (s *ChunkStore) VReadyFrontier(n int) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vReadyFrontierLocked(n)
}

// vReadyFrontierLocked is VReadyFrontier's body, callable while mu is
// already held.
func (s *ChunkStore) vReadyFrontierLocked(n int) (int64, bool) {
	count := 0
	for _, ts := range s.vkeys.Descending() {
		if s.vreadyLocked(ts) {
			if count == n {
				return ts, true
			}
			count++
		}
	}
	return 0, false
}

// InitVts resolves the starting vts for a newly-bound session: the fixed
// configured init_vts if set, else the ready frontier left with enough
// slack for maxPlaybackBufS seconds of lookahead.
func (s *ChunkStore) InitVts(maxPlaybackBufS float64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.InitVts != nil {
		return *s.cfg.InitVts, true
	}
	n := int(math.Ceil(maxPlaybackBufS*float64(s.cfg.Timescale)/float64(s.cfg.VideoDuration))) + 1
	return s.vReadyFrontierLocked(n)
}

// FindAts computes the audio timestamp aligned to (at or before) vts.
func (s *ChunkStore) FindAts(vts int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (vts / s.cfg.AudioDuration) * s.cfg.AudioDuration
}

// Config returns the channel's static config.
func (s *ChunkStore) Config() Config { return s.cfg }

// VideoFormats returns the channel's configured video format ladder.
func (s *ChunkStore) VideoFormats() []mediaformat.VideoFormat { return s.cfg.VideoFormats }

// AudioFormats returns the channel's configured audio format ladder.
func (s *ChunkStore) AudioFormats() []mediaformat.AudioFormat { return s.cfg.AudioFormats }

// Timescale returns ticks per second.
func (s *ChunkStore) Timescale() int64 { return s.cfg.Timescale }

// VDuration returns ticks per video chunk.
func (s *ChunkStore) VDuration() int64 { return s.cfg.VideoDuration }

// ADuration returns ticks per audio chunk.
func (s *ChunkStore) ADuration() int64 { return s.cfg.AudioDuration }

// ASizes returns the byte size of every available audio format for ts.
// Alias of ADataSizes to satisfy abr.ChannelView's naming.
func (s *ChunkStore) ASizes(ts int64) map[mediaformat.AudioFormat]int { return s.ADataSizes(ts) }

// --- ingest ---

// ingestVideoInit admits a loaded init segment for vf.
func (s *ChunkStore) ingestVideoInit(vf mediaformat.VideoFormat, span mmapspan.Span, m *mmapspan.Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.vinit[vf]; ok {
		_ = old.mapping.Unmap()
	}
	s.vinit[vf] = chunkSpan{span: span, mapping: m}
}

func (s *ChunkStore) ingestAudioInit(af mediaformat.AudioFormat, span mmapspan.Span, m *mmapspan.Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.ainit[af]; ok {
		_ = old.mapping.Unmap()
	}
	s.ainit[af] = chunkSpan{span: span, mapping: m}
}

// IngestVideo admits one video media chunk at (ts, vf), then evicts any
// data aged past the channel's clean_time_window.
func (s *ChunkStore) IngestVideo(ts int64, vf mediaformat.VideoFormat, span mmapspan.Span, m *mmapspan.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.VideoDuration > 0 && ts%s.cfg.VideoDuration != 0 {
		return fmt.Errorf("video ts %d is not a multiple of vduration %d", ts, s.cfg.VideoDuration)
	}
	e, ok := s.vdata[ts]
	if !ok {
		e = &videoEntry{data: make(map[mediaformat.VideoFormat]chunkSpan), ssim: make(map[mediaformat.VideoFormat]float64)}
		s.vdata[ts] = e
		s.vkeys.Insert(ts)
	}
	if old, exists := e.data[vf]; exists {
		_ = old.mapping.Unmap()
	}
	e.data[vf] = chunkSpan{span: span, mapping: m}
	s.munmapVideo(ts)
	return nil
}

// IngestVideoSSIM admits one SSIM scalar at (ts, vf).
func (s *ChunkStore) IngestVideoSSIM(ts int64, vf mediaformat.VideoFormat, ssim float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ssim < 0 || ssim >= 1 {
		return fmt.Errorf("ssim %f out of range [0,1) for ts=%d format=%s", ssim, ts, vf)
	}
	e, ok := s.vdata[ts]
	if !ok {
		e = &videoEntry{data: make(map[mediaformat.VideoFormat]chunkSpan), ssim: make(map[mediaformat.VideoFormat]float64)}
		s.vdata[ts] = e
		s.vkeys.Insert(ts)
	}
	e.ssim[vf] = ssim
	return nil
}

// IngestAudio admits one audio media chunk at (ts, af), then evicts aged
// data the same way IngestVideo does for video.
func (s *ChunkStore) IngestAudio(ts int64, af mediaformat.AudioFormat, span mmapspan.Span, m *mmapspan.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.AudioDuration > 0 && ts%s.cfg.AudioDuration != 0 {
		return fmt.Errorf("audio ts %d is not a multiple of aduration %d", ts, s.cfg.AudioDuration)
	}
	e, ok := s.adata[ts]
	if !ok {
		e = &audioEntry{data: make(map[mediaformat.AudioFormat]chunkSpan)}
		s.adata[ts] = e
		s.akeys.Insert(ts)
	}
	if old, exists := e.data[af]; exists {
		_ = old.mapping.Unmap()
	}
	e.data[af] = chunkSpan{span: span, mapping: m}
	s.munmapAudio(ts)
	return nil
}

// munmapVideo evicts video data older than clean_time_window, tracking the
// eviction frontier. latestTS is the ts that was just ingested, which the
// original implementation uses as the "now" for the sliding window.
func (s *ChunkStore) munmapVideo(latestTS int64) {
	if s.cfg.CleanTimeWindow == nil {
		return
	}
	window := *s.cfg.CleanTimeWindow
	if latestTS < window {
		return
	}
	obsolete := latestTS - window
	for _, ts := range s.vkeys.RemoveLessEqual(obsolete) {
		e := s.vdata[ts]
		for _, c := range e.data {
			_ = c.mapping.Unmap()
		}
		delete(s.vdata, ts)
	}
	if s.vclean == nil || obsolete > *s.vclean {
		s.vclean = &obsolete
	}
}

func (s *ChunkStore) munmapAudio(latestTS int64) {
	if s.cfg.CleanTimeWindow == nil {
		return
	}
	window := *s.cfg.CleanTimeWindow
	if latestTS < window {
		return
	}
	obsolete := latestTS - window
	for _, ts := range s.akeys.RemoveLessEqual(obsolete) {
		e := s.adata[ts]
		for _, c := range e.data {
			_ = c.mapping.Unmap()
		}
		delete(s.adata, ts)
	}
	if s.aclean == nil || obsolete > *s.aclean {
		s.aclean = &obsolete
	}
}
