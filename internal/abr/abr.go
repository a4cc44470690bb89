// Package abr implements the pluggable adaptive-bitrate selectors: each
// consumes a snapshot of session and channel state and returns the next
// video quality. Puffer-family variants share a DP base and differ only
// in how they estimate a sending-time distribution, composition over
// inheritance
package abr

import (
	"fmt"
	"math"
	"time"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

// TCPInfo is a session-local snapshot of transport statistics sampled at
// send time.
type TCPInfo struct {
	CongestionWindow int
	InFlightPackets  int
	MinRTT           time.Duration
	RTT              time.Duration
	DeliveryRate     float64 // bytes/sec
}

// Chunk describes one acknowledged video chunk, passed to VideoChunkAcked
//.
type Chunk struct {
	Format    mediaformat.VideoFormat
	SSIM      float64
	Size      int
	TransTime time.Duration
	TCPInfo   TCPInfo
}

// ChannelView is the read-only channel surface an ABR algorithm may
// consult. It never exposes mutation; the Chunk Store itself implements
// it.
type ChannelView interface {
	VideoFormats() []mediaformat.VideoFormat
	AudioFormats() []mediaformat.AudioFormat
	Timescale() int64
	VDuration() int64
	VSizes(ts int64) map[mediaformat.VideoFormat]int
	VSSIMs(ts int64) map[mediaformat.VideoFormat]float64
	ASizes(ts int64) map[mediaformat.AudioFormat]int
	Vready(ts int64) bool
	VReadyFrontier(n int) (int64, bool)
}

// SessionView is the read-only session surface an ABR algorithm may
// consult.
type SessionView interface {
	VideoPlaybackBufferS() float64
	MaxBufferS() float64
	NextVts() int64
	CurrVideoFormat() (mediaformat.VideoFormat, bool)
}

// VideoSelector is the shared ABR contract.
type VideoSelector interface {
	// SelectVideoFormat returns the format to serve for session.NextVts().
	SelectVideoFormat(session SessionView, channel ChannelView) (mediaformat.VideoFormat, error)
	// VideoChunkAcked records an acknowledged chunk for algorithms that
	// keep throughput history (MPC, Puffer). Algorithms without history
	// (LinearBBA, BOLA) implement it as a no-op.
	VideoChunkAcked(c Chunk)
}

var errNoFormats = fmt.Errorf("no video formats available for requested timestamp")

// Options is the per-algorithm configuration map.
type Options map[string]float64

func (o Options) getOr(key string, def float64) float64 {
	if v, ok := o[key]; ok {
		return v
	}
	return def
}

// New instantiates a named ABR algorithm, matched case-sensitively.
// modelDir is required only for "puffer_ttp"; it is ignored otherwise.
func New(name string, opts Options, maxBufferS float64, modelDir string) (VideoSelector, error) {
	switch name {
	case "linear_bba":
		return NewLinearBBA(opts, maxBufferS), nil
	case "bola_basic_v1":
		return NewBOLA(BOLAv1, opts, maxBufferS), nil
	case "bola_basic_v2":
		return NewBOLA(BOLAv2, opts, maxBufferS), nil
	case "mpc":
		return NewMPC(opts, maxBufferS), nil
	case "puffer_raw":
		return NewPuffer(rawEstimator{opts: opts}, opts, maxBufferS), nil
	case "puffer_ttp":
		if modelDir == "" {
			return nil, fmt.Errorf("puffer_ttp requires a model_dir option with no default")
		}
		est, err := newTTPEstimator(modelDir)
		if err != nil {
			return nil, fmt.Errorf("load puffer_ttp model: %w", err)
		}
		return NewPuffer(est, opts, maxBufferS), nil
	default:
		return nil, fmt.Errorf("unknown abr algorithm %q", name)
	}
}

// ssimDB converts a linear SSIM in [0,1) to decibels, clamped to
// [minDB, maxDB] (GLOSSARY: ssim_db).
func ssimDB(ssim, minDB, maxDB float64) float64 {
	db := -10 * math.Log10(1-ssim)
	if db < minDB {
		return minDB
	}
	if db > maxDB {
		return maxDB
	}
	return db
}
