package abr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

type fakeSession struct {
	bufS       float64
	maxBufferS float64
	nextVts    int64
	curFormat  mediaformat.VideoFormat
	hasCur     bool
}

func (s *fakeSession) VideoPlaybackBufferS() float64 { return s.bufS }
func (s *fakeSession) MaxBufferS() float64           { return s.maxBufferS }
func (s *fakeSession) NextVts() int64                { return s.nextVts }
func (s *fakeSession) CurrVideoFormat() (mediaformat.VideoFormat, bool) {
	return s.curFormat, s.hasCur
}

type fakeChannel struct {
	sizes     map[mediaformat.VideoFormat]int
	ssims     map[mediaformat.VideoFormat]float64
	duration  int64
	timescale int64
	frontier  int64
	hasReady  bool
}

func (c *fakeChannel) VideoFormats() []mediaformat.VideoFormat { return nil }
func (c *fakeChannel) AudioFormats() []mediaformat.AudioFormat { return nil }
func (c *fakeChannel) Timescale() int64                        { return c.timescale }
func (c *fakeChannel) VDuration() int64                        { return c.duration }
func (c *fakeChannel) VSizes(ts int64) map[mediaformat.VideoFormat]int {
	return c.sizes
}
func (c *fakeChannel) VSSIMs(ts int64) map[mediaformat.VideoFormat]float64 {
	return c.ssims
}
func (c *fakeChannel) ASizes(ts int64) map[mediaformat.AudioFormat]int { return nil }
func (c *fakeChannel) Vready(ts int64) bool                            { return true }
func (c *fakeChannel) VReadyFrontier(n int) (int64, bool)              { return c.frontier, c.hasReady }

func s4Formats() (map[mediaformat.VideoFormat]int, map[mediaformat.VideoFormat]float64, mediaformat.VideoFormat, mediaformat.VideoFormat, mediaformat.VideoFormat) {
	minF := mediaformat.VideoFormat{Width: 320, Height: 180, CRF: 30}
	midF := mediaformat.VideoFormat{Width: 640, Height: 360, CRF: 24}
	maxF := mediaformat.VideoFormat{Width: 1280, Height: 720, CRF: 18}
	sizes := map[mediaformat.VideoFormat]int{
		minF: 100_000,
		midF: 500_000,
		maxF: 1_000_000,
	}
	ssims := map[mediaformat.VideoFormat]float64{
		minF: 0.90,
		midF: 0.95,
		maxF: 0.97,
	}
	return sizes, ssims, minF, midF, maxF
}

func TestLinearBBABoundaryCases(t *testing.T) {
	sizes, ssims, minF, _, maxF := s4Formats()
	channel := &fakeChannel{sizes: sizes, ssims: ssims}
	lbba := NewLinearBBA(nil, 10)

	low := &fakeSession{bufS: 1, maxBufferS: 10}
	got, err := lbba.SelectVideoFormat(low, channel)
	require.NoError(t, err)
	require.Equal(t, minF, got)

	high := &fakeSession{bufS: 9, maxBufferS: 10}
	got, err = lbba.SelectVideoFormat(high, channel)
	require.NoError(t, err)
	require.Equal(t, maxF, got)
}

func TestLinearBBAMidrangeScenario(t *testing.T) {
	sizes, ssims, _, midF, _ := s4Formats()
	channel := &fakeChannel{sizes: sizes, ssims: ssims}
	lbba := NewLinearBBA(nil, 10)

	mid := &fakeSession{bufS: 5, maxBufferS: 10}
	got, err := lbba.SelectVideoFormat(mid, channel)
	require.NoError(t, err)
	require.Equal(t, midF, got)
}

func TestAudioSelectorPicksLargestUnderBudget(t *testing.T) {
	small := mediaformat.AudioFormat{KBps: 64}
	large := mediaformat.AudioFormat{KBps: 128}
	sizes := map[mediaformat.AudioFormat]int{small: 20_000, large: 40_000}

	sel := NewAudioSelector(10)
	sess := &audioFakeSession{bufS: 5}
	ch := &audioFakeChannel{sizes: sizes}

	got, err := sel.SelectAudioFormat(sess, ch)
	require.NoError(t, err)
	require.Equal(t, small, got)
}

type audioFakeSession struct{ bufS float64 }

func (s *audioFakeSession) AudioPlaybackBufferS() float64 { return s.bufS }
func (s *audioFakeSession) NextAts() int64                { return 0 }

type audioFakeChannel struct{ sizes map[mediaformat.AudioFormat]int }

func (c *audioFakeChannel) ASizes(ts int64) map[mediaformat.AudioFormat]int { return c.sizes }
