package abr

import (
	"sort"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

// BOLAVariant selects between the two BOLA-Basic utility functions.
type BOLAVariant int

const (
	// BOLAv1 uses SSIM-in-decibels as utility.
	BOLAv1 BOLAVariant = iota
	// BOLAv2 uses linear SSIM as utility.
	BOLAv2
)

const (
	bolaMinBufS   = 3.0
	bolaMinSSIMDB = 0.0
	bolaMaxSSIMDB = 60.0
)

// bolaLadderEntry is one compiled-in rung of BOLA's static size/SSIM
// ladder, independent of any live channel data.
type bolaLadderEntry struct {
	sizeBytes int
	ssim      float64
}

// defaultBOLALadder is a ten-rung, strictly size-increasing, non-decreasing
// SSIM ladder representative of a typical encode set. It is used only to
// derive V' and gamma'; actual dispatch always selects among the formats
// the channel reports as available for the requested timestamp.
var defaultBOLALadder = []bolaLadderEntry{
	{200_000, 0.82},
	{350_000, 0.87},
	{500_000, 0.90},
	{700_000, 0.92},
	{950_000, 0.935},
	{1_250_000, 0.948},
	{1_600_000, 0.958},
	{2_000_000, 0.967},
	{2_500_000, 0.975},
	{3_100_000, 0.982},
}

// BOLA is the BOLA-Basic selector.
type BOLA struct {
	variant    BOLAVariant
	maxBufferS float64
	vPrime     float64
	gammaPrime float64
}

// NewBOLA builds a BOLA-Basic selector for the given variant. The ladder
// is not configurable through opts; the only option honored is
// "min_buf_s", which overrides the 3-second minimum buffer used to derive
// V' and gamma'.
func NewBOLA(variant BOLAVariant, opts Options, maxBufferS float64) *BOLA {
	utility := func(ssim float64) float64 { return ssim }
	utilityHigh := utility(1)
	if variant == BOLAv1 {
		utility = func(ssim float64) float64 { return ssimDB(ssim, bolaMinSSIMDB, bolaMaxSSIMDB) }
		maxSSIM := defaultBOLALadder[len(defaultBOLALadder)-1].ssim
		utilityHigh = utility(maxSSIM)
	}

	size0, size1 := defaultBOLALadder[0].sizeBytes, defaultBOLALadder[1].sizeBytes
	u0, u1 := utility(defaultBOLALadder[0].ssim), utility(defaultBOLALadder[1].ssim)
	delta := float64(size1 - size0)

	minBufS := opts.getOr("min_buf_s", bolaMinBufS)

	gammaPrime := (maxBufferS*(float64(size1)*u0-float64(size0)*u1) - utilityHigh*minBufS*delta) /
		((minBufS - maxBufferS) * delta)
	vPrime := maxBufferS / (utilityHigh + gammaPrime)

	return &BOLA{
		variant:    variant,
		maxBufferS: maxBufferS,
		vPrime:     vPrime,
		gammaPrime: gammaPrime,
	}
}

func (b *BOLA) utility(ssim float64) float64 {
	if b.variant == BOLAv1 {
		return ssimDB(ssim, bolaMinSSIMDB, bolaMaxSSIMDB)
	}
	return ssim
}

func (b *BOLA) SelectVideoFormat(session SessionView, channel ChannelView) (mediaformat.VideoFormat, error) {
	vts := session.NextVts()
	sizes := channel.VSizes(vts)
	ssims := channel.VSSIMs(vts)
	if len(sizes) == 0 {
		return mediaformat.VideoFormat{}, errNoFormats
	}

	formats := make([]mediaformat.VideoFormat, 0, len(sizes))
	for f := range sizes {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i].Less(formats[j]) })

	duration := channel.VDuration()
	timescale := channel.Timescale()
	p := float64(duration) / float64(timescale)

	buf := session.VideoPlaybackBufferS()
	if buf < 0 {
		buf = 0
	}
	q := buf / p
	v := b.vPrime / p

	best := formats[0]
	bestObjective := -1.0
	haveBest := false
	for _, f := range formats {
		size := sizes[f]
		if size <= 0 {
			continue
		}
		u := b.utility(ssims[f])
		objective := (v*(u+b.gammaPrime) - q) / float64(size)
		if !haveBest || objective > bestObjective {
			best, bestObjective, haveBest = f, objective, true
		}
	}
	if !haveBest {
		return formats[0], nil
	}

	if b.variant == BOLAv1 {
		return best, nil
	}

	if bestObjective >= 0 {
		return best, nil
	}

	// v2 fallback: argmax(u + gamma') over available formats.
	fallback := formats[0]
	bestUG := -1.0
	haveFallback := false
	for _, f := range formats {
		ug := b.utility(ssims[f]) + b.gammaPrime
		if !haveFallback || ug > bestUG {
			fallback, bestUG, haveFallback = f, ug, true
		}
	}
	return fallback, nil
}

// VideoChunkAcked is a no-op: BOLA keeps no throughput history.
func (b *BOLA) VideoChunkAcked(Chunk) {}
