package abr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

func bolaTestFormats() (map[mediaformat.VideoFormat]int, map[mediaformat.VideoFormat]float64, mediaformat.VideoFormat) {
	formats := make(map[mediaformat.VideoFormat]int)
	ssims := make(map[mediaformat.VideoFormat]float64)
	var smallest mediaformat.VideoFormat
	for i, entry := range defaultBOLALadder {
		f := mediaformat.VideoFormat{Width: 100 + i, Height: 100, CRF: i}
		formats[f] = entry.sizeBytes
		ssims[f] = entry.ssim
		if i == 0 {
			smallest = f
		}
	}
	return formats, ssims, smallest
}

func TestBOLASmallestAtEmptyBuffer(t *testing.T) {
	sizes, ssims, smallest := bolaTestFormats()
	channel := &fakeChannel{sizes: sizes, ssims: ssims, duration: 1, timescale: 1}

	for _, variant := range []BOLAVariant{BOLAv1, BOLAv2} {
		bola := NewBOLA(variant, nil, 10)
		sess := &fakeSession{bufS: 0, maxBufferS: 10}
		got, err := bola.SelectVideoFormat(sess, channel)
		require.NoError(t, err)
		require.Equal(t, smallest, got, "variant %v", variant)
	}
}

func TestBOLAv2FallbackWhenObjectiveNegative(t *testing.T) {
	sizes, ssims, _ := bolaTestFormats()
	channel := &fakeChannel{sizes: sizes, ssims: ssims, duration: 1, timescale: 1}
	bola := NewBOLA(BOLAv2, nil, 10)

	// A buffer deep enough that some format's objective goes negative
	// still must satisfy property 9: negative objective(f*) implies the
	// fallback argmax(u+gamma') is returned, not f* itself.
	sess := &fakeSession{bufS: 10, maxBufferS: 10}
	got, err := bola.SelectVideoFormat(sess, channel)
	require.NoError(t, err)

	formats, _, _, err := mpcLookaheadTables(channel, 0, 1, 1)
	require.NoError(t, err)
	bestObjective := -1.0
	var bestF mediaformat.VideoFormat
	haveBest := false
	buf := sess.VideoPlaybackBufferS()
	q := buf / 1.0
	v := bola.vPrime / 1.0
	for _, f := range formats {
		u := bola.utility(ssims[f])
		obj := (v*(u+bola.gammaPrime) - q) / float64(sizes[f])
		if !haveBest || obj > bestObjective {
			bestF, bestObjective, haveBest = f, obj, true
		}
	}

	if bestObjective >= 0 {
		require.Equal(t, bestF, got)
	} else {
		bestUG := -1.0
		var fallback mediaformat.VideoFormat
		haveFallback := false
		for _, f := range formats {
			ug := bola.utility(ssims[f]) + bola.gammaPrime
			if !haveFallback || ug > bestUG {
				fallback, bestUG, haveFallback = f, ug, true
			}
		}
		require.Equal(t, fallback, got)
	}
}
