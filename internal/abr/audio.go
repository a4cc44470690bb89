package abr

import (
	"fmt"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

// AudioSelector is the fixed built-in audio BBA: identical shape to
// LinearBBA but with wider reservoirs and, lacking SSIM, picks the largest
// affordable size rather than the best-SSIM one.
type AudioSelector struct {
	lowerReservoir float64
	upperReservoir float64
	maxBufferS     float64
}

// NewAudioSelector builds the audio selector. It is not configurable by
// algorithm name.
func NewAudioSelector(maxBufferS float64) *AudioSelector {
	return &AudioSelector{
		lowerReservoir: 0.1,
		upperReservoir: 0.9,
		maxBufferS:     maxBufferS,
	}
}

// AudioSessionView is the subset of session state the audio selector needs.
type AudioSessionView interface {
	AudioPlaybackBufferS() float64
	NextAts() int64
}

// AudioChannelView is the subset of channel state the audio selector needs.
type AudioChannelView interface {
	ASizes(ts int64) map[mediaformat.AudioFormat]int
}

// SelectAudioFormat picks a format for session.NextAts().
func (a *AudioSelector) SelectAudioFormat(session AudioSessionView, channel AudioChannelView) (mediaformat.AudioFormat, error) {
	ats := session.NextAts()
	sizes := channel.ASizes(ats)
	if len(sizes) == 0 {
		return mediaformat.AudioFormat{}, errNoAudioFormats
	}

	minF, maxF, minSize, maxSize := smallestLargestAudio(sizes)

	buf := clamp(session.AudioPlaybackBufferS(), 0, a.maxBufferS)
	lower := a.lowerReservoir * a.maxBufferS
	upper := a.upperReservoir * a.maxBufferS

	switch {
	case buf <= lower:
		return minF, nil
	case buf >= upper:
		return maxF, nil
	}

	var maxServe float64
	if upper > lower {
		slope := float64(maxSize-minSize) / (upper - lower)
		maxServe = float64(minSize) + slope*(buf-lower)
	} else {
		maxServe = float64(maxSize)
	}

	return largestUnder(sizes, maxServe), nil
}

func smallestLargestAudio(sizes map[mediaformat.AudioFormat]int) (minF, maxF mediaformat.AudioFormat, minSize, maxSize int) {
	first := true
	for f, sz := range sizes {
		if first {
			minF, maxF, minSize, maxSize = f, f, sz, sz
			first = false
			continue
		}
		if sz < minSize {
			minF, minSize = f, sz
		}
		if sz > maxSize {
			maxF, maxSize = f, sz
		}
	}
	return
}

// largestUnder returns the largest-size format not exceeding budget, ties
// broken by the Less order for determinism.
func largestUnder(sizes map[mediaformat.AudioFormat]int, budget float64) mediaformat.AudioFormat {
	var best mediaformat.AudioFormat
	bestSize := -1
	haveBest := false
	for f, sz := range sizes {
		if float64(sz) > budget {
			continue
		}
		if !haveBest || sz > bestSize || (sz == bestSize && best.Less(f)) {
			best, bestSize, haveBest = f, sz, true
		}
	}
	if !haveBest {
		minF, _, _, _ := smallestLargestAudio(sizes)
		return minF
	}
	return best
}

var errNoAudioFormats = fmt.Errorf("no audio formats available for requested timestamp")
