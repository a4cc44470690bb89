package abr

import "github.com/StanfordSNR/puffer-sub000/internal/mediaformat"

// LinearBBA is a buffer-based selector: below the lower
// reservoir it serves the smallest format, above the upper reservoir the
// largest, and in between it linearly interpolates an affordable byte
// budget and serves the best-SSIM format under that budget.
type LinearBBA struct {
	lowerReservoir float64
	upperReservoir float64
	maxBufferS     float64
}

// NewLinearBBA builds a LinearBBA selector. opts may override
// "lower_reservoir" and "upper_reservoir" (fractions of maxBufferS).
func NewLinearBBA(opts Options, maxBufferS float64) *LinearBBA {
	return &LinearBBA{
		lowerReservoir: opts.getOr("lower_reservoir", 0.2),
		upperReservoir: opts.getOr("upper_reservoir", 0.8),
		maxBufferS:     maxBufferS,
	}
}

func (l *LinearBBA) SelectVideoFormat(session SessionView, channel ChannelView) (mediaformat.VideoFormat, error) {
	vts := session.NextVts()
	sizes := channel.VSizes(vts)
	ssims := channel.VSSIMs(vts)
	if len(sizes) == 0 {
		return mediaformat.VideoFormat{}, errNoFormats
	}

	minF, maxF, minSize, maxSize := smallestLargestVideo(sizes)

	buf := clamp(session.VideoPlaybackBufferS(), 0, l.maxBufferS)
	lower := l.lowerReservoir * l.maxBufferS
	upper := l.upperReservoir * l.maxBufferS

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

	return bestSSIMUnder(sizes, ssims, maxServe), nil
}

// VideoChunkAcked is a no-op: LinearBBA keeps no throughput history.
func (l *LinearBBA) VideoChunkAcked(Chunk) {}

func smallestLargestVideo(sizes map[mediaformat.VideoFormat]int) (minF, maxF mediaformat.VideoFormat, minSize, maxSize int) {
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

// bestSSIMUnder returns the format with the highest SSIM among those whose
// size does not exceed budget; ties broken by the smaller format so the
// result is deterministic regardless of map iteration order.
func bestSSIMUnder(sizes map[mediaformat.VideoFormat]int, ssims map[mediaformat.VideoFormat]float64, budget float64) mediaformat.VideoFormat {
	var best mediaformat.VideoFormat
	bestSSIM := -1.0
	haveBest := false
	for f, sz := range sizes {
		if float64(sz) > budget {
			continue
		}
		s := ssims[f]
		if !haveBest || s > bestSSIM || (s == bestSSIM && f.Less(best)) {
			best, bestSSIM, haveBest = f, s, true
		}
	}
	if !haveBest {
		// Nothing fits the budget (e.g. a rounding edge); fall back to the
		// smallest available format.
		minF, _, _, _ := smallestLargestVideo(sizes)
		return minF
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
