package abr

import (
	"math"
	"sort"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

const (
	mpcMaxLookaheadHorizon = 5
	mpcDisBufLength        = 100
	mpcMaxNumPastChunks    = 10
	mpcHighSendingTime     = 10.0 // seconds/byte*1000, used when no history exists
)

// pastChunk is one entry of MPC's sliding throughput history.
type pastChunk struct {
	size      int
	transTime float64 // seconds
}

// MPC is a model-predictive selector: a bounded-horizon dynamic program
// over the channel's known SSIM ladder, driven by a
// moving-average estimate of per-byte send time built from acknowledged
// chunks.
type MPC struct {
	rebufferCoeff float64
	ssimDiffCoeff float64
	maxBufferS    float64
	unitBuf       float64
	history       []pastChunk
	round         int

	lastSSIMDB  float64
	hasLastSSIM bool
}

// NewMPC builds an MPC selector. opts may override "rebuffer_coeff" and
// "ssim_diff_coeff".
func NewMPC(opts Options, maxBufferS float64) *MPC {
	return &MPC{
		rebufferCoeff: opts.getOr("rebuffer_coeff", 20.0),
		ssimDiffCoeff: opts.getOr("ssim_diff_coeff", 1.0),
		maxBufferS:    maxBufferS,
		unitBuf:       maxBufferS / mpcDisBufLength,
	}
}

func (m *MPC) VideoChunkAcked(c Chunk) {
	m.history = append(m.history, pastChunk{size: c.Size, transTime: c.TransTime.Seconds()})
	if len(m.history) > mpcMaxNumPastChunks {
		m.history = m.history[len(m.history)-mpcMaxNumPastChunks:]
	}
	m.lastSSIMDB = ssimDB(c.SSIM, bolaMinSSIMDB, bolaMaxSSIMDB)
	m.hasLastSSIM = true
}

// unitSendTime returns the moving-average seconds-per-byte estimate from
// history, or the high-sending-time fallback if there is none.
func (m *MPC) unitSendTime() float64 {
	if len(m.history) == 0 {
		return mpcHighSendingTime
	}
	var sum float64
	for _, c := range m.history {
		if c.size <= 0 {
			continue
		}
		sum += c.transTime / float64(c.size)
	}
	return sum / float64(len(m.history))
}

func (m *MPC) discretize(bufS float64) int {
	v := int(math.Round((bufS + 0.5*m.unitBuf) / m.unitBuf))
	if v < 0 {
		return 0
	}
	if v > mpcDisBufLength {
		return mpcDisBufLength
	}
	return v
}

func (m *MPC) SelectVideoFormat(session SessionView, channel ChannelView) (mediaformat.VideoFormat, error) {
	vts := session.NextVts()
	vduration := channel.VDuration()
	timescale := channel.Timescale()
	chunkLenS := float64(vduration) / float64(timescale)

	frontier, ok := channel.VReadyFrontier(0)
	if !ok {
		return mediaformat.VideoFormat{}, errNoFormats
	}
	horizon := int((frontier - vts) / vduration)
	if horizon > mpcMaxLookaheadHorizon {
		horizon = mpcMaxLookaheadHorizon
	}
	if horizon <= 0 {
		return mediaformat.VideoFormat{}, errNoFormats
	}

	formats, sizes, ssims, err := mpcLookaheadTables(channel, vts, vduration, horizon)
	if err != nil {
		return mediaformat.VideoFormat{}, err
	}
	numFormats := len(formats)

	curFormat, hasCur := session.CurrVideoFormat()
	curIdx := 0
	if hasCur {
		for i, f := range formats {
			if f == curFormat {
				curIdx = i
				break
			}
		}
	}

	unitST := m.unitSendTime()
	sendTime := make([][]float64, horizon)
	for i := 0; i < horizon; i++ {
		sendTime[i] = make([]float64, numFormats)
		for j := 0; j < numFormats; j++ {
			sendTime[i][j] = float64(sizes[i][j]) * unitST
		}
	}

	buf := session.VideoPlaybackBufferS()
	if buf < 0 {
		buf = 0
	}
	curBuf := m.discretize(buf)

	realBuf := make([]float64, mpcDisBufLength+1)
	for b := 0; b <= mpcDisBufLength; b++ {
		realBuf[b] = float64(b) * m.unitBuf
	}

	dp := newMPCDP(horizon, numFormats, m.round)
	m.round++

	bestFnext, _ := dp.Q(0, curBuf, curIdx, ssims, sendTime, realBuf, chunkLenS, m.rebufferCoeff, m.ssimDiffCoeff, m.unitBuf, m.lastSSIMDB, m.hasLastSSIM)
	return formats[bestFnext], nil
}

// mpcLookaheadTables gathers the SSIM and size ladder for slots
// [1, horizon] (next `horizon` chunks starting at vts). The format list is
// the set available at vts, used for every slot so the DP's format index
// is stable across the lookahead window; a format missing at a later slot
// gets size 0 and SSIM 0 dB there.
func mpcLookaheadTables(channel ChannelView, vts, vduration int64, horizon int) ([]mediaformat.VideoFormat, [][]int, [][]float64, error) {
	base := channel.VSizes(vts)
	if len(base) == 0 {
		return nil, nil, nil, errNoFormats
	}
	formats := make([]mediaformat.VideoFormat, 0, len(base))
	for f := range base {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i].Less(formats[j]) })

	sizes := make([][]int, horizon)
	ssims := make([][]float64, horizon)
	for i := 0; i < horizon; i++ {
		ts := vts + int64(i)*vduration
		s := channel.VSizes(ts)
		q := channel.VSSIMs(ts)
		sizes[i] = make([]int, len(formats))
		ssims[i] = make([]float64, len(formats))
		for j, f := range formats {
			sizes[i][j] = s[f]
			ssims[i][j] = ssimDB(q[f], bolaMinSSIMDB, bolaMaxSSIMDB)
		}
	}
	return formats, sizes, ssims, nil
}

// mpcDP computes the memoized value function over the chunk-format
// lattice. Memo entries are tagged with the round they were computed in
// so stale values from a prior call are never reused without clearing the
// whole table.
type mpcDP struct {
	horizon    int
	numFormats int
	round      int
	qMemo      map[mpcKey]float64
	qRound     map[mpcKey]int
	qBestNext  map[mpcKey]int
}

type mpcKey struct {
	i, buf, fcur int
}

func newMPCDP(horizon, numFormats, round int) *mpcDP {
	return &mpcDP{
		horizon:    horizon,
		numFormats: numFormats,
		round:      round,
		qMemo:      make(map[mpcKey]float64),
		qRound:     make(map[mpcKey]int),
		qBestNext:  make(map[mpcKey]int),
	}
}

// Q returns the best next-format index and its value for state
// (i, buf, fcur), memoizing V(i, buf, fcur). anchorSSIM/hasAnchor give the
// last-sent chunk's SSIM to use as the smoothness term's root anchor at
// i==0; when there is no history yet, the ssim_diff term is dropped for
// i==0 rather than penalizing against a fabricated zero.
func (d *mpcDP) Q(i, buf, fcur int, ssims [][]float64, sendTime [][]float64, realBuf []float64, chunkLenS, rebufferCoeff, ssimDiffCoeff, unitBuf, anchorSSIM float64, hasAnchor bool) (int, float64) {
	key := mpcKey{i, buf, fcur}
	if r, ok := d.qRound[key]; ok && r == d.round {
		return d.qBestNext[key], d.qMemo[key]
	}

	if i == d.horizon {
		v := ssims[i-1][fcur]
		d.memoize(key, -1, v)
		return -1, v
	}

	bestNext := 0
	bestVal := math.Inf(-1)
	curSSIM := 0.0
	skipDiff := false
	if i > 0 {
		curSSIM = ssims[i-1][fcur]
	} else if hasAnchor {
		curSSIM = anchorSSIM
	} else {
		skipDiff = true
	}

	for fnext := 0; fnext < d.numFormats; fnext++ {
		nextSSIM := ssims[i][fnext]
		st := sendTime[i][fnext]
		rebuffer := st - realBuf[buf]
		if rebuffer < 0 {
			rebuffer = 0
		}
		drained := realBuf[buf] - st
		if drained < 0 {
			drained = 0
		}
		nextBufS := drained + chunkLenS
		nextBuf := int(math.Round((nextBufS + 0.5*unitBuf) / unitBuf))
		if nextBuf < 0 {
			nextBuf = 0
		}
		if nextBuf > mpcDisBufLength {
			nextBuf = mpcDisBufLength
		}

		_, futureV := d.Q(i+1, nextBuf, fnext, ssims, sendTime, realBuf, chunkLenS, rebufferCoeff, ssimDiffCoeff, unitBuf, anchorSSIM, hasAnchor)

		q := nextSSIM - rebufferCoeff*rebuffer + futureV
		if !skipDiff {
			q -= ssimDiffCoeff * math.Abs(nextSSIM-curSSIM)
		}
		if q > bestVal || (q == bestVal && fnext < bestNext) {
			bestVal, bestNext = q, fnext
		}
	}

	d.memoize(key, bestNext, bestVal)
	return bestNext, bestVal
}

func (d *mpcDP) memoize(key mpcKey, bestNext int, val float64) {
	d.qMemo[key] = val
	d.qRound[key] = d.round
	d.qBestNext[key] = bestNext
}
