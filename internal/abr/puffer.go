package abr

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

const (
	pufferDisSendingTime = 40
	pufferSTVarCoeff     = 0.7
	pufferSTProbEps      = 1e-5
)

// sendingTimeEstimator produces a discrete probability distribution over
// send-time buckets for a candidate (lookahead slot, format) pair. Raw
// and TTP differ only in this step; both share Puffer's DP.
type sendingTimeEstimator interface {
	// Distribute returns a probability vector of length
	// pufferDisSendingTime+1 for lookahead slot i, candidate format fnext,
	// given the unit send time estimate, the chunk's predicted size, and
	// the acked-chunk history available so far (most recent last).
	Distribute(i, fnext int, unitST float64, size int, unitBuf float64, history []pastChunk) []float64
}

// rawEstimator implements the "Raw" transmission-time variant: a point
// mass at the mean bucket spread geometrically by st_var_coeff and
// truncated below ST_PROB_EPS.
type rawEstimator struct {
	opts Options
}

func (r rawEstimator) Distribute(i, fnext int, unitST float64, size int, unitBuf float64, history []pastChunk) []float64 {
	meanST := float64(size) * unitST
	meanBucket := int(math.Round(meanST / unitBuf))
	if meanBucket > pufferDisSendingTime {
		meanBucket = pufferDisSendingTime
	}
	if meanBucket < 0 {
		meanBucket = 0
	}

	coeff := r.opts.getOr("st_var_coeff", pufferSTVarCoeff)
	probs := make([]float64, pufferDisSendingTime+1)
	probs[meanBucket] = 1.0
	p := 1.0
	for d := 1; meanBucket+d <= pufferDisSendingTime || meanBucket-d >= 0; d++ {
		p *= coeff
		if p < pufferSTProbEps {
			break
		}
		if meanBucket+d <= pufferDisSendingTime {
			probs[meanBucket+d] = p
		}
		if meanBucket-d >= 0 {
			probs[meanBucket-d] = p
		}
	}
	return normalize(probs)
}

func normalize(p []float64) []float64 {
	var sum float64
	for _, v := range p {
		sum += v
	}
	if sum == 0 {
		return p
	}
	for i := range p {
		p[i] /= sum
	}
	return p
}

// ttpModelShard is one horizon slot's model: the obs_mean/obs_std
// normalization sidecar plus a linear head (weight, bias) mapping the
// normalized dim-62 input to logits over the dis_sending_time+1 buckets.
//
// The upstream model format (cpp-<i>.pt) is a serialized PyTorch module;
// this module has no torch runtime in its dependency stack, so the same
// file name instead carries this backend's own linear-model weights as
// JSON. The filesystem layout (cpp-meta-<i>.json / cpp-<i>.pt per
// horizon) matches the external model-export contract; only the
// encoding of the second file's contents differs from upstream.
type ttpModelShard struct {
	ObsMean []float64   `json:"obs_mean"`
	ObsStd  []float64   `json:"obs_std"`
	Weight  [][]float64 `json:"weight"` // [ttpInputDim][pufferDisSendingTime+1]
	Bias    []float64   `json:"bias"`   // [pufferDisSendingTime+1]
}

// ttpEstimator implements the "TTP" transmission-time variant, consulting
// a per-horizon learned model: normalize a fixed dim-62 feature vector
// with obs_mean/obs_std, run it through the shard's linear head, and
// softmax the logits into a distribution over send-time buckets.
type ttpEstimator struct {
	shards []ttpModelShard
	raw    rawEstimator
}

const ttpInputDim = 62

func newTTPEstimator(modelDir string) (*ttpEstimator, error) {
	shards := make([]ttpModelShard, mpcMaxLookaheadHorizon)
	for i := 0; i < mpcMaxLookaheadHorizon; i++ {
		metaPath := fmt.Sprintf("%s/cpp-meta-%d.json", modelDir, i)
		mf, err := os.Open(metaPath)
		if err != nil {
			return nil, fmt.Errorf("open ttp metadata for horizon %d: %w", i, err)
		}
		var shard ttpModelShard
		decErr := json.NewDecoder(mf).Decode(&shard)
		mf.Close()
		if decErr != nil {
			return nil, fmt.Errorf("decode ttp metadata for horizon %d: %w", i, decErr)
		}
		if len(shard.ObsMean) != ttpInputDim || len(shard.ObsStd) != ttpInputDim {
			return nil, fmt.Errorf("ttp metadata for horizon %d: expected %d-length obs_mean/obs_std", i, ttpInputDim)
		}

		weightPath := fmt.Sprintf("%s/cpp-%d.pt", modelDir, i)
		wf, err := os.Open(weightPath)
		if err != nil {
			return nil, fmt.Errorf("open ttp weights for horizon %d: %w", i, err)
		}
		var head ttpModelShard
		decErr = json.NewDecoder(wf).Decode(&head)
		wf.Close()
		if decErr != nil {
			return nil, fmt.Errorf("decode ttp weights for horizon %d: %w", i, decErr)
		}
		if len(head.Weight) != ttpInputDim {
			return nil, fmt.Errorf("ttp weights for horizon %d: expected %d input rows", i, ttpInputDim)
		}
		if len(head.Bias) != pufferDisSendingTime+1 {
			return nil, fmt.Errorf("ttp weights for horizon %d: expected %d-length bias", i, pufferDisSendingTime+1)
		}
		for row, w := range head.Weight {
			if len(w) != pufferDisSendingTime+1 {
				return nil, fmt.Errorf("ttp weights for horizon %d: row %d has %d columns, want %d", i, row, len(w), pufferDisSendingTime+1)
			}
		}
		shard.Weight = head.Weight
		shard.Bias = head.Bias
		shards[i] = shard
	}

	return &ttpEstimator{shards: shards, raw: rawEstimator{opts: Options{}}}, nil
}

// ttpFeatures builds the fixed dim-62 input vector for a candidate
// (lookahead slot i, format fnext): the most recent acked chunks' (size,
// send time) pairs, most-recent-first and zero-padded, followed by the
// candidate's predicted size, unit send time, predicted send time,
// unit_buf, horizon slot and format index.
// Trailing dimensions are reserved and left zero.
func ttpFeatures(i, fnext int, unitST float64, size int, unitBuf float64, history []pastChunk) [ttpInputDim]float64 {
	var feat [ttpInputDim]float64
	n := len(history)
	for k := 0; k < mpcMaxNumPastChunks; k++ {
		if k >= n {
			break
		}
		c := history[n-1-k]
		feat[2*k] = float64(c.size)
		feat[2*k+1] = c.transTime
	}
	feat[2*mpcMaxNumPastChunks] = float64(size)
	feat[2*mpcMaxNumPastChunks+1] = unitST
	feat[2*mpcMaxNumPastChunks+2] = float64(size) * unitST
	feat[2*mpcMaxNumPastChunks+3] = unitBuf
	feat[2*mpcMaxNumPastChunks+4] = float64(i)
	feat[2*mpcMaxNumPastChunks+5] = float64(fnext)
	return feat
}

// softmax converts logits to a probability distribution, shifting by the
// max logit first for numerical stability.
func softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for k, v := range logits {
		out[k] = math.Exp(v - maxLogit)
		sum += out[k]
	}
	if sum == 0 {
		return out
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

// Distribute normalizes the candidate's dim-62 feature vector with the
// shard's obs_mean/obs_std, runs it through the shard's linear head, and
// softmaxes the result into a distribution over dis_sending_time+1
// buckets. Falls back to the raw estimator's shape if i is out of range
// for the loaded shards, which keeps the ABR loop alive on a
// misconfigured horizon rather than panicking.
func (t *ttpEstimator) Distribute(i, fnext int, unitST float64, size int, unitBuf float64, history []pastChunk) []float64 {
	if i < 0 || i >= len(t.shards) {
		return t.raw.Distribute(i, fnext, unitST, size, unitBuf, history)
	}
	shard := t.shards[i]

	feat := ttpFeatures(i, fnext, unitST, size, unitBuf, history)
	norm := make([]float64, ttpInputDim)
	for k := 0; k < ttpInputDim; k++ {
		std := shard.ObsStd[k]
		if std == 0 {
			std = 1
		}
		norm[k] = (feat[k] - shard.ObsMean[k]) / std
	}

	logits := make([]float64, pufferDisSendingTime+1)
	copy(logits, shard.Bias)
	for k := 0; k < ttpInputDim; k++ {
		if norm[k] == 0 {
			continue
		}
		row := shard.Weight[k]
		for b := range logits {
			logits[b] += norm[k] * row[b]
		}
	}

	return softmax(logits)
}

// Puffer is the probabilistic selector sharing MPC's DP shape but
// integrating Q over a predicted sending-time distribution rather than a
// point estimate.
type Puffer struct {
	estimator     sendingTimeEstimator
	rebufferCoeff float64
	ssimDiffCoeff float64
	maxBufferS    float64
	unitBuf       float64
	history       []pastChunk
	round         int

	lastSSIMDB  float64
	hasLastSSIM bool
}

func NewPuffer(estimator sendingTimeEstimator, opts Options, maxBufferS float64) *Puffer {
	return &Puffer{
		estimator:     estimator,
		rebufferCoeff: opts.getOr("rebuffer_coeff", 20.0),
		ssimDiffCoeff: opts.getOr("ssim_diff_coeff", 1.0),
		maxBufferS:    maxBufferS,
		unitBuf:       maxBufferS / mpcDisBufLength,
	}
}

func (p *Puffer) VideoChunkAcked(c Chunk) {
	p.history = append(p.history, pastChunk{size: c.Size, transTime: c.TransTime.Seconds()})
	if len(p.history) > mpcMaxNumPastChunks {
		p.history = p.history[len(p.history)-mpcMaxNumPastChunks:]
	}
	p.lastSSIMDB = ssimDB(c.SSIM, bolaMinSSIMDB, bolaMaxSSIMDB)
	p.hasLastSSIM = true
}

func (p *Puffer) unitSendTime() float64 {
	if len(p.history) == 0 {
		return mpcHighSendingTime
	}
	var sum float64
	for _, c := range p.history {
		if c.size <= 0 {
			continue
		}
		sum += c.transTime / float64(c.size)
	}
	return sum / float64(len(p.history))
}

func (p *Puffer) SelectVideoFormat(session SessionView, channel ChannelView) (mediaformat.VideoFormat, error) {
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

	unitST := p.unitSendTime()

	// probs[i][fnext] is the send-time distribution for lookahead slot i,
	// candidate format fnext; ban a candidate whose mean bucket saturates
	// unless every candidate at that slot is banned.
	probs := make([][][]float64, horizon)
	for i := 0; i < horizon; i++ {
		probs[i] = make([][]float64, numFormats)
		anyUnbanned := false
		meanBuckets := make([]int, numFormats)
		for j := 0; j < numFormats; j++ {
			d := p.estimator.Distribute(i, j, unitST, sizes[i][j], p.unitBuf, p.history)
			probs[i][j] = d
			meanBuckets[j] = meanBucketOf(d)
			if meanBuckets[j] < pufferDisSendingTime {
				anyUnbanned = true
			}
		}
		for j := 0; j < numFormats; j++ {
			if meanBuckets[j] >= pufferDisSendingTime {
				probs[i][j] = nil
			}
		}
		if !anyUnbanned {
			// Unban the smallest-send-time candidate, pin it to the last
			// bucket.
			best := 0
			bestSize := sizes[i][0]
			for j := 1; j < numFormats; j++ {
				if sizes[i][j] < bestSize {
					best, bestSize = j, sizes[i][j]
				}
			}
			pinned := make([]float64, pufferDisSendingTime+1)
			pinned[pufferDisSendingTime] = 1.0
			probs[i][best] = pinned
		}
	}

	buf := session.VideoPlaybackBufferS()
	if buf < 0 {
		buf = 0
	}
	curBuf := int(math.Round((buf + 0.5*p.unitBuf) / p.unitBuf))
	if curBuf < 0 {
		curBuf = 0
	}
	if curBuf > mpcDisBufLength {
		curBuf = mpcDisBufLength
	}

	realBuf := make([]float64, mpcDisBufLength+1)
	for b := 0; b <= mpcDisBufLength; b++ {
		realBuf[b] = float64(b) * p.unitBuf
	}

	dp := newPufferDP(horizon, numFormats, p.round)
	p.round++

	bestFnext, _ := dp.Q(0, curBuf, curIdx, ssims, probs, realBuf, chunkLenS, p.rebufferCoeff, p.ssimDiffCoeff, p.unitBuf, p.lastSSIMDB, p.hasLastSSIM)
	return formats[bestFnext], nil
}

func meanBucketOf(probs []float64) int {
	best, bestP := 0, -1.0
	for b, v := range probs {
		if v > bestP {
			best, bestP = b, v
		}
	}
	return best
}

type pufferKey struct {
	i, buf, fcur int
}

// pufferDP mirrors mpcDP but integrates over the estimator's distribution
// at each step instead of a point send-time.
type pufferDP struct {
	horizon    int
	numFormats int
	round      int
	memo       map[pufferKey]float64
	memoRound  map[pufferKey]int
	best       map[pufferKey]int
}

func newPufferDP(horizon, numFormats, round int) *pufferDP {
	return &pufferDP{
		horizon:    horizon,
		numFormats: numFormats,
		round:      round,
		memo:       make(map[pufferKey]float64),
		memoRound:  make(map[pufferKey]int),
		best:       make(map[pufferKey]int),
	}
}

// Q mirrors mpcDP.Q's anchor handling: anchorSSIM/hasAnchor seed the
// smoothness term's root at i==0 with the last-sent chunk's SSIM, or drop
// the term entirely at i==0 when there is no history yet.
func (d *pufferDP) Q(i, buf, fcur int, ssims [][]float64, probs [][][]float64, realBuf []float64, chunkLenS, rebufferCoeff, ssimDiffCoeff, unitBuf, anchorSSIM float64, hasAnchor bool) (int, float64) {
	key := pufferKey{i, buf, fcur}
	if r, ok := d.memoRound[key]; ok && r == d.round {
		return d.best[key], d.memo[key]
	}

	if i == d.horizon {
		v := ssims[i-1][fcur]
		d.store(key, -1, v)
		return -1, v
	}

	curSSIM := 0.0
	skipDiff := false
	if i > 0 {
		curSSIM = ssims[i-1][fcur]
	} else if hasAnchor {
		curSSIM = anchorSSIM
	} else {
		skipDiff = true
	}

	bestNext := 0
	bestVal := math.Inf(-1)
	for fnext := 0; fnext < d.numFormats; fnext++ {
		if probs[i][fnext] == nil {
			continue // banned candidate at this slot
		}
		nextSSIM := ssims[i][fnext]
		q := nextSSIM
		if !skipDiff {
			q -= ssimDiffCoeff * math.Abs(nextSSIM-curSSIM)
		}

		for st, pr := range probs[i][fnext] {
			if pr == 0 {
				continue
			}
			stS := float64(st) * unitBuf
			rebuffer := stS - realBuf[buf]
			if rebuffer < 0 {
				rebuffer = 0
			}
			drained := realBuf[buf] - stS
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

			_, futureV := d.Q(i+1, nextBuf, fnext, ssims, probs, realBuf, chunkLenS, rebufferCoeff, ssimDiffCoeff, unitBuf, anchorSSIM, hasAnchor)

			attenuation := 1.0
			if buf-st == 0 {
				attenuation = 0.25
			}
			q += pr * attenuation * (futureV - rebufferCoeff*rebuffer)
		}

		if q > bestVal || (q == bestVal && fnext < bestNext) {
			bestVal, bestNext = q, fnext
		}
	}

	d.store(key, bestNext, bestVal)
	return bestNext, bestVal
}

func (d *pufferDP) store(key pufferKey, bestNext int, val float64) {
	d.memo[key] = val
	d.memoRound[key] = d.round
	d.best[key] = bestNext
}
