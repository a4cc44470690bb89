package abr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

func TestMPCDeterministic(t *testing.T) {
	sizes, ssims, _, _, _ := s4Formats()
	channel := &fakeChannel{
		sizes:     sizes,
		ssims:     ssims,
		duration:  90000,
		timescale: 90000,
		frontier:  90000 * 10,
		hasReady:  true,
	}
	sess := &fakeSession{bufS: 4, maxBufferS: 10, nextVts: 0}
	mpc := NewMPC(nil, 10)

	got1, err := mpc.SelectVideoFormat(sess, channel)
	require.NoError(t, err)
	got2, err := mpc.SelectVideoFormat(sess, channel)
	require.NoError(t, err)
	require.Equal(t, got1, got2)
}

func TestMPCFailsWithNoLookahead(t *testing.T) {
	sizes, ssims, _, _, _ := s4Formats()
	channel := &fakeChannel{
		sizes:     sizes,
		ssims:     ssims,
		duration:  90000,
		timescale: 90000,
		frontier:  0,
		hasReady:  true,
	}
	sess := &fakeSession{bufS: 4, maxBufferS: 10, nextVts: 0}
	mpc := NewMPC(nil, 10)

	_, err := mpc.SelectVideoFormat(sess, channel)
	require.Error(t, err)
}

func TestMPCTracksAckedHistory(t *testing.T) {
	mpc := NewMPC(nil, 10)
	for i := 0; i < mpcMaxNumPastChunks+3; i++ {
		mpc.VideoChunkAcked(Chunk{Format: mediaformat.VideoFormat{Width: 640, Height: 360, CRF: 24}, Size: 500_000})
	}
	require.Len(t, mpc.history, mpcMaxNumPastChunks)
}
