package abr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	_, err := New("not_a_real_algorithm", nil, 10, "")
	require.Error(t, err)
}

func TestNewRequiresModelDirForPufferTTP(t *testing.T) {
	_, err := New("puffer_ttp", nil, 10, "")
	require.Error(t, err)
}

func TestNewBuildsEachBuiltinAlgorithm(t *testing.T) {
	for _, name := range []string{"linear_bba", "bola_basic_v1", "bola_basic_v2", "mpc", "puffer_raw"} {
		sel, err := New(name, nil, 10, "")
		require.NoError(t, err, name)
		require.NotNil(t, sel, name)
	}
}

func TestSSIMDBClamped(t *testing.T) {
	require.Equal(t, 0.0, ssimDB(0, 0, 60))
	require.InDelta(t, 60.0, ssimDB(0.999999999, 0, 60), 1e-6)
}
