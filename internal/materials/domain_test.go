package materials

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDelta(t *testing.T) {
	next, err := ApplyDelta(10, -4)
	require.NoError(t, err)
	require.InDelta(t, 6, next, 1e-9)

	next, err = ApplyDelta(10, 5)
	require.NoError(t, err)
	require.InDelta(t, 15, next, 1e-9)
}

func TestApplyDeltaRefusesNegativeResult(t *testing.T) {
	_, err := ApplyDelta(3, -3.5)
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestApplyDeltaClampsRoundingResidue(t *testing.T) {
	next, err := ApplyDelta(0.3, -0.3000000001)
	require.NoError(t, err)
	require.Zero(t, next)
}
