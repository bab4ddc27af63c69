package manufacturing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionSingleStep(t *testing.T) {
	steps := []BatchStatus{StatusPending, StatusCutting, StatusStitching, StatusIroning, StatusPackaging, StatusCompleted}
	for i := 0; i < len(steps)-1; i++ {
		require.True(t, CanTransition(steps[i], steps[i+1], false), "%s -> %s", steps[i], steps[i+1])
	}
}

func TestCanTransitionRejectsSkipsForRegularRoles(t *testing.T) {
	require.False(t, CanTransition(StatusPending, StatusStitching, false))
	require.False(t, CanTransition(StatusCutting, StatusCompleted, false))
}

func TestCanTransitionAllowsSkipsForElevatedRoles(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusCompleted, true))
	require.True(t, CanTransition(StatusCutting, StatusIroning, true))
}

func TestCanTransitionNeverGoesBackward(t *testing.T) {
	require.False(t, CanTransition(StatusStitching, StatusCutting, false))
	require.False(t, CanTransition(StatusStitching, StatusCutting, true))
	require.False(t, CanTransition(StatusIroning, StatusIroning, true))
}

func TestCompletedIsTerminal(t *testing.T) {
	for _, to := range []BatchStatus{StatusPending, StatusCutting, StatusStitching, StatusIroning, StatusPackaging} {
		require.False(t, CanTransition(StatusCompleted, to, true))
	}
}
