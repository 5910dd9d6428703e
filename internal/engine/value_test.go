package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueToTTRoundTrip(t *testing.T) {
	values := []int{
		0, 1, -1, 100, -100, ValueKnownWin, -ValueKnownWin,
		MateIn(0), MateIn(5), MateIn(50),
		MatedIn(0), MatedIn(5), MatedIn(50),
		ValueTBWinInMaxPly, ValueTBLossInMaxPly,
	}

	for _, v := range values {
		for _, ply := range []int{0, 1, 7, 63, 120} {
			require.Equal(t, v, ValueFromTT(ValueToTT(v, ply), ply, 0),
				"v=%d ply=%d", v, ply)
		}
	}
}

func TestValueFromTTNone(t *testing.T) {
	require.Equal(t, ValueNone, ValueFromTT(ValueNone, 12, 0))
}

func TestValueFromTTFiftyMoveGuard(t *testing.T) {
	// A mate-in-20 score with the 50-move counter at 95 cannot be
	// realized; the lookup degrades it to the edge of the TB band.
	v := MateIn(20)
	stored := ValueToTT(v, 0)
	require.Equal(t, ValueMateInMaxPly-1, ValueFromTT(stored, 0, 95))

	// Same for the mated side.
	v = MatedIn(20)
	stored = ValueToTT(v, 0)
	require.Equal(t, ValueMatedInMaxPly+1, ValueFromTT(stored, 0, 95))

	// With a fresh counter the mate survives.
	v = MateIn(20)
	stored = ValueToTT(v, 0)
	require.Equal(t, v, ValueFromTT(stored, 0, 0))
}

func TestMateHelpers(t *testing.T) {
	require.Equal(t, ValueMate, MateIn(0))
	require.Equal(t, -ValueMate, MatedIn(0))
	require.Greater(t, MateIn(3), MateIn(4))
	require.Less(t, MatedIn(3), MatedIn(4))
	require.Greater(t, MateIn(MaxPly-1), ValueMateInMaxPly)
}

func TestStatBonus(t *testing.T) {
	require.Equal(t, 17+134-134, statBonus(1))
	require.Equal(t, 29, statBonus(14))
	require.Equal(t, 29, statBonus(100))
	require.Less(t, statBonus(2), statBonus(8))
}
