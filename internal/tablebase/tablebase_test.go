package tablebase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidchess/corvid/internal/board"
)

// fakeProber counts probes and answers from a fixed table.
type fakeProber struct {
	answers map[uint64]int
	calls   int
}

func (f *fakeProber) ProbeWDL(pos *board.Position) (int, error) {
	f.calls++
	if wdl, ok := f.answers[pos.Hash]; ok {
		return wdl, nil
	}
	return 0, ErrProbeFail
}

func (f *fakeProber) MaxPieces() int { return 7 }

func TestCachedProberHitsMemory(t *testing.T) {
	pos, err := board.ParseFEN("4k3/8/8/8/8/8/4P3/4K3 w - - 0 1")
	require.NoError(t, err)

	inner := &fakeProber{answers: map[uint64]int{pos.Hash: WDLWin}}
	cp := NewCachedProber(inner, nil)

	for i := 0; i < 5; i++ {
		wdl, err := cp.ProbeWDL(pos)
		require.NoError(t, err)
		require.Equal(t, WDLWin, wdl)
	}
	require.Equal(t, 1, inner.calls, "cache must absorb repeat probes")
}

func TestCachedProberPropagatesFailure(t *testing.T) {
	pos := board.NewPosition()
	inner := &fakeProber{answers: map[uint64]int{}}
	cp := NewCachedProber(inner, nil)

	_, err := cp.ProbeWDL(pos)
	require.ErrorIs(t, err, ErrProbeFail)

	// Failures are not cached; the prober is asked again.
	_, _ = cp.ProbeWDL(pos)
	require.Equal(t, 2, inner.calls)
}

func TestCategoryToWDL(t *testing.T) {
	require.Equal(t, WDLWin, categoryToWDL("win"))
	require.Equal(t, WDLCursedWin, categoryToWDL("cursed-win"))
	require.Equal(t, WDLDraw, categoryToWDL("draw"))
	require.Equal(t, WDLBlessedLoss, categoryToWDL("blessed-loss"))
	require.Equal(t, WDLLoss, categoryToWDL("loss"))
	require.Equal(t, WDLDraw, categoryToWDL("unknown-category"))
}

func TestCountPieces(t *testing.T) {
	require.Equal(t, 32, CountPieces(board.NewPosition()))

	kpk, err := board.ParseFEN("4k3/8/8/8/8/8/4P3/4K3 w - - 0 1")
	require.NoError(t, err)
	require.Equal(t, 3, CountPieces(kpk))
}
