package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidchess/corvid/internal/board"
)

func TestButterflyHistorySaturates(t *testing.T) {
	var h ButterflyHistory
	m := board.NewMove(board.E2, board.E4)

	for i := 0; i < 1000; i++ {
		h.Update(board.White, m, statBonus(12))
	}
	require.Less(t, h.Get(board.White, m), butterflyHistoryMax)
	require.Greater(t, h.Get(board.White, m), butterflyHistoryMax/2)

	for i := 0; i < 2000; i++ {
		h.Update(board.White, m, -statBonus(12))
	}
	require.Greater(t, h.Get(board.White, m), -butterflyHistoryMax)
	require.Less(t, h.Get(board.White, m), 0)
}

func TestContinuationHistorySaturates(t *testing.T) {
	var h ContinuationHistory
	row := h.Row(false, false, board.WhiteKnight, board.F3)

	for i := 0; i < 5000; i++ {
		row.Update(board.WhiteKnight, board.F3, statBonus(13))
	}
	require.Less(t, row.Get(board.WhiteKnight, board.F3), continuationHistoryMax)

	// The sentinel row is distinct from every real row.
	require.Zero(t, h.Sentinel().Get(board.WhiteKnight, board.F3))
}

func TestLowPlyHistoryShiftDown(t *testing.T) {
	var h LowPlyHistory
	m := board.NewMove(board.D2, board.D4)

	h.Update(2, m, 500)
	h.Update(3, m, 700)
	v2 := h.Get(2, m)
	v3 := h.Get(3, m)

	h.ShiftDown()

	require.Equal(t, v2, h.Get(0, m))
	require.Equal(t, v3, h.Get(1, m))
	require.Zero(t, h.Get(2, m))
	require.Zero(t, h.Get(3, m))
}

func TestHistoryTablesClear(t *testing.T) {
	var tables historyTables
	m := board.NewMove(board.E2, board.E4)

	tables.mainHistory.Update(board.White, m, 100)
	tables.captureHistory.Update(board.WhitePawn, board.D5, board.Pawn, 100)
	tables.counterMoves[board.BlackPawn][board.D5] = m

	tables.clear()

	require.Zero(t, tables.mainHistory.Get(board.White, m))
	require.Zero(t, tables.captureHistory.Get(board.WhitePawn, board.D5, board.Pawn))
	require.Equal(t, board.NoMove, tables.counterMoves[board.BlackPawn][board.D5])
}

func TestBreadcrumbHolding(t *testing.T) {
	var bt breadcrumbTable
	key := uint64(12345)

	// First thread takes the cell.
	h1 := bt.hold(0, key, 2)
	require.False(t, h1.marked())

	// A second thread at the same position sees the marker.
	h2 := bt.hold(1, key, 2)
	require.True(t, h2.marked())

	// Release frees the cell for the next taker.
	h2.release() // non-owner release is a no-op
	h1.release()

	h3 := bt.hold(1, key, 2)
	require.False(t, h3.marked())
	h3.release()

	// Deep nodes are never marked.
	h4 := bt.hold(0, key, 20)
	require.False(t, h4.marked())
	h4.release()
}
