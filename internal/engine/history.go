package engine

import (
	"github.com/corvidchess/corvid/internal/board"
)

// History tables use a saturated update v += bonus - v*|bonus|/max so that
// |v| stays below max. Limits follow the tuned per-table ranges.
const (
	butterflyHistoryMax    = 13365
	lowPlyHistoryMax       = 10692
	captureHistoryMax      = 10692
	continuationHistoryMax = 29952

	// MaxLowPlyHistory is the number of plies near the root that keep a
	// dedicated history, reused (shifted) between iterations.
	MaxLowPlyHistory = 4

	// counterMovePruneThreshold gates continuation-history based pruning
	// of late quiet moves.
	counterMovePruneThreshold = 0
)

// statBonus maps the completed depth of a (re-)search to a history bonus.
func statBonus(depth int) int {
	if depth > 13 {
		return 29
	}
	return 17*depth*depth + 134*depth - 134
}

func updateStat(entry *int16, bonus, maxVal int) {
	v := int(*entry) + bonus - int(*entry)*abs(bonus)/maxVal
	// Integer rounding lets the update settle exactly on +-maxVal; keep it
	// strictly inside the range.
	if v >= maxVal {
		v = maxVal - 1
	} else if v <= -maxVal {
		v = -maxVal + 1
	}
	*entry = int16(v)
}

func fromTo(m board.Move) int {
	return int(m.From())<<6 | int(m.To())
}

// ButterflyHistory records how often quiet moves of a color, indexed by
// from-to squares, have been good or bad.
type ButterflyHistory [2][64 * 64]int16

func (h *ButterflyHistory) Update(c board.Color, m board.Move, bonus int) {
	updateStat(&h[c][fromTo(m)], bonus, butterflyHistoryMax)
}

func (h *ButterflyHistory) Get(c board.Color, m board.Move) int {
	return int(h[c][fromTo(m)])
}

// LowPlyHistory keeps a per-ply quiet history for the first few plies,
// giving fresher ordering information near the root.
type LowPlyHistory [MaxLowPlyHistory][64 * 64]int16

func (h *LowPlyHistory) Update(ply int, m board.Move, bonus int) {
	updateStat(&h[ply][fromTo(m)], bonus, lowPlyHistoryMax)
}

func (h *LowPlyHistory) Get(ply int, m board.Move) int {
	return int(h[ply][fromTo(m)])
}

// ShiftDown moves the table down two plies so that information gathered at
// ply N is reused at ply N-2 of the next root move, and clears the freed
// top rows.
func (h *LowPlyHistory) ShiftDown() {
	for ply := 0; ply < MaxLowPlyHistory-2; ply++ {
		h[ply] = h[ply+2]
	}
	for ply := MaxLowPlyHistory - 2; ply < MaxLowPlyHistory; ply++ {
		for i := range h[ply] {
			h[ply][i] = 0
		}
	}
}

// CapturePieceToHistory is indexed by [moved piece][to square][captured
// piece type]. Index 6 of the last dimension covers promotions, where
// nothing sits on the target square.
type CapturePieceToHistory [13][64][7]int16

func (h *CapturePieceToHistory) Update(pc board.Piece, to board.Square, captured board.PieceType, bonus int) {
	updateStat(&h[pc][to][captured], bonus, captureHistoryMax)
}

func (h *CapturePieceToHistory) Get(pc board.Piece, to board.Square, captured board.PieceType) int {
	return int(h[pc][to][captured])
}

// PieceToHistory is one continuation-history row: scores for (piece, to)
// pairs, conditioned on an earlier move.
type PieceToHistory [13][64]int16

func (h *PieceToHistory) Update(pc board.Piece, to board.Square, bonus int) {
	updateStat(&h[pc][to], bonus, continuationHistoryMax)
}

func (h *PieceToHistory) Get(pc board.Piece, to board.Square) int {
	return int(h[pc][to])
}

// ContinuationHistory maps the (in-check, capture) class and (piece, to) of
// a move to a full PieceToHistory row for the moves that may follow it.
// The [NoPiece][0] row of the [0][0] table serves as the sentinel row for
// the pseudo-frames below the root.
type ContinuationHistory [2][2][13][64]PieceToHistory

// Sentinel returns the row used by null moves and the pre-root frames.
func (h *ContinuationHistory) Sentinel() *PieceToHistory {
	return &h[0][0][board.NoPiece][0]
}

// Row returns the continuation row for a move of class (inCheck, capture)
// by pc landing on to.
func (h *ContinuationHistory) Row(inCheck, capture bool, pc board.Piece, to board.Square) *PieceToHistory {
	ci, cc := 0, 0
	if inCheck {
		ci = 1
	}
	if capture {
		cc = 1
	}
	return &h[ci][cc][pc][to]
}

// CounterMoveHistory records, per (piece, to) of the opponent's last move,
// the quiet reply that refuted it.
type CounterMoveHistory [13][64]board.Move

// historyTables bundles all per-thread move-ordering state.
type historyTables struct {
	mainHistory     ButterflyHistory
	lowPlyHistory   LowPlyHistory
	captureHistory  CapturePieceToHistory
	continuationHistory ContinuationHistory
	counterMoves    CounterMoveHistory
}

// clear zeroes every table. Called from Pool.Clear between games.
func (t *historyTables) clear() {
	t.mainHistory = ButterflyHistory{}
	t.lowPlyHistory = LowPlyHistory{}
	t.captureHistory = CapturePieceToHistory{}
	t.continuationHistory = ContinuationHistory{}
	t.counterMoves = CounterMoveHistory{}
}
