// Package tablebase implements the endgame tablebase probing contract of
// the search: WDL lookups for low-piece positions, answered by the Lichess
// tablebase API with results cached persistently. Local Syzygy files only
// set the covered piece count; they are not read for probes.
package tablebase

import (
	"errors"

	"github.com/corvidchess/corvid/internal/board"
)

// WDL values, from the side to move's point of view.
const (
	WDLLoss        = -2
	WDLBlessedLoss = -1
	WDLDraw        = 0
	WDLCursedWin   = 1
	WDLWin         = 2
)

// ErrProbeFail signals that a probe could not be answered; the search
// ignores the probe and carries on.
var ErrProbeFail = errors.New("tablebase: probe failed")

// Prober answers WDL queries for positions within its piece limit.
type Prober interface {
	// ProbeWDL returns the WDL score for the side to move.
	ProbeWDL(pos *board.Position) (int, error)
	// MaxPieces reports the largest piece count the prober covers.
	MaxPieces() int
}

// CountPieces returns the number of pieces on the board.
func CountPieces(pos *board.Position) int {
	return pos.AllOccupied.PopCount()
}
