package board

import "testing"

func seeMove(t *testing.T, fen, uci string) (*Position, Move) {
	t.Helper()
	pos, err := ParseFEN(fen)
	if err != nil {
		t.Fatalf("parse %q: %v", fen, err)
	}
	m, err := ParseMove(uci, pos)
	if err != nil {
		t.Fatalf("parse move %q: %v", uci, err)
	}
	return pos, m
}

func TestSeeGeSimpleWinningCapture(t *testing.T) {
	// Rook takes an undefended pawn.
	pos, m := seeMove(t, "4k3/8/8/3p4/8/8/8/3RK3 w - - 0 1", "d1d5")
	if !pos.SeeGe(m, 0) {
		t.Error("free pawn capture should clear threshold 0")
	}
	if !pos.SeeGe(m, 90) {
		t.Error("free pawn capture should clear threshold 90")
	}
	if pos.SeeGe(m, 200) {
		t.Error("free pawn capture cannot clear threshold 200")
	}
}

func TestSeeGeLosingCapture(t *testing.T) {
	// Rook takes a pawn defended by a pawn: loses the rook for a pawn.
	pos, m := seeMove(t, "4k3/2p5/3p4/8/8/8/8/3RK3 w - - 0 1", "d1d6")
	if pos.SeeGe(m, 0) {
		t.Error("RxP with pawn recapture must fail threshold 0")
	}
	if !pos.SeeGe(m, -500) {
		t.Error("exchange loses less than a full rook")
	}
}

func TestSeeGeDefendedEqualExchange(t *testing.T) {
	// Pawn takes pawn, pawn recaptures: a wash.
	pos, m := seeMove(t, "4k3/8/2p5/3p4/4P3/8/8/4K3 w - - 0 1", "e4d5")
	if !pos.SeeGe(m, 0) {
		t.Error("even pawn trade should clear threshold 0")
	}
	if pos.SeeGe(m, 50) {
		t.Error("even pawn trade cannot clear a positive threshold")
	}
}

func TestSeeGeQuietMove(t *testing.T) {
	// Moving a rook to a square attacked by a pawn loses the rook.
	pos, m := seeMove(t, "4k3/8/2p5/8/8/8/8/3RK3 w - - 0 1", "d1d5")
	if pos.SeeGe(m, 0) {
		t.Error("hanging the rook to a pawn must fail threshold 0")
	}

	// A safe quiet move holds.
	pos2, m2 := seeMove(t, "4k3/8/2p5/8/8/8/8/3RK3 w - - 0 1", "d1d2")
	if !pos2.SeeGe(m2, 0) {
		t.Error("safe quiet move should clear threshold 0")
	}
}

func TestSeeGeXrayRecapture(t *testing.T) {
	// Doubled rooks against a defended pawn: the x-ray recapture wins the
	// exchange back.
	pos, m := seeMove(t, "3r4/3r4/8/3P4/8/8/8/3RK2k b - - 0 1", "d7d5")
	if !pos.SeeGe(m, 0) {
		t.Error("capture with x-ray support miscounted")
	}
}
