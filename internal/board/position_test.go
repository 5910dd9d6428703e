package board

import "testing"

func TestMakeUnmakeRoundTrip(t *testing.T) {
	pos, err := ParseFEN("r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq -")
	if err != nil {
		t.Fatalf("Failed to parse FEN: %v", err)
	}

	moves := pos.GenerateLegalMoves()
	before := *pos

	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		undo := pos.MakeMove(m)
		if !undo.Valid {
			t.Fatalf("legal move %v rejected by MakeMove", m)
		}
		pos.UnmakeMove(m, undo)

		if pos.Hash != before.Hash {
			t.Errorf("move %v: hash not restored", m)
		}
		if pos.PawnKey != before.PawnKey {
			t.Errorf("move %v: pawn key not restored", m)
		}
		if pos.SideToMove != before.SideToMove {
			t.Errorf("move %v: side to move not restored", m)
		}
		if pos.CastlingRights != before.CastlingRights {
			t.Errorf("move %v: castling rights not restored", m)
		}
		if pos.HalfMoveClock != before.HalfMoveClock {
			t.Errorf("move %v: half move clock not restored", m)
		}
		if pos.Pieces != before.Pieces {
			t.Errorf("move %v: piece bitboards not restored", m)
		}
	}
}

func TestFENRoundTrip(t *testing.T) {
	fens := []string{
		StartFEN,
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
		"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
		"4k3/8/8/8/8/8/4P3/4K3 w - - 0 1",
	}

	for _, fen := range fens {
		pos, err := ParseFEN(fen)
		if err != nil {
			t.Fatalf("parse %q: %v", fen, err)
		}
		if got := pos.ToFEN(); got != fen {
			t.Errorf("round trip: got %q, want %q", got, fen)
		}
	}
}

func TestNullMoveRoundTrip(t *testing.T) {
	pos, err := ParseFEN("rnbqkbnr/ppp1pppp/8/3p4/4P3/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 2")
	if err != nil {
		t.Fatal(err)
	}

	hash := pos.Hash
	undo := pos.MakeNullMove()
	if pos.SideToMove != Black {
		t.Error("null move did not flip side to move")
	}
	if pos.EnPassant != NoSquare {
		t.Error("null move did not clear en passant")
	}
	pos.UnmakeNullMove(undo)
	if pos.Hash != hash {
		t.Error("null move did not restore hash")
	}
	if pos.EnPassant == NoSquare {
		t.Error("null move did not restore en passant")
	}
}

func TestGivesCheck(t *testing.T) {
	tests := []struct {
		fen   string
		move  string
		check bool
	}{
		// Direct rook check.
		{"6k1/5ppp/8/8/8/8/5PPP/R5K1 w - - 0 1", "a1a8", true},
		{"6k1/5ppp/8/8/8/8/5PPP/R5K1 w - - 0 1", "a1b1", false},
		// Discovered check: bishop behind the moving knight.
		{"7k/8/8/8/8/2N5/1B6/K7 w - - 0 1", "c3e2", true},
		// Pawn push check.
		{"8/8/8/3k4/8/3P4/8/3K4 w - - 0 1", "d3d4", false},
		{"8/8/8/3k4/4P3/8/8/3K4 w - - 0 1", "e4e5", false},
		{"8/8/4k3/8/3P4/8/8/3K4 w - - 0 1", "d4d5", true},
	}

	for _, tc := range tests {
		pos, err := ParseFEN(tc.fen)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.fen, err)
		}
		m, err := ParseMove(tc.move, pos)
		if err != nil {
			t.Fatalf("parse move %q: %v", tc.move, err)
		}
		if got := pos.GivesCheck(m); got != tc.check {
			t.Errorf("%s %s: GivesCheck = %v, want %v", tc.fen, tc.move, got, tc.check)
		}

		// The answer must agree with actually making the move.
		undo := pos.MakeMove(m)
		if undo.Valid {
			if got := pos.InCheck(); got != tc.check {
				t.Errorf("%s %s: post-move InCheck = %v, want %v", tc.fen, tc.move, got, tc.check)
			}
			pos.UnmakeMove(m, undo)
		}
	}
}

func TestIsDrawByRepetition(t *testing.T) {
	pos := NewPosition()

	// Shuffle the knights back and forth until the position repeats.
	moves := []string{"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8"}
	for i, ms := range moves {
		m, err := ParseMove(ms, pos)
		if err != nil {
			t.Fatal(err)
		}
		undo := pos.MakeMove(m)
		if !undo.Valid {
			t.Fatalf("move %d (%s) invalid", i, ms)
		}
	}

	if !pos.IsDraw(0) {
		t.Error("threefold repetition not detected")
	}
}

func TestRepetitionInsideSearchIsDraw(t *testing.T) {
	pos := NewPosition()

	// One shuffle cycle: the position repeats once. From the game's point
	// of view that is not yet a draw, but inside the search (ply beyond
	// the cycle) a single repetition is.
	for _, ms := range []string{"g1f3", "g8f6", "f3g1", "f6g8"} {
		m, _ := ParseMove(ms, pos)
		pos.MakeMove(m)
	}

	if pos.IsDraw(0) {
		t.Error("single repetition reported as game draw")
	}
	if !pos.IsDraw(10) {
		t.Error("single repetition inside the search tree not scored as draw")
	}
}

func TestHasGameCycle(t *testing.T) {
	pos := NewPosition()

	// After Nf3 Nf6 Ng1, black's Ng8 would complete the cycle; the side
	// to move therefore has an upcoming repetition below the root.
	for _, ms := range []string{"g1f3", "g8f6", "f3g1"} {
		m, _ := ParseMove(ms, pos)
		pos.MakeMove(m)
	}

	if !pos.HasGameCycle(8) {
		t.Error("upcoming repetition not detected")
	}

	fresh := NewPosition()
	if fresh.HasGameCycle(8) {
		t.Error("cycle reported in the starting position")
	}
}

func TestNonPawnMaterial(t *testing.T) {
	pos := NewPosition()
	want := 2*PieceValue[Knight] + 2*PieceValue[Bishop] + 2*PieceValue[Rook] + PieceValue[Queen]
	if got := pos.NonPawnMaterial(White); got != want {
		t.Errorf("NonPawnMaterial(White) = %d, want %d", got, want)
	}

	kp, _ := ParseFEN("4k3/8/8/8/8/8/4P3/4K3 w - - 0 1")
	if got := kp.NonPawnMaterial(White); got != 0 {
		t.Errorf("king+pawn NonPawnMaterial = %d, want 0", got)
	}
}

func TestInsufficientMaterial(t *testing.T) {
	tests := []struct {
		fen  string
		want bool
	}{
		{"4k3/8/8/8/8/8/8/4K3 w - - 0 1", true},
		{"4k3/8/8/8/8/8/8/2B1K3 w - - 0 1", true},
		{"4k3/8/8/8/8/8/8/2N1K3 w - - 0 1", true},
		{"4k3/8/8/8/8/8/4P3/4K3 w - - 0 1", false},
		{"4k3/8/8/8/8/8/8/2R1K3 w - - 0 1", false},
	}

	for _, tc := range tests {
		pos, err := ParseFEN(tc.fen)
		if err != nil {
			t.Fatal(err)
		}
		if got := pos.IsInsufficientMaterial(); got != tc.want {
			t.Errorf("%s: IsInsufficientMaterial = %v, want %v", tc.fen, got, tc.want)
		}
	}
}
