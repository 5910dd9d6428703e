package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corvidchess/corvid/internal/board"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	return NewPool(1, 16, zerolog.Nop())
}

func searchFEN(t *testing.T, p *Pool, fen string, limits Limits) SearchResult {
	t.Helper()
	pos, err := board.ParseFEN(fen)
	require.NoError(t, err)
	limits.StartTime = time.Now()
	res, ok := <-p.StartSearch(pos, limits)
	require.True(t, ok)
	return res
}

func TestSearchStartposDepthOne(t *testing.T) {
	p := testPool(t)

	var lines []PVLine
	p.OnInfo = func(l []PVLine) { lines = l }

	pos := board.NewPosition()
	res, ok := <-p.StartSearch(pos, Limits{Depth: 1, StartTime: time.Now()})
	require.True(t, ok)

	legal := board.NewPosition().GenerateLegalMoves()
	require.True(t, legal.Contains(res.Best), "bestmove %s is not legal", res.Best)

	require.NotEmpty(t, lines)
	require.GreaterOrEqual(t, lines[0].Depth, 1)
	require.NotEmpty(t, lines[0].PV)
}

func TestSearchFindsMateInOne(t *testing.T) {
	p := testPool(t)
	res := searchFEN(t, p, "6k1/5ppp/8/8/8/8/5PPP/R5K1 w - - 0 1", Limits{Depth: 2})

	require.Equal(t, "a1a8", res.Best.String())
	require.Equal(t, MateIn(1), p.threads[0].rootMoves[0].Score)
}

func TestSearchFindsMateInTwo(t *testing.T) {
	p := testPool(t)
	// A simple two-rook ladder: 1.Ra7 confines the king to the back rank
	// and 2.Rb8 mates.
	res := searchFEN(t, p, "6k1/8/8/8/8/8/R7/1R4K1 w - - 0 1", Limits{Depth: 6})

	require.Equal(t, MateIn(3), p.threads[0].rootMoves[0].Score)
	require.NotEqual(t, board.NoMove, res.Best)
}

func TestSearchMatedPosition(t *testing.T) {
	p := testPool(t)

	var lines []PVLine
	p.OnInfo = func(l []PVLine) { lines = l }

	res := searchFEN(t, p, "R6k/6pp/8/8/8/8/8/K7 b - - 0 1", Limits{Depth: 3})
	require.Equal(t, board.NoMove, res.Best)
	require.NotEmpty(t, lines)
	require.Equal(t, -ValueMate, lines[0].Score)
}

func TestSearchStalemate(t *testing.T) {
	p := testPool(t)

	var lines []PVLine
	p.OnInfo = func(l []PVLine) { lines = l }

	res := searchFEN(t, p, "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1", Limits{Depth: 3})
	require.Equal(t, board.NoMove, res.Best)
	require.NotEmpty(t, lines)
	require.Equal(t, ValueDraw, lines[0].Score)
}

func TestSearchRespectsNodeLimit(t *testing.T) {
	p := testPool(t)
	res := searchFEN(t, p, board.StartFEN, Limits{Nodes: 1000})

	require.NotEqual(t, board.NoMove, res.Best)
	// The checker fires between full-width nodes; a quiescence tail can
	// overshoot by a few thousand nodes at most.
	require.LessOrEqual(t, p.NodesSearched(), uint64(1000+4096))
}

func TestSearchMovesRestriction(t *testing.T) {
	p := testPool(t)
	pos := board.NewPosition()
	restrict, err := board.ParseMove("a2a3", pos)
	require.NoError(t, err)

	res := searchFEN(t, p, board.StartFEN, Limits{Depth: 4, SearchMoves: []board.Move{restrict}})
	require.Equal(t, restrict, res.Best)
}

func TestSearchKPKDrawBound(t *testing.T) {
	if testing.Short() {
		t.Skip("deep search")
	}
	p := testPool(t)
	searchFEN(t, p, "4k3/8/8/8/8/8/4P3/4K3 w - - 0 1", Limits{Depth: 20})

	score := p.threads[0].rootMoves[0].Score
	if score >= ValueMateInMaxPly {
		// A concrete mate is acceptable only with a PV that plays it out.
		require.NotEmpty(t, p.threads[0].rootMoves[0].PV)
		return
	}
	require.LessOrEqual(t, abs(score), 50, "theoretical draw scored %d", score)
}

func TestSearchPrefersRepetitionWhenLosing(t *testing.T) {
	if testing.Short() {
		t.Skip("deep search")
	}
	p := testPool(t)

	// White is two rooks down but has a perpetual: the queen shuttles
	// between e8 and h5 and the black king can never escape the checks.
	pos, err := board.ParseFEN("7k/6p1/8/7Q/8/7K/r7/r7 w - - 0 1")
	require.NoError(t, err)

	res, ok := <-p.StartSearch(pos, Limits{Depth: 12, StartTime: time.Now()})
	require.True(t, ok)
	require.NotEqual(t, board.NoMove, res.Best)

	score := p.threads[0].rootMoves[0].Score
	require.LessOrEqual(t, abs(score), 50, "perpetual-check position scored %d", score)
}

func TestMultiPVOrdering(t *testing.T) {
	p := testPool(t)
	opts := p.Options()
	opts.MultiPV = 3
	p.SetOptions(opts)

	var last []PVLine
	p.OnInfo = func(l []PVLine) { last = l }

	searchFEN(t, p, board.StartFEN, Limits{Depth: 5})

	require.Len(t, last, 3)
	seen := map[board.Move]bool{}
	for i, line := range last {
		require.Equal(t, i+1, line.MultiPV)
		require.NotEmpty(t, line.PV)
		require.False(t, seen[line.PV[0]], "duplicate PV head %s", line.PV[0])
		seen[line.PV[0]] = true
		if i > 0 {
			require.LessOrEqual(t, line.Score, last[i-1].Score)
		}
	}
}

func TestSearchStopReturnsPromptly(t *testing.T) {
	p := testPool(t)
	pos := board.NewPosition()

	done := p.StartSearch(pos, Limits{Infinite: true, StartTime: time.Now()})

	time.Sleep(50 * time.Millisecond)
	p.Stop()

	select {
	case res := <-done:
		require.NotEqual(t, board.NoMove, res.Best)
	case <-time.After(5 * time.Second):
		t.Fatal("search did not stop")
	}
}

func TestClearResetsState(t *testing.T) {
	p := testPool(t)
	searchFEN(t, p, board.StartFEN, Limits{Depth: 4})

	p.Clear()

	require.Equal(t, 0, p.tt.Hashfull())
	th := p.threads[0]
	require.Zero(t, th.hist.mainHistory.Get(board.White, board.NewMove(board.E2, board.E4)))
}

func TestSkillPickStaysWithinCandidates(t *testing.T) {
	moves := []RootMove{
		{PV: []board.Move{board.NewMove(board.E2, board.E4)}, Score: 50},
		{PV: []board.Move{board.NewMove(board.D2, board.D4)}, Score: 30},
		{PV: []board.Move{board.NewMove(board.G1, board.F3)}, Score: 10},
		{PV: []board.Move{board.NewMove(board.B1, board.C3)}, Score: -200},
	}

	sk := skill{level: 5}
	for i := 0; i < 50; i++ {
		pick := sk.pickBest(moves, 4)
		found := false
		for _, rm := range moves {
			if rm.PV[0] == pick {
				found = true
			}
		}
		require.True(t, found)
	}
}

func TestMovePickerYieldsAllLegalMovesOnce(t *testing.T) {
	pos, err := board.ParseFEN("r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq -")
	require.NoError(t, err)

	var hist historyTables
	contHist := [6]*PieceToHistory{}
	mp := newMovePicker(pos, board.NoMove, 5,
		&hist.mainHistory, &hist.lowPlyHistory, &hist.captureHistory,
		contHist, board.NoMove, [2]board.Move{}, 3)

	seen := map[board.Move]bool{}
	for m := mp.NextMove(false); m != board.NoMove; m = mp.NextMove(false) {
		require.False(t, seen[m], "move %s yielded twice", m)
		seen[m] = true
	}

	legal := pos.GenerateLegalMoves()
	require.Equal(t, legal.Len(), len(seen))
}

func TestMovePickerTTMoveFirst(t *testing.T) {
	pos := board.NewPosition()
	ttMove, _ := board.ParseMove("g1f3", pos)

	var hist historyTables
	mp := newMovePicker(pos, ttMove, 5,
		&hist.mainHistory, &hist.lowPlyHistory, &hist.captureHistory,
		[6]*PieceToHistory{}, board.NoMove, [2]board.Move{}, 0)

	require.Equal(t, ttMove, mp.NextMove(false))
}
