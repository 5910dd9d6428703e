package uci

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corvidchess/corvid/internal/board"
	"github.com/corvidchess/corvid/internal/engine"
)

// lockedBuffer collects output written from the search goroutines.
type lockedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.b.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.b.String()
}

func (lb *lockedBuffer) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.b.Reset()
}

func newTestUCI(t *testing.T) (*UCI, *lockedBuffer) {
	t.Helper()
	pool := engine.NewPool(1, 16, zerolog.Nop())
	u := New(pool, zerolog.Nop())
	buf := &lockedBuffer{}
	u.SetOutput(buf)
	return u, buf
}

// waitFor polls the buffer until the substring appears or the deadline
// passes. Searches finish asynchronously.
func waitFor(t *testing.T, buf *lockedBuffer, substr string) string {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if s := buf.String(); strings.Contains(s, substr) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("output never contained %q; got:\n%s", substr, buf.String())
	return ""
}

func TestUCIHandshake(t *testing.T) {
	u, buf := newTestUCI(t)
	u.Handle("uci")

	out := buf.String()
	require.Contains(t, out, "id name corvid")
	require.Contains(t, out, "option name Hash")
	require.Contains(t, out, "option name MultiPV")
	require.Contains(t, out, "option name Skill Level")
	require.Contains(t, out, "option name SyzygyPath")
	require.Contains(t, out, "uciok")

	buf.Reset()
	u.Handle("isready")
	require.Equal(t, "readyok\n", buf.String())
}

func TestGoDepthOneEmitsInfoAndLegalBestmove(t *testing.T) {
	u, buf := newTestUCI(t)
	u.Handle("position startpos")
	u.Handle("go depth 1")

	out := waitFor(t, buf, "bestmove")
	require.Contains(t, out, "info depth 1")

	fields := strings.Fields(out[strings.Index(out, "bestmove"):])
	require.GreaterOrEqual(t, len(fields), 2)

	legal := board.NewPosition().GenerateLegalMoves()
	mv, err := board.ParseMove(fields[1], board.NewPosition())
	require.NoError(t, err)
	require.True(t, legal.Contains(mv), "bestmove %s not legal", fields[1])
}

func TestMateInOneScore(t *testing.T) {
	u, buf := newTestUCI(t)
	u.Handle("position fen 6k1/5ppp/8/8/8/8/5PPP/R5K1 w - - 0 1")
	u.Handle("go depth 2")

	out := waitFor(t, buf, "bestmove")
	require.Contains(t, out, "score mate 1")
	require.Contains(t, out, "bestmove a1a8")
}

func TestPositionWithMoves(t *testing.T) {
	u, _ := newTestUCI(t)
	u.Handle("position startpos moves e2e4 e7e5 g1f3")

	require.Equal(t, board.Black, u.position.SideToMove)
	require.Equal(t, 3, u.position.GamePly())
}

func TestPositionFENParsing(t *testing.T) {
	u, _ := newTestUCI(t)
	u.Handle("position fen r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1 moves e2a6")

	require.Equal(t, board.Black, u.position.SideToMove)
	require.Equal(t, board.WhiteBishop, u.position.PieceAt(board.A6))
}

func TestSearchMovesRestriction(t *testing.T) {
	u, buf := newTestUCI(t)
	u.Handle("position startpos")
	u.Handle("go depth 3 searchmoves h2h4")

	out := waitFor(t, buf, "bestmove")
	require.Contains(t, out, "bestmove h2h4")
}

func TestStopDuringInfinite(t *testing.T) {
	u, buf := newTestUCI(t)
	u.Handle("position startpos")
	u.Handle("go infinite")

	time.Sleep(50 * time.Millisecond)
	u.Handle("stop")

	waitFor(t, buf, "bestmove")
}

func TestSetOptionRouting(t *testing.T) {
	u, _ := newTestUCI(t)

	u.Handle("setoption name MultiPV value 4")
	require.Equal(t, 4, u.pool.Options().MultiPV)

	u.Handle("setoption name Contempt value -10")
	require.Equal(t, -10, u.pool.Options().Contempt)

	u.Handle("setoption name Analysis Contempt value White")
	require.Equal(t, "White", u.pool.Options().AnalysisContempt)

	u.Handle("setoption name Skill Level value 10")
	require.Equal(t, 10, u.pool.Options().SkillLevel)

	u.Handle("setoption name UCI_LimitStrength value true")
	require.True(t, u.pool.Options().LimitStrength)

	u.Handle("setoption name UCI_Elo value 2000")
	require.Equal(t, 2000, u.pool.Options().Elo)

	u.Handle("setoption name UCI_ShowWDL value true")
	require.True(t, u.pool.Options().ShowWDL)

	u.Handle("setoption name Syzygy50MoveRule value false")
	require.False(t, u.pool.Options().Syzygy50Move)

	u.Handle("setoption name Move Overhead value 100")
	require.Equal(t, 100*time.Millisecond, u.moveOverhead)
}

func TestWDLOutputWhenEnabled(t *testing.T) {
	u, buf := newTestUCI(t)
	u.Handle("setoption name UCI_ShowWDL value true")
	u.Handle("position startpos")
	u.Handle("go depth 2")

	out := waitFor(t, buf, "bestmove")
	require.Contains(t, out, " wdl ")
}

func TestScoreFormatting(t *testing.T) {
	require.Equal(t, "mate 1", formatScore(engine.MateIn(1)))
	require.Equal(t, "mate 2", formatScore(engine.MateIn(3)))
	require.Equal(t, "mate -1", formatScore(engine.MatedIn(2)))
	require.Equal(t, "cp 0", formatScore(0))
	require.Equal(t, "cp 100", formatScore(engine.PawnValueEg))
}

func TestWinRateModelSane(t *testing.T) {
	w, d, l := winRate(0, 30)
	require.Equal(t, 1000, w+d+l)
	require.InDelta(t, w, l, 1, "symmetric position must have symmetric W/L")

	wWin, _, lWin := winRate(800, 30)
	require.Greater(t, wWin, lWin)
}

func TestPerftCommand(t *testing.T) {
	u, buf := newTestUCI(t)
	u.Handle("position startpos")
	u.Handle("perft 3")
	require.Contains(t, buf.String(), "Nodes searched: 8902")
}
