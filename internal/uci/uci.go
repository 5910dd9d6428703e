// Package uci implements the Universal Chess Interface protocol on top of
// the search pool. Protocol output goes to stdout; diagnostics go through
// zerolog to stderr as "info string" never would.
package uci

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/corvidchess/corvid/internal/board"
	"github.com/corvidchess/corvid/internal/book"
	"github.com/corvidchess/corvid/internal/engine"
	"github.com/corvidchess/corvid/internal/tablebase"
)

// UCI drives the protocol loop.
type UCI struct {
	pool     *engine.Pool
	position *board.Position

	out io.Writer
	log zerolog.Logger

	nnueBigPath   string
	nnueSmallPath string
	useNNUE       bool

	syzygyPath string

	ownBook  bool
	bookFile string
	openings *book.Book

	moveOverhead time.Duration
}

// New creates a protocol handler around the given pool.
func New(pool *engine.Pool, log zerolog.Logger) *UCI {
	u := &UCI{
		pool:     pool,
		position: board.NewPosition(),
		out:      os.Stdout,
		log:      log,
	}
	pool.OnInfo = u.sendInfo
	return u
}

// SetOutput redirects protocol output, used by tests.
func (u *UCI) SetOutput(w io.Writer) { u.out = w }

func (u *UCI) printf(format string, args ...any) {
	fmt.Fprintf(u.out, format, args...)
}

// Run reads commands until EOF or "quit".
func (u *UCI) Run() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)

	for scanner.Scan() {
		if !u.Handle(strings.TrimSpace(scanner.Text())) {
			return
		}
	}
}

// Handle processes one command line; it returns false on "quit".
func (u *UCI) Handle(line string) bool {
	if line == "" {
		return true
	}
	parts := strings.Fields(line)
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "uci":
		u.handleUCI()
	case "isready":
		u.printf("readyok\n")
	case "ucinewgame":
		u.handleNewGame()
	case "position":
		u.handlePosition(args)
	case "go":
		u.handleGo(args)
	case "stop":
		u.handleStop()
	case "ponderhit":
		u.pool.PonderHit()
	case "setoption":
		u.handleSetOption(args)
	case "quit":
		u.handleStop()
		return false
	case "d":
		u.printf("%s\n", u.position.String())
	case "perft":
		u.handlePerft(args)
	case "bench":
		u.handleBench(args)
	}
	return true
}

func (u *UCI) handleUCI() {
	u.printf("id name corvid\n")
	u.printf("id author the corvid developers\n\n")
	u.printf("option name Hash type spin default 64 min 1 max 33554432\n")
	u.printf("option name Threads type spin default 1 min 1 max 512\n")
	u.printf("option name MultiPV type spin default 1 min 1 max 500\n")
	u.printf("option name Ponder type check default false\n")
	u.printf("option name Contempt type spin default 24 min -100 max 100\n")
	u.printf("option name Analysis Contempt type combo default Both var Off var White var Black var Both\n")
	u.printf("option name Skill Level type spin default 20 min 0 max 20\n")
	u.printf("option name UCI_LimitStrength type check default false\n")
	u.printf("option name UCI_Elo type spin default 1350 min 1350 max 2850\n")
	u.printf("option name UCI_AnalyseMode type check default false\n")
	u.printf("option name UCI_ShowWDL type check default false\n")
	u.printf("option name Move Overhead type spin default 10 min 0 max 5000\n")
	u.printf("option name Use NNUE type check default true\n")
	u.printf("option name Eval Hybrid type check default false\n")
	u.printf("option name EvalFile type string default <empty>\n")
	u.printf("option name EvalFileSmall type string default <empty>\n")
	u.printf("option name SyzygyPath type string default <empty>\n")
	u.printf("option name SyzygyProbeDepth type spin default 1 min 1 max 100\n")
	u.printf("option name SyzygyProbeLimit type spin default 7 min 0 max 7\n")
	u.printf("option name Syzygy50MoveRule type check default true\n")
	u.printf("option name OwnBook type check default false\n")
	u.printf("option name BookFile type string default <empty>\n")
	u.printf("uciok\n")
}

func (u *UCI) handleNewGame() {
	u.pool.Clear()
	u.position = board.NewPosition()
}

// handlePosition parses "position [startpos|fen <fen>] [moves ...]".
func (u *UCI) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}

	var moveStart int
	switch args[0] {
	case "startpos":
		u.position = board.NewPosition()
		moveStart = 1
	case "fen":
		fenEnd := len(args)
		for i, arg := range args[1:] {
			if arg == "moves" {
				fenEnd = i + 1
				break
			}
		}
		pos, err := board.ParseFEN(strings.Join(args[1:fenEnd], " "))
		if err != nil {
			u.log.Error().Err(err).Msg("invalid FEN")
			return
		}
		u.position = pos
		moveStart = fenEnd
	default:
		return
	}

	// MakeMove records each predecessor key, so replaying the move list
	// leaves the repetition history complete.
	if moveStart < len(args) && args[moveStart] == "moves" {
		for _, moveStr := range args[moveStart+1:] {
			move := u.parseMove(moveStr)
			if move == board.NoMove {
				u.log.Error().Str("move", moveStr).Msg("invalid move")
				return
			}
			u.position.MakeMove(move)
		}
	}
}

// parseMove resolves a UCI move string against the legal moves.
func (u *UCI) parseMove(moveStr string) board.Move {
	if len(moveStr) < 4 {
		return board.NoMove
	}

	from, err := board.ParseSquare(moveStr[0:2])
	if err != nil {
		return board.NoMove
	}
	to, err := board.ParseSquare(moveStr[2:4])
	if err != nil {
		return board.NoMove
	}

	var promo board.PieceType
	hasPromo := false
	if len(moveStr) == 5 {
		hasPromo = true
		switch moveStr[4] {
		case 'q':
			promo = board.Queen
		case 'r':
			promo = board.Rook
		case 'b':
			promo = board.Bishop
		case 'n':
			promo = board.Knight
		default:
			return board.NoMove
		}
	}

	moves := u.position.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() != from || m.To() != to {
			continue
		}
		if hasPromo {
			if m.IsPromotion() && m.Promotion() == promo {
				return m
			}
		} else if !m.IsPromotion() {
			return m
		}
	}
	return board.NoMove
}

// handleGo parses the limits and launches the search.
func (u *UCI) handleGo(args []string) {
	limits := engine.Limits{StartTime: time.Now()}

	for i := 0; i < len(args); i++ {
		var next string
		if i+1 < len(args) {
			next = args[i+1]
		}
		switch args[i] {
		case "depth":
			limits.Depth, _ = strconv.Atoi(next)
			i++
		case "nodes":
			limits.Nodes, _ = strconv.ParseUint(next, 10, 64)
			i++
		case "mate":
			limits.Mate, _ = strconv.Atoi(next)
			i++
		case "movetime":
			ms, _ := strconv.Atoi(next)
			limits.MoveTime = time.Duration(ms) * time.Millisecond
			i++
		case "wtime":
			ms, _ := strconv.Atoi(next)
			limits.Time[board.White] = time.Duration(ms) * time.Millisecond
			i++
		case "btime":
			ms, _ := strconv.Atoi(next)
			limits.Time[board.Black] = time.Duration(ms) * time.Millisecond
			i++
		case "winc":
			ms, _ := strconv.Atoi(next)
			limits.Inc[board.White] = time.Duration(ms) * time.Millisecond
			i++
		case "binc":
			ms, _ := strconv.Atoi(next)
			limits.Inc[board.Black] = time.Duration(ms) * time.Millisecond
			i++
		case "movestogo":
			limits.MovesToGo, _ = strconv.Atoi(next)
			i++
		case "infinite":
			limits.Infinite = true
		case "ponder":
			limits.Ponder = true
		case "perft":
			d, _ := strconv.Atoi(next)
			u.handlePerft([]string{strconv.Itoa(d)})
			return
		case "searchmoves":
			for j := i + 1; j < len(args); j++ {
				if m := u.parseMove(args[j]); m != board.NoMove {
					limits.SearchMoves = append(limits.SearchMoves, m)
				}
				i = j
			}
		}
	}

	// Discount the configured move overhead from the clock.
	for c := range limits.Time {
		if limits.Time[c] > u.moveOverhead {
			limits.Time[c] -= u.moveOverhead
		}
	}

	// Consult the opening book before firing up the workers.
	if u.ownBook && u.openings != nil && !limits.Infinite {
		if bm, ok := u.openings.Probe(u.position); ok && bm != board.NoMove {
			u.printf("bestmove %s\n", bm.String())
			return
		}
	}

	done := u.pool.StartSearch(u.position.Copy(), limits)

	go func() {
		res, ok := <-done
		if !ok {
			return
		}
		if res.Best == board.NoMove {
			u.printf("bestmove 0000\n")
			return
		}
		if res.Ponder != board.NoMove {
			u.printf("bestmove %s ponder %s\n", res.Best.String(), res.Ponder.String())
		} else {
			u.printf("bestmove %s\n", res.Best.String())
		}
	}()
}

func (u *UCI) handleStop() {
	u.pool.Stop()
	u.pool.WaitForSearchFinished()
}

func (u *UCI) handleSetOption(args []string) {
	var name, value string
	target := &name
	for _, arg := range args {
		switch arg {
		case "name":
			target = &name
		case "value":
			target = &value
		default:
			if *target != "" {
				*target += " "
			}
			*target += arg
		}
	}

	opts := u.pool.Options()

	switch strings.ToLower(name) {
	case "hash":
		if mb, err := strconv.Atoi(value); err == nil && mb >= 1 {
			u.pool.SetHashSize(mb)
		}
	case "threads":
		if n, err := strconv.Atoi(value); err == nil && n >= 1 {
			u.pool.SetThreads(n)
		}
	case "multipv":
		if n, err := strconv.Atoi(value); err == nil && n >= 1 {
			opts.MultiPV = n
		}
	case "ponder":
		// The pool handles pondering per "go ponder"; nothing to store.
	case "contempt":
		if n, err := strconv.Atoi(value); err == nil {
			opts.Contempt = n
		}
	case "analysis contempt":
		opts.AnalysisContempt = value
	case "skill level":
		if n, err := strconv.Atoi(value); err == nil {
			opts.SkillLevel = n
		}
	case "uci_limitstrength":
		opts.LimitStrength = strings.EqualFold(value, "true")
	case "uci_elo":
		if n, err := strconv.Atoi(value); err == nil {
			opts.Elo = n
		}
	case "uci_analysemode":
		opts.AnalyseMode = strings.EqualFold(value, "true")
	case "uci_showwdl":
		opts.ShowWDL = strings.EqualFold(value, "true")
	case "move overhead":
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			u.moveOverhead = time.Duration(ms) * time.Millisecond
		}
	case "use nnue":
		u.useNNUE = strings.EqualFold(value, "true")
		u.tryLoadNNUE()
	case "eval hybrid":
		opts.HybridEval = strings.EqualFold(value, "true")
	case "evalfile":
		u.nnueBigPath = value
		u.tryLoadNNUE()
	case "evalfilesmall":
		u.nnueSmallPath = value
		u.tryLoadNNUE()
	case "syzygypath":
		u.syzygyPath = value
		u.initSyzygy()
	case "syzygyprobedepth":
		if n, err := strconv.Atoi(value); err == nil && n >= 1 {
			opts.SyzygyProbeDepth = n
		}
	case "syzygyprobelimit":
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			opts.SyzygyProbeLimit = n
		}
	case "syzygy50moverule":
		opts.Syzygy50Move = strings.EqualFold(value, "true")
	case "ownbook":
		u.ownBook = strings.EqualFold(value, "true")
		u.tryLoadBook()
	case "bookfile":
		u.bookFile = value
		u.tryLoadBook()
	}

	u.pool.SetOptions(opts)
}

func (u *UCI) tryLoadNNUE() {
	if !u.useNNUE || u.nnueBigPath == "" || u.nnueSmallPath == "" ||
		u.nnueBigPath == "<empty>" || u.nnueSmallPath == "<empty>" {
		return
	}
	if err := u.pool.LoadNetworks(u.nnueBigPath, u.nnueSmallPath); err != nil {
		u.log.Error().Err(err).Msg("failed to load NNUE networks")
		return
	}
	u.log.Info().Str("big", u.nnueBigPath).Str("small", u.nnueSmallPath).
		Msg("NNUE networks loaded")
}

func (u *UCI) tryLoadBook() {
	if !u.ownBook || u.bookFile == "" || u.bookFile == "<empty>" {
		return
	}
	b, err := book.LoadPolyglot(u.bookFile)
	if err != nil {
		u.log.Error().Err(err).Str("file", u.bookFile).Msg("failed to load book")
		return
	}
	u.openings = b
	u.log.Info().Str("file", u.bookFile).Int("positions", b.Size()).Msg("book loaded")
}

func (u *UCI) initSyzygy() {
	if u.syzygyPath == "" || u.syzygyPath == "<empty>" {
		return
	}
	prober := tablebase.NewSyzygyProber(u.syzygyPath, u.log)
	u.pool.SetTablebase(prober)
	u.log.Info().Str("path", u.syzygyPath).Int("maxPieces", prober.MaxPieces()).
		Msg("tablebases initialized")
}

// sendInfo formats one batch of PV lines.
func (u *UCI) sendInfo(lines []engine.PVLine) {
	opts := u.pool.Options()
	for _, line := range lines {
		parts := []string{
			fmt.Sprintf("depth %d", line.Depth),
			fmt.Sprintf("seldepth %d", line.SelDepth),
			fmt.Sprintf("multipv %d", line.MultiPV),
			"score " + formatScore(line.Score),
		}

		if opts.ShowWDL {
			w, d, l := winRate(line.Score, u.position.GamePly())
			parts = append(parts, fmt.Sprintf("wdl %d %d %d", w, d, l))
		}
		if line.LowerBound {
			parts = append(parts, "lowerbound")
		} else if line.UpperBound {
			parts = append(parts, "upperbound")
		}

		parts = append(parts,
			fmt.Sprintf("nodes %d", line.Nodes),
			fmt.Sprintf("nps %d", line.NPS),
		)
		if line.HashFull > 0 {
			parts = append(parts, fmt.Sprintf("hashfull %d", line.HashFull))
		}
		parts = append(parts,
			fmt.Sprintf("tbhits %d", line.TBHits),
			fmt.Sprintf("time %d", line.Time.Milliseconds()),
		)

		if len(line.PV) > 0 {
			pv := lo.Map(line.PV, func(m board.Move, _ int) string { return m.String() })
			parts = append(parts, "pv "+strings.Join(pv, " "))
		}

		u.printf("info %s\n", strings.Join(parts, " "))
	}
}

// formatScore renders "cp N" or "mate N" per the protocol.
func formatScore(v int) string {
	if v >= engine.ValueMateInMaxPly {
		return fmt.Sprintf("mate %d", (engine.ValueMate-v+1)/2)
	}
	if v <= engine.ValueMatedInMaxPly {
		return fmt.Sprintf("mate %d", -(engine.ValueMate+v)/2)
	}
	return fmt.Sprintf("cp %d", v*100/engine.PawnValueEg)
}

// winRate converts a score to win/draw/loss per mille using the fitted
// win-rate model.
func winRate(v, ply int) (w, d, l int) {
	w = winRateModel(v, ply)
	l = winRateModel(-v, ply)
	d = 1000 - w - l
	return
}

func winRateModel(v, ply int) int {
	m := math.Min(240, float64(ply)) / 64.0

	as := [4]float64{-8.24404295, 64.23892342, -95.73056462, 153.31955912}
	bs := [4]float64{-3.37154371, 28.44489198, -56.67657741, 72.05858751}
	a := ((as[0]*m+as[1])*m+as[2])*m + as[3]
	b := ((bs[0]*m+bs[1])*m+bs[2])*m + bs[3]

	x := math.Max(-1000, math.Min(1000, float64(v)))

	return int(0.5 + 1000/(1+math.Exp((a-x)/b)))
}

func (u *UCI) handlePerft(args []string) {
	depth := 5
	if len(args) > 0 {
		depth, _ = strconv.Atoi(args[0])
	}

	start := time.Now()
	divide, total := engine.PerftDivide(u.position.Copy(), depth)
	elapsed := time.Since(start)

	for move, cnt := range divide {
		u.printf("%s: %d\n", move, cnt)
	}
	u.printf("\nNodes searched: %d\n", total)
	u.printf("Time: %v\n", elapsed)

	u.log.Debug().Int("depth", depth).Uint64("nodes", total).Dur("elapsed", elapsed).Msg("perft")
}

// handleBench runs a fixed-depth search over a small position set and
// reports the node total, for quick regression comparisons.
func (u *UCI) handleBench(args []string) {
	depth := 8
	if len(args) > 0 {
		depth, _ = strconv.Atoi(args[0])
	}

	fens := []string{
		board.StartFEN,
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq -",
		"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - -",
		"r3k2r/Pppp1ppp/1b3nbN/nP6/BBP1P3/q4N2/Pp1P2PP/R2Q1RK1 w kq - 0 1",
		"rnbq1k1r/pp1Pbppp/2p5/8/2B5/8/PPP1NnPP/RNBQK2R w KQ - 1 8",
	}

	start := time.Now()
	var totalNodes uint64
	for i, fen := range fens {
		pos, err := board.ParseFEN(fen)
		if err != nil {
			continue
		}
		u.printf("\nPosition: %d/%d\n", i+1, len(fens))
		done := u.pool.StartSearch(pos, engine.Limits{Depth: depth, StartTime: time.Now()})
		<-done
		totalNodes += u.pool.NodesSearched()
	}
	elapsed := time.Since(start)

	u.printf("\n===========================\n")
	u.printf("Total time (ms) : %d\n", elapsed.Milliseconds())
	u.printf("Nodes searched  : %d\n", totalNodes)
	if elapsed > 0 {
		u.printf("Nodes/second    : %d\n", uint64(float64(totalNodes)/elapsed.Seconds()))
	}
}
