package engine

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/corvidchess/corvid/internal/board"
)

// Limits carries the constraints of one "go" command.
type Limits struct {
	Depth       int
	Nodes       uint64
	Mate        int
	MoveTime    time.Duration
	Infinite    bool
	Ponder      bool
	Time        [2]time.Duration // remaining time per color
	Inc         [2]time.Duration // increment per color
	MovesToGo   int
	SearchMoves []board.Move
	Perft       int
	StartTime   time.Time
}

// UseTimeManagement reports whether the search is clock-driven.
func (l *Limits) UseTimeManagement() bool {
	return l.Time[board.White] != 0 || l.Time[board.Black] != 0
}

// Options is the runtime configuration consumed by the search, set from
// the UCI option surface.
type Options struct {
	MultiPV          int
	Contempt         int    // centipawns
	AnalysisContempt string // Off, Both, White, Black
	SkillLevel       int
	LimitStrength    bool
	Elo              int
	AnalyseMode      bool
	ShowWDL          bool
	HybridEval       bool
	SyzygyProbeLimit int
	SyzygyProbeDepth int
	Syzygy50Move     bool
}

// DefaultOptions returns the option set matching the UCI defaults.
func DefaultOptions() Options {
	return Options{
		MultiPV:          1,
		AnalysisContempt: "Both",
		Contempt:         24,
		SkillLevel:       20,
		Elo:              1350,
		SyzygyProbeLimit: 7,
		SyzygyProbeDepth: 1,
		Syzygy50Move:     true,
	}
}

// RootMove is one legal move of the root position together with its
// accumulated search results.
type RootMove struct {
	PV            []board.Move
	Score         int
	PreviousScore int
	SelDepth      int
	TBRank        int
	TBScore       int
}

// rootMoveLess orders root moves best-first; stable sorts preserve the
// previous iteration's order among unscored moves.
func rootMoveLess(a, b *RootMove) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.PreviousScore > b.PreviousScore
}

// PVLine is one line of "info" output, produced by the driver and
// formatted by the UCI layer.
type PVLine struct {
	Depth      int
	SelDepth   int
	MultiPV    int
	Score      int
	LowerBound bool
	UpperBound bool
	TBScore    bool
	Nodes      uint64
	NPS        uint64
	HashFull   int
	TBHits     uint64
	Time       time.Duration
	PV         []board.Move
}

// Tablebase is the probing contract the search consumes. Probes that fail
// (missing files, network trouble) report ok=false and are ignored.
type Tablebase interface {
	// ProbeWDL returns the win/draw/loss score from the side to move's
	// point of view: 2 win, 0 draw, -2 loss, with ±1 for cursed results.
	ProbeWDL(pos *board.Position) (wdl int, ok bool)
	// MaxPieces reports the largest piece count covered by the tables.
	MaxPieces() int
}

// stackFrame is one level of the search recursion. The stack is oversized
// by seven sentinel frames below the root and two above MaxPly so that
// ss-7 … ss+2 indexing stays in bounds.
type stackFrame struct {
	ply          int
	currentMove  board.Move
	excludedMove board.Move
	killers      [2]board.Move
	staticEval   int
	statScore    int
	moveCount    int
	inCheck      bool
	ttPv         bool
	ttHit        bool
	contHist     *PieceToHistory
}

const stackOffset = 7

// pvTable is a triangular principal-variation collector.
type pvTable struct {
	length [MaxPly + 2]int
	moves  [MaxPly + 2][MaxPly + 2]board.Move
}

func (t *pvTable) reset(ply int) {
	t.length[ply] = ply
}

func (t *pvTable) update(ply int, m board.Move) {
	t.moves[ply][ply] = m
	for i := ply + 1; i < t.length[ply+1]; i++ {
		t.moves[ply][i] = t.moves[ply+1][i]
	}
	t.length[ply] = t.length[ply+1]
}

func (t *pvTable) line(ply int) []board.Move {
	return t.moves[ply][ply:t.length[ply]]
}

// Thread is one lazy-SMP worker. It owns its position copy and heuristic
// tables and shares only the transposition table and breadcrumbs.
type Thread struct {
	id   int
	pool *Pool

	pos       *board.Position
	rootMoves []RootMove
	rootDepth int

	completedDepth int
	selDepth       int
	pvIdx, pvLast  int

	nodes  atomic.Uint64
	tbHits atomic.Uint64

	ttHitAverage    uint64
	bestMoveChanges float64
	failedHighCnt   int
	nmpMinPly       int
	nmpColor        board.Color
	rootColor       board.Color
	contempt        int

	// Tablebase configuration resolved per search.
	tbCardinality int
	tbProbeDepth  int
	tbUseRule50   bool
	rootInTB      bool

	hist  historyTables
	stack [MaxPly + stackOffset + 3]stackFrame
	pv    pvTable

	eval *evaluator

	// Main thread only.
	callsCnt        int
	stopOnPonderhit bool
}

const (
	ttHitAverageWindow     = 4096
	ttHitAverageResolution = 1024
)

func newThread(id int, pool *Pool) *Thread {
	return &Thread{
		id:   id,
		pool: pool,
		eval: newEvaluator(pool.nnue),
	}
}

func (th *Thread) isMain() bool { return th.id == 0 }

func (th *Thread) frame(sp int) *stackFrame { return &th.stack[sp] }

// clear resets the thread's heuristic state to startup values.
func (th *Thread) clear() {
	th.hist.clear()
	th.completedDepth = 0
	th.bestMoveChanges = 0
	th.nmpMinPly = 0
}

// Pool owns the worker threads and everything they share.
type Pool struct {
	threads []*Thread

	tt          *TranspositionTable
	breadcrumbs breadcrumbTable
	reductions  [board.MaxMoves]int

	stop          atomic.Bool
	ponder        atomic.Bool
	increaseDepth atomic.Bool

	limits  Limits
	options Options
	timeman TimeManager

	nnue *evalNetworks
	tb   Tablebase

	bestPreviousScore     int
	iterValue             [4]int
	previousTimeReduction float64

	log zerolog.Logger

	// OnInfo, when set, receives PV updates as the search deepens.
	OnInfo func([]PVLine)

	wg sync.WaitGroup
}

type SearchResult struct {
	Best   board.Move
	Ponder board.Move
}

// NewPool creates a pool with the given number of workers sharing a
// transposition table of ttSizeMB megabytes.
func NewPool(numThreads, ttSizeMB int, log zerolog.Logger) *Pool {
	p := &Pool{
		tt:                    NewTranspositionTable(ttSizeMB),
		options:               DefaultOptions(),
		previousTimeReduction: 1.0,
		bestPreviousScore:     ValueInfinite,
		log:                   log,
	}
	p.SetThreads(numThreads)
	return p
}

// SetThreads resizes the worker fleet and reseeds the reduction table,
// which scales with the thread count.
func (p *Pool) SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	p.threads = make([]*Thread, n)
	for i := range p.threads {
		p.threads[i] = newThread(i, p)
	}
	for i := 1; i < board.MaxMoves; i++ {
		p.reductions[i] = int((21.3 + 2*math.Log(float64(n))) *
			math.Log(float64(i)+0.25*math.Log(float64(i))))
	}
}

func (p *Pool) reduction(improving bool, depth, moveCount int) int {
	r := p.reductions[min(depth, board.MaxMoves-1)] * p.reductions[min(moveCount, board.MaxMoves-1)]
	v := (r + 503) / 1024
	if !improving && r > 915 {
		v++
	}
	return v
}

// SetOptions replaces the runtime option set. Not safe during a search.
func (p *Pool) SetOptions(o Options) { p.options = o }

// Options returns the current option set.
func (p *Pool) Options() Options { return p.options }

// SetHashSize resizes the shared transposition table.
func (p *Pool) SetHashSize(mb int) { p.tt.Resize(mb) }

// SetTablebase installs the tablebase prober.
func (p *Pool) SetTablebase(tb Tablebase) { p.tb = tb }

// LoadNetworks loads the NNUE network pair used by every worker.
func (p *Pool) LoadNetworks(bigPath, smallPath string) error {
	nets, err := loadNetworks(bigPath, smallPath)
	if err != nil {
		return err
	}
	p.nnue = nets
	for _, th := range p.threads {
		th.eval = newEvaluator(nets)
	}
	return nil
}

// HasNetworks reports whether NNUE evaluation is available.
func (p *Pool) HasNetworks() bool { return p.nnue != nil }

// NodesSearched sums the node counters of all workers.
func (p *Pool) NodesSearched() uint64 {
	var n uint64
	for _, th := range p.threads {
		n += th.nodes.Load()
	}
	return n
}

// TBHits sums the tablebase hit counters of all workers.
func (p *Pool) TBHits() uint64 {
	var n uint64
	for _, th := range p.threads {
		n += th.tbHits.Load()
	}
	return n
}

// Hashfull exposes the transposition table occupancy estimate.
func (p *Pool) Hashfull() int { return p.tt.Hashfull() }

// Clear resets the shared table and every worker's heuristics, as on
// "ucinewgame".
func (p *Pool) Clear() {
	p.WaitForSearchFinished()
	p.tt.Clear()
	for _, th := range p.threads {
		th.clear()
		th.hist.clear()
	}
	p.bestPreviousScore = ValueInfinite
	p.previousTimeReduction = 1.0
}

// Stop raises the cancellation flag.
func (p *Pool) Stop() {
	p.stop.Store(true)
}

// PonderHit switches a ponder search to a normal one.
func (p *Pool) PonderHit() {
	p.ponder.Store(false)
	main := p.threads[0]
	if main.stopOnPonderhit {
		p.stop.Store(true)
	}
}

// WaitForSearchFinished blocks until the current search, if any, is done.
func (p *Pool) WaitForSearchFinished() {
	p.wg.Wait()
}

// StartSearch launches the workers on pos under the given limits. It
// returns immediately; the result arrives on the returned channel.
func (p *Pool) StartSearch(pos *board.Position, limits Limits) <-chan SearchResult {
	p.WaitForSearchFinished()

	if limits.StartTime.IsZero() {
		limits.StartTime = time.Now()
	}
	p.limits = limits
	p.stop.Store(false)
	p.ponder.Store(limits.Ponder)
	p.increaseDepth.Store(true)
	p.tt.NewSearch()
	p.timeman.Init(&limits, pos.SideToMove, pos.GamePly())

	rootMoves := buildRootMoves(pos, limits.SearchMoves)

	done := make(chan SearchResult, 1)

	p.wg.Add(1)
	go p.mainSearch(pos, rootMoves, done)
	return done
}

// buildRootMoves lists the legal root moves, honoring "searchmoves".
func buildRootMoves(pos *board.Position, searchMoves []board.Move) []RootMove {
	legal := pos.GenerateLegalMoves()
	moves := make([]RootMove, 0, legal.Len())
	for i := 0; i < legal.Len(); i++ {
		m := legal.Get(i)
		if len(searchMoves) > 0 {
			found := false
			for _, sm := range searchMoves {
				if sm == m {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		moves = append(moves, RootMove{PV: []board.Move{m}, Score: -ValueInfinite, PreviousScore: -ValueInfinite})
	}
	return moves
}

// mainSearch runs the whole search: it spreads the workers, waits for
// them, votes for the best thread and publishes the result.
func (p *Pool) mainSearch(pos *board.Position, rootMoves []RootMove, done chan SearchResult) {
	defer p.wg.Done()
	defer close(done)

	main := p.threads[0]

	if len(rootMoves) == 0 {
		score := ValueDraw
		if pos.InCheck() {
			score = -ValueMate
		}
		if p.OnInfo != nil {
			p.OnInfo([]PVLine{{Depth: 0, MultiPV: 1, Score: score}})
		}
		done <- SearchResult{Best: board.NoMove}
		return
	}

	for _, th := range p.threads {
		th.nodes.Store(0)
		th.tbHits.Store(0)
		th.pos = pos.Copy()
		th.rootMoves = append([]RootMove(nil), rootMoves...)
		for i := range th.rootMoves {
			th.rootMoves[i].PV = append([]board.Move(nil), th.rootMoves[i].PV...)
		}
		th.rootDepth = 0
		th.completedDepth = 0
		th.selDepth = 0
		th.failedHighCnt = 0
		th.bestMoveChanges = 0
		th.nmpMinPly = 0
		th.rootInTB = false
		th.stopOnPonderhit = false
		th.configureTablebases()
		th.rankRootMoves()
	}

	var g errgroup.Group
	for _, th := range p.threads[1:] {
		g.Go(th.iterativeDeepening)
	}
	if err := main.iterativeDeepening(); err != nil {
		p.log.Error().Err(err).Msg("main worker failed")
	}

	// When pondering or in an infinite search the protocol forbids moving
	// before "stop" or "ponderhit".
	for !p.stop.Load() && (p.ponder.Load() || p.limits.Infinite) {
		time.Sleep(time.Millisecond)
	}
	p.stop.Store(true)

	if err := g.Wait(); err != nil {
		p.log.Error().Err(err).Msg("worker failed")
	}

	best := main
	if p.options.MultiPV == 1 && p.limits.Depth == 0 &&
		p.options.SkillLevel >= 20 && !p.options.LimitStrength &&
		main.rootMoves[0].PV[0] != board.NoMove {
		best = p.bestThread()
	}

	p.bestPreviousScore = best.rootMoves[0].Score

	if best != main && p.OnInfo != nil {
		p.OnInfo(p.pvInfo(best, best.completedDepth, -ValueInfinite, ValueInfinite))
	}

	result := SearchResult{Best: best.rootMoves[0].PV[0]}
	if len(best.rootMoves[0].PV) > 1 {
		result.Ponder = best.rootMoves[0].PV[1]
	} else if pm, ok := best.extractPonderFromTT(pos); ok {
		result.Ponder = pm
	}
	done <- result
}

// bestThread votes between the workers: a higher score wins when its
// worker completed at least as deep (a mate score wins at any depth), and
// on equal scores the deeper completion wins.
func (p *Pool) bestThread() *Thread {
	best := p.threads[0]
	for _, th := range p.threads[1:] {
		bs, ts := best.rootMoves[0].Score, th.rootMoves[0].Score
		if (ts > bs && (th.completedDepth >= best.completedDepth || ts >= ValueMateInMaxPly)) ||
			(ts == bs && th.completedDepth > best.completedDepth) {
			best = th
		}
	}
	return best
}

// extractPonderFromTT tries to recover a ponder move from the table when
// the PV is only one move long (e.g. after a stop during a fail high).
func (th *Thread) extractPonderFromTT(pos *board.Position) (board.Move, bool) {
	bestMove := th.rootMoves[0].PV[0]
	if bestMove == board.NoMove {
		return board.NoMove, false
	}
	work := pos.Copy()
	undo := work.MakeMove(bestMove)
	if !undo.Valid {
		return board.NoMove, false
	}
	entry, hit := th.pool.tt.Probe(work.Hash)
	if !hit || entry.Move == board.NoMove {
		return board.NoMove, false
	}
	legal := work.GenerateLegalMoves()
	if !legal.Contains(entry.Move) {
		return board.NoMove, false
	}
	return entry.Move, true
}

// configureTablebases resolves the per-search tablebase fields.
func (th *Thread) configureTablebases() {
	o := th.pool.options
	th.tbCardinality = o.SyzygyProbeLimit
	th.tbProbeDepth = o.SyzygyProbeDepth
	th.tbUseRule50 = o.Syzygy50Move
	if th.pool.tb == nil {
		th.tbCardinality = 0
		return
	}
	if th.tbCardinality > th.pool.tb.MaxPieces() {
		th.tbCardinality = th.pool.tb.MaxPieces()
		th.tbProbeDepth = 0
	}
}

// rankRootMoves ranks the root moves with WDL probes when the position is
// already inside the tables.
func (th *Thread) rankRootMoves() {
	tb := th.pool.tb
	if tb == nil || th.tbCardinality < th.pos.CountAll() ||
		th.pos.CastlingRights != board.NoCastling {
		return
	}

	drawScore := 0
	if th.tbUseRule50 {
		drawScore = 1
	}

	ranked := true
	for i := range th.rootMoves {
		m := th.rootMoves[i].PV[0]
		undo := th.pos.MakeMove(m)
		wdl, ok := tb.ProbeWDL(th.pos)
		th.pos.UnmakeMove(m, undo)
		if !ok {
			ranked = false
			break
		}
		wdl = -wdl // back to the root side's view
		th.rootMoves[i].TBRank = wdl * 1000

		switch {
		case wdl < -drawScore:
			th.rootMoves[i].TBScore = ValueMatedInMaxPly + 1
		case wdl > drawScore:
			th.rootMoves[i].TBScore = ValueMateInMaxPly - 1
		default:
			th.rootMoves[i].TBScore = ValueDraw + 2*wdl*drawScore
		}
	}

	if !ranked {
		for i := range th.rootMoves {
			th.rootMoves[i].TBRank = 0
		}
		return
	}

	th.rootInTB = true
	sort.SliceStable(th.rootMoves, func(i, j int) bool {
		return th.rootMoves[i].TBRank > th.rootMoves[j].TBRank
	})
	// With WDL ranking done, keep probing during the search only when
	// the best line is winning.
	if th.rootMoves[0].TBScore <= ValueDraw {
		th.tbCardinality = 0
	}
}

// Perft counts leaf nodes to the given depth, the standard move generator
// check.
func Perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}
	moves := pos.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}
	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		undo := pos.MakeMove(m)
		nodes += Perft(pos, depth-1)
		pos.UnmakeMove(m, undo)
	}
	return nodes
}

// PerftDivide returns the per-move subtotals at the root.
func PerftDivide(pos *board.Position, depth int) (map[string]uint64, uint64) {
	result := make(map[string]uint64)
	var total uint64
	moves := pos.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		undo := pos.MakeMove(m)
		cnt := Perft(pos, depth-1)
		pos.UnmakeMove(m, undo)
		result[m.String()] = cnt
		total += cnt
	}
	return result, total
}
