package engine

import (
	"sort"
	"time"

	"github.com/corvidchess/corvid/internal/board"
)

// Razoring margin and child futility margin.
const razorMargin = 510

func futilityMargin(depth int, improving bool) int {
	i := 0
	if improving {
		i = 1
	}
	return 234 * (depth - i)
}

func futilityMoveCount(improving bool, depth int) int {
	d := 2
	if improving {
		d = 1
	}
	return (3 + depth*depth) / d
}

// valueDraw dithers draw scores by one centipawn to steer identical-score
// lines apart and avoid threefold blindness.
func (th *Thread) valueDraw() int {
	return ValueDraw + 2*int(th.nodes.Load()&1) - 1
}

// staticEval runs the configured evaluator and folds in contempt.
func (th *Thread) staticEval() int {
	var v int
	if th.pool.options.HybridEval {
		v = th.eval.evaluateHybrid(th.pos)
	} else {
		v = th.eval.evaluate(th.pos)
	}
	if th.pos.SideToMove == th.rootColor {
		v += th.contempt
	} else {
		v -= th.contempt
	}
	return clamp(v, ValueTBLossInMaxPly+1, ValueTBWinInMaxPly-1)
}


// iterativeDeepening is the per-worker driver: it walks rootDepth upward,
// running an aspiration-window search for each MultiPV line, and on the
// main thread does the time-management bookkeeping.
func (th *Thread) iterativeDeepening() error {
	p := th.pool

	// Pseudo-frames below the root point at the sentinel continuation row
	// so that (ss-N) accesses are always valid.
	for i := range th.stack {
		th.stack[i] = stackFrame{}
	}
	for i := 0; i < stackOffset; i++ {
		th.stack[i].contHist = th.hist.continuationHistory.Sentinel()
	}
	th.stack[stackOffset].ply = 0

	th.hist.lowPlyHistory.ShiftDown()
	th.ttHitAverage = ttHitAverageWindow * ttHitAverageResolution / 2
	th.rootColor = th.pos.SideToMove

	var (
		lastBestMove      board.Move
		lastBestMoveDepth int
		timeReduction     = 1.0
		totBestMoveChanges = 0.0
		iterIdx           int
		bestValue         = -ValueInfinite
	)

	mainThread := th.isMain()
	if mainThread {
		if p.bestPreviousScore == ValueInfinite {
			for i := range p.iterValue {
				p.iterValue[i] = ValueZero
			}
		} else {
			for i := range p.iterValue {
				p.iterValue[i] = p.bestPreviousScore
			}
		}
		th.callsCnt = 1
	}

	multiPV := p.options.MultiPV
	sk := skill{level: skillLevel(p.options)}
	if sk.enabled() {
		multiPV = max(multiPV, 4)
	}
	multiPV = min(multiPV, len(th.rootMoves))

	// Base contempt, adjusted in analysis mode by user preference.
	ct := p.options.Contempt * PawnValueEg / 100
	if p.limits.Infinite || p.options.AnalyseMode {
		switch p.options.AnalysisContempt {
		case "Off":
			ct = 0
		case "White":
			if th.rootColor == board.Black {
				ct = -ct
			}
		case "Black":
			if th.rootColor == board.White {
				ct = -ct
			}
		}
	}
	th.contempt = ct

	searchAgainCounter := 0

	for th.rootDepth++; th.rootDepth < MaxPly &&
		!p.stop.Load() &&
		!(p.limits.Depth != 0 && mainThread && th.rootDepth > p.limits.Depth); th.rootDepth++ {

		if mainThread {
			totBestMoveChanges /= 2
		}

		for i := range th.rootMoves {
			th.rootMoves[i].PreviousScore = th.rootMoves[i].Score
		}

		pvFirst := 0
		th.pvLast = 0

		if !p.increaseDepth.Load() {
			searchAgainCounter++
		}

		for th.pvIdx = 0; th.pvIdx < multiPV && !p.stop.Load(); th.pvIdx++ {
			if th.pvIdx == th.pvLast {
				pvFirst = th.pvLast
				for th.pvLast++; th.pvLast < len(th.rootMoves); th.pvLast++ {
					if th.rootMoves[th.pvLast].TBRank != th.rootMoves[pvFirst].TBRank {
						break
					}
				}
			}

			th.selDepth = 0

			alpha, beta := -ValueInfinite, ValueInfinite
			delta := 0
			if th.rootDepth >= 4 {
				prev := th.rootMoves[th.pvIdx].PreviousScore
				delta = 17
				alpha = max(prev-delta, -ValueInfinite)
				beta = min(prev+delta, ValueInfinite)

				// Dynamic contempt leans with the expected result.
				dct := ct + (113-ct/2)*prev/(abs(prev)+147)
				th.contempt = dct
			}

			th.failedHighCnt = 0
			for {
				adjustedDepth := max(1, th.rootDepth-th.failedHighCnt-searchAgainCounter)
				bestValue = th.search(true, stackOffset, alpha, beta, adjustedDepth, false)

				sortRootMoves(th.rootMoves[th.pvIdx:th.pvLast])

				if p.stop.Load() {
					break
				}

				if mainThread && multiPV == 1 &&
					(bestValue <= alpha || bestValue >= beta) &&
					p.timeman.Elapsed() > 3*time.Second && p.OnInfo != nil {
					p.OnInfo(p.pvInfo(th, th.rootDepth, alpha, beta))
				}

				if bestValue <= alpha {
					beta = (alpha + beta) / 2
					alpha = max(bestValue-delta, -ValueInfinite)
					th.failedHighCnt = 0
					if mainThread {
						th.stopOnPonderhit = false
					}
				} else if bestValue >= beta {
					beta = min(bestValue+delta, ValueInfinite)
					th.failedHighCnt++
				} else {
					break
				}

				delta += delta/4 + 5
			}

			sortRootMoves(th.rootMoves[pvFirst : th.pvIdx+1])

			if mainThread && p.OnInfo != nil &&
				(p.stop.Load() || th.pvIdx+1 == multiPV || p.timeman.Elapsed() > 3*time.Second) {
				p.OnInfo(p.pvInfo(th, th.rootDepth, alpha, beta))
			}
		}

		if !p.stop.Load() {
			th.completedDepth = th.rootDepth
		}

		if th.rootMoves[0].PV[0] != lastBestMove {
			lastBestMove = th.rootMoves[0].PV[0]
			lastBestMoveDepth = th.rootDepth
		}

		// Stop once a requested mate-in-x is proven.
		if p.limits.Mate != 0 && bestValue >= ValueMateInMaxPly &&
			ValueMate-bestValue <= 2*p.limits.Mate {
			p.stop.Store(true)
		}

		if !mainThread {
			continue
		}

		if sk.enabled() && sk.timeToPick(th.rootDepth) {
			sk.pickBest(th.rootMoves, multiPV)
		}

		if p.limits.UseTimeManagement() && !p.stop.Load() && !th.stopOnPonderhit {
			fallingEval := (318 + 6*float64(p.bestPreviousScore-bestValue) +
				6*float64(p.iterValue[iterIdx]-bestValue)) / 825.0
			fallingEval = clampFloat(fallingEval, 0.5, 1.5)

			// Discount thinking time when the best move has been stable.
			if lastBestMoveDepth+9 < th.completedDepth {
				timeReduction = 1.92
			} else {
				timeReduction = 0.95
			}
			reduction := (1.47 + p.previousTimeReduction) / (2.32 * timeReduction)

			for _, w := range p.threads {
				totBestMoveChanges += w.bestMoveChanges
				w.bestMoveChanges = 0
			}
			bestMoveInstability := 1 + 2*totBestMoveChanges/float64(len(p.threads))

			totalTime := float64(p.timeman.Optimum()) * fallingEval * reduction * bestMoveInstability
			if len(th.rootMoves) == 1 {
				totalTime = minFloat(totalTime, float64(500*time.Millisecond))
			}

			elapsed := float64(p.timeman.Elapsed())
			switch {
			case elapsed > totalTime:
				if p.ponder.Load() {
					th.stopOnPonderhit = true
				} else {
					p.stop.Store(true)
				}
			case p.increaseDepth.Load() && !p.ponder.Load() && elapsed > totalTime*0.58:
				p.increaseDepth.Store(false)
			default:
				p.increaseDepth.Store(true)
			}
		}

		p.iterValue[iterIdx] = bestValue
		iterIdx = (iterIdx + 1) & 3
	}

	if !mainThread {
		return nil
	}

	p.previousTimeReduction = timeReduction

	// With a handicap active, swap the chosen sub-optimal line to the front.
	if sk.enabled() {
		best := sk.best
		if best == board.NoMove {
			best = sk.pickBest(th.rootMoves, multiPV)
		}
		for i := range th.rootMoves {
			if th.rootMoves[i].PV[0] == best {
				th.rootMoves[0], th.rootMoves[i] = th.rootMoves[i], th.rootMoves[0]
				break
			}
		}
	}

	return nil
}

func sortRootMoves(moves []RootMove) {
	sort.SliceStable(moves, func(i, j int) bool {
		return rootMoveLess(&moves[i], &moves[j])
	})
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// checkTime polls the clock and node budget on the main thread. The
// counter refills so that node-limited searches check at least every 0.1%.
func (th *Thread) checkTime() {
	th.callsCnt--
	if th.callsCnt > 0 {
		return
	}
	p := th.pool
	if p.limits.Nodes > 0 {
		th.callsCnt = int(min(1024, int(p.limits.Nodes/1024)))
		if th.callsCnt < 1 {
			th.callsCnt = 1
		}
	} else {
		th.callsCnt = 1024
	}

	if p.ponder.Load() {
		return
	}

	elapsed := p.timeman.Elapsed()
	if (p.limits.UseTimeManagement() && (elapsed > p.timeman.Maximum()-10*time.Millisecond || th.stopOnPonderhit)) ||
		(p.limits.MoveTime > 0 && elapsed >= p.limits.MoveTime) ||
		(p.limits.Nodes > 0 && p.NodesSearched() >= p.limits.Nodes) {
		p.stop.Store(true)
	}
}

// makeExcludedKey mixes the excluded move into the position key so that a
// singular verification search cannot collide with the full search.
func makeExcludedKey(key uint64, excluded board.Move) uint64 {
	return key ^ (uint64(excluded) * 0x9E3779B97F4A7C15)
}

// search is the main recursive negamax with pruning, extensions, LMR and
// PVS. pvNode selects the node kind; sp indexes the stack frame.
func (th *Thread) search(pvNode bool, sp, alpha, beta, depth int, cutNode bool) int {
	p := th.pool
	pos := th.pos
	ss := th.frame(sp)
	ply := ss.ply
	rootNode := pvNode && ply == 0

	maxNextDepth := depth + 1
	if rootNode {
		maxNextDepth = depth
	}

	// An upcoming repetition draws; raise alpha to the drawn score.
	if pos.Rule50Count() >= 3 && alpha < ValueDraw && !rootNode && pos.HasGameCycle(ply) {
		alpha = th.valueDraw()
		if alpha >= beta {
			return alpha
		}
	}

	if depth <= 0 {
		return th.qsearch(pvNode, sp, alpha, beta, 0)
	}

	var (
		quietsSearched   [64]board.Move
		capturesSearched [32]board.Move
		quietCount       int
		captureCount     int
	)

	// Step 1. Initialize node
	ss.inCheck = pos.InCheck()
	priorCapture := pos.CapturedPiece()
	us := pos.SideToMove
	ss.moveCount = 0
	bestValue := -ValueInfinite
	maxValue := ValueInfinite
	bestMove := board.NoMove

	if th.isMain() {
		th.checkTime()
	}

	if pvNode && th.selDepth < ply+1 {
		th.selDepth = ply + 1
	}

	if !rootNode {
		// Step 2. Aborted search and immediate draw
		if p.stop.Load() || pos.IsDraw(ply) || ply >= MaxPly {
			if ply >= MaxPly && !ss.inCheck {
				return th.staticEval()
			}
			return th.valueDraw()
		}

		// Step 3. Mate distance pruning
		alpha = max(MatedIn(ply), alpha)
		beta = min(MateIn(ply+1), beta)
		if alpha >= beta {
			return alpha
		}
	}

	next := th.frame(sp + 1)
	next.ply = ply + 1
	next.ttPv = false
	next.excludedMove = board.NoMove
	th.frame(sp + 2).killers = [2]board.Move{}
	prev := th.frame(sp - 1)
	prevSq := prev.currentMove.To()

	if !rootNode {
		th.frame(sp + 2).statScore = 0
	}

	// Step 4. Transposition table lookup. A singular verification uses a
	// different key so partial results never shadow the full ones.
	excludedMove := ss.excludedMove
	posKey := pos.Hash
	if excludedMove != board.NoMove {
		posKey = makeExcludedKey(posKey, excludedMove)
	}
	tte, ttHit := p.tt.Probe(posKey)
	ss.ttHit = ttHit
	ttValue := ValueNone
	if ttHit {
		ttValue = ValueFromTT(tte.Value, ply, pos.Rule50Count())
	}
	ttMove := board.NoMove
	if rootNode {
		ttMove = th.rootMoves[th.pvIdx].PV[0]
	} else if ttHit {
		ttMove = tte.Move
	}
	if excludedMove == board.NoMove {
		ss.ttPv = pvNode || (ttHit && tte.IsPV)
	}
	formerPv := ss.ttPv && !pvNode

	if ss.ttPv && depth > 12 && ply >= 1 && ply-1 < MaxLowPlyHistory &&
		priorCapture == board.NoPiece && prev.currentMove.IsOk() {
		th.hist.lowPlyHistory.Update(ply-1, prev.currentMove, statBonus(depth-5))
	}

	// Running average of TT hits, consulted by LMR.
	hit := uint64(0)
	if ttHit {
		hit = 1
	}
	th.ttHitAverage = (ttHitAverageWindow-1)*th.ttHitAverage/ttHitAverageWindow +
		ttHitAverageResolution*hit

	// Early TT cutoff at non-PV nodes.
	if !pvNode && ttHit && tte.Depth >= depth && ttValue != ValueNone &&
		boundMatches(tte.Bound, ttValue, beta) {
		if ttMove != board.NoMove {
			if ttValue >= beta {
				if !pos.IsCaptureOrPromotion(ttMove) {
					th.updateQuietStats(sp, ttMove, statBonus(depth), depth)
				}
				if prev.moveCount <= 2 && priorCapture == board.NoPiece {
					th.updateContinuationHistories(sp-1, pos.PieceAt(prevSq), prevSq, -statBonus(depth+1))
				}
			} else if !pos.IsCaptureOrPromotion(ttMove) {
				penalty := -statBonus(depth)
				th.hist.mainHistory.Update(us, ttMove, penalty)
				th.updateContinuationHistories(sp, pos.MovedPiece(ttMove), ttMove.To(), penalty)
			}
		}
		// Near the 50-move horizon the stored score may be stale.
		if pos.Rule50Count() < 90 {
			return ttValue
		}
	}

	// Step 5. Tablebase probe
	if !rootNode && th.tbCardinality > 0 {
		piecesCount := pos.CountAll()
		if piecesCount <= th.tbCardinality &&
			(piecesCount < th.tbCardinality || depth >= th.tbProbeDepth) &&
			pos.Rule50Count() == 0 &&
			pos.CastlingRights == board.NoCastling {

			if th.isMain() {
				th.callsCnt = 0
			}

			if wdl, ok := p.tb.ProbeWDL(pos); ok {
				th.tbHits.Add(1)

				drawScore := 0
				if th.tbUseRule50 {
					drawScore = 1
				}

				var value int
				var b Bound
				switch {
				case wdl < -drawScore:
					value = ValueMatedInMaxPly + ply + 1
					b = BoundUpper
				case wdl > drawScore:
					value = ValueMateInMaxPly - ply - 1
					b = BoundLower
				default:
					value = ValueDraw + 2*wdl*drawScore
					b = BoundExact
				}

				if b == BoundExact ||
					(b == BoundLower && value >= beta) ||
					(b == BoundUpper && value <= alpha) {
					tte.Save(posKey, ValueToTT(value, ply), ss.ttPv, b,
						min(MaxPly-1, depth+6), board.NoMove, ValueNone)
					return value
				}

				if pvNode {
					if b == BoundLower {
						bestValue = value
						alpha = max(alpha, bestValue)
					} else {
						maxValue = value
					}
				}
			}
		}
	}

	var eval int
	improving := false

	if ss.inCheck {
		// No pruning while in check; straight to the moves loop.
		ss.staticEval = ValueNone
		eval = ValueNone
		goto movesLoop
	} else if ttHit {
		ss.staticEval = tte.Eval
		eval = tte.Eval
		if eval == ValueNone {
			eval = th.staticEval()
			ss.staticEval = eval
		}
		if eval == ValueDraw {
			eval = th.valueDraw()
		}
		if ttValue != ValueNone && boundAllowsRefine(tte.Bound, ttValue, eval) {
			eval = ttValue
		}
	} else {
		if prev.currentMove != board.NullMove {
			eval = th.staticEval()
		} else {
			eval = -prev.staticEval + 2*Tempo
		}
		ss.staticEval = eval
		tte.Save(posKey, ValueNone, ss.ttPv, BoundNone, DepthNone, board.NoMove, eval)
	}

	// Step 7. Razoring
	if !rootNode && depth == 1 && eval <= alpha-razorMargin {
		return th.qsearch(pvNode, sp, alpha, beta, 0)
	}

	improving = th.improvingAt(sp)

	// Step 8. Futility pruning: child node
	if !pvNode && depth < 8 && eval-futilityMargin(depth, improving) >= beta &&
		eval < ValueKnownWin {
		return eval
	}

	// Step 9. Null move search with verification search
	if !pvNode && prev.currentMove != board.NullMove &&
		prev.statScore < 22977 &&
		eval >= beta && eval >= ss.staticEval &&
		ss.staticEval >= beta-30*depth-28*b2i(improving)+84*b2i(ss.ttPv)+168 &&
		excludedMove == board.NoMove &&
		pos.NonPawnMaterial(us) > 0 &&
		(ply >= th.nmpMinPly || us != th.nmpColor) {

		r := (1015+85*depth)/256 + min((eval-beta)/191, 3)

		ss.currentMove = board.NullMove
		ss.contHist = th.hist.continuationHistory.Sentinel()

		undo := pos.MakeNullMove()
		nullValue := -th.search(false, sp+1, -beta, -beta+1, depth-r, !cutNode)
		pos.UnmakeNullMove(undo)

		if nullValue >= beta {
			if nullValue >= ValueTBWinInMaxPly {
				nullValue = beta
			}

			if th.nmpMinPly != 0 || (abs(beta) < ValueKnownWin && depth < 14) {
				return nullValue
			}

			// Verification search with null-move pruning disabled for us
			// until ply exceeds nmpMinPly.
			th.nmpMinPly = ply + 3*(depth-r)/4
			th.nmpColor = us

			v := th.search(false, sp, beta-1, beta, depth-r, false)

			th.nmpMinPly = 0

			if v >= beta {
				return nullValue
			}
		}
	}

	// Step 10. ProbCut
	{
		probCutBeta := beta + 183 - 49*b2i(improving)
		if !pvNode && depth > 4 && abs(beta) < ValueTBWinInMaxPly &&
			!(ttHit && tte.Depth >= depth-3 && ttValue != ValueNone && ttValue < probCutBeta) {

			if ttHit && tte.Depth >= depth-3 && ttValue != ValueNone &&
				ttValue >= probCutBeta && ttMove != board.NoMove &&
				pos.IsCaptureOrPromotion(ttMove) {
				return probCutBeta
			}

			mp := newProbCutMovePicker(pos, ttMove, probCutBeta-ss.staticEval, &th.hist.captureHistory)
			probCutCount := 0
			ttPv := ss.ttPv
			ss.ttPv = false

			for move := mp.NextMove(false); move != board.NoMove && probCutCount < 2+2*b2i(cutNode); move = mp.NextMove(false) {
				if move == excludedMove {
					continue
				}
				probCutCount++

				ss.currentMove = move
				ss.contHist = th.hist.continuationHistory.Row(ss.inCheck, true, pos.MovedPiece(move), move.To())

				th.nodes.Add(1)
				undo := pos.MakeMove(move)
				if !undo.Valid {
					probCutCount--
					continue
				}

				// Verify with a qsearch first, then confirm at reduced depth.
				value := -th.qsearch(false, sp+1, -probCutBeta, -probCutBeta+1, 0)
				if value >= probCutBeta {
					value = -th.search(false, sp+1, -probCutBeta, -probCutBeta+1, depth-4, !cutNode)
				}

				pos.UnmakeMove(move, undo)

				if value >= probCutBeta {
					if !(ttHit && tte.Depth >= depth-3 && ttValue != ValueNone) {
						tte.Save(posKey, ValueToTT(value, ply), ttPv, BoundLower,
							depth-3, move, ss.staticEval)
					}
					ss.ttPv = ttPv
					return value
				}
			}
			ss.ttPv = ttPv
		}
	}

	// Step 11. Internal iterative reduction: shallow the search when the
	// position is absent from the table.
	if pvNode && depth >= 6 && ttMove == board.NoMove {
		depth -= 2
	}

movesLoop:
	contHist := [6]*PieceToHistory{
		prev.contHist, th.frame(sp - 2).contHist,
		nil, th.frame(sp - 4).contHist,
		nil, th.frame(sp - 6).contHist,
	}

	counterMove := th.hist.counterMoves[pos.PieceAt(prevSq)][prevSq]

	mp := newMovePicker(pos, ttMove, depth,
		&th.hist.mainHistory, &th.hist.lowPlyHistory, &th.hist.captureHistory,
		contHist, counterMove, ss.killers, ply)

	singularQuietLMR := false
	moveCountPruning := false
	ttCapture := ttMove != board.NoMove && pos.IsCaptureOrPromotion(ttMove)
	moveCount := 0

	// Mark this node as being searched.
	holding := p.breadcrumbs.hold(th.id, posKey, ply)
	defer holding.release()

	// Step 12. Loop through the moves
	for move := mp.NextMove(moveCountPruning); move != board.NoMove; move = mp.NextMove(moveCountPruning) {
		if move == excludedMove {
			continue
		}

		// At root only moves of the current PV slice are searched.
		if rootNode && !th.rootMoveInRange(move) {
			continue
		}

		moveCount++
		ss.moveCount = moveCount

		if pvNode {
			th.pv.reset(ply + 1)
		}

		extension := 0
		captureOrPromotion := pos.IsCaptureOrPromotion(move)
		movedPiece := pos.MovedPiece(move)
		givesCheck := pos.GivesCheck(move)

		newDepth := depth - 1

		// Step 13. Pruning at shallow depth
		if !rootNode && pos.NonPawnMaterial(us) > 0 && bestValue > ValueTBLossInMaxPly {
			moveCountPruning = moveCount >= futilityMoveCount(improving, depth)

			lmrDepth := max(newDepth-p.reduction(improving, depth, moveCount), 0)

			if !captureOrPromotion && !givesCheck {
				// Countermove-history pruning
				bonusGate := 0
				if prev.statScore > 0 || prev.moveCount == 1 {
					bonusGate = 1
				}
				if lmrDepth < 4+bonusGate &&
					contHist[0].Get(movedPiece, move.To()) < counterMovePruneThreshold &&
					contHist[1].Get(movedPiece, move.To()) < counterMovePruneThreshold {
					continue
				}

				// Futility pruning: parent node
				if lmrDepth < 7 && !ss.inCheck &&
					ss.staticEval+266+170*lmrDepth <= alpha &&
					contHist[0].Get(movedPiece, move.To())+
						contHist[1].Get(movedPiece, move.To())+
						contHist[3].Get(movedPiece, move.To())+
						contHist[5].Get(movedPiece, move.To())/2 < 27376 {
					continue
				}

				// SEE pruning with a depth-scaled threshold
				if !pos.SeeGe(move, -(30-min(lmrDepth, 18))*lmrDepth*lmrDepth) {
					continue
				}
			} else {
				// Capture-history sign pruning
				if !givesCheck && lmrDepth < 1 &&
					th.hist.captureHistory.Get(movedPiece, move.To(), pos.PieceAt(move.To()).Type()) < 0 {
					continue
				}

				if !pos.SeeGe(move, -213*depth) {
					continue
				}
			}
		}

		// Step 14. Extensions

		// Singular extension: the ttMove is extended when every other move
		// fails low on a reduced window below ttValue.
		if depth >= 7 && move == ttMove && !rootNode && excludedMove == board.NoMove &&
			abs(ttValue) < ValueKnownWin &&
			tte.Bound&BoundLower != 0 &&
			tte.Depth >= depth-3 {

			singularBeta := ttValue - ((b2i(formerPv)+4)*depth)/2
			singularDepth := (depth - 1 + 3*b2i(formerPv)) / 2

			ss.excludedMove = move
			value := th.search(false, sp, singularBeta-1, singularBeta, singularDepth, cutNode)
			ss.excludedMove = board.NoMove

			if value < singularBeta {
				extension = 1
				singularQuietLMR = !ttCapture
			} else if singularBeta >= beta {
				// Multi-cut: several moves fail high, prune the subtree.
				return singularBeta
			} else if ttValue >= beta {
				ss.excludedMove = move
				value = th.search(false, sp, beta-1, beta, (depth+3)/2, cutNode)
				ss.excludedMove = board.NoMove
				if value >= beta {
					return beta
				}
			}
		} else if givesCheck &&
			(pos.IsDiscoveryCheckOnKing(us.Other(), move) || pos.SeeGe(move, 0)) {
			extension = 1
		} else if priorCapture != board.NoPiece &&
			board.PieceValue[priorCapture.Type()] > 100 &&
			pos.NonPawnMaterialAll() <= 2*board.PieceValue[board.Rook] {
			// Last-captures extension in a liquidating position.
			extension = 1
		}

		// Late irreversible move extension: near the 50-move horizon a
		// counter-resetting ttMove deserves a deeper look. Stacks with the
		// extensions above.
		if move == ttMove && pos.Rule50Count() > 80 &&
			(captureOrPromotion || movedPiece.Type() == board.Pawn) {
			extension += 2
		}

		newDepth += extension

		p.tt.Prefetch(pos.KeyAfter(move))

		ss.currentMove = move
		ss.contHist = th.hist.continuationHistory.Row(ss.inCheck, captureOrPromotion, movedPiece, move.To())

		// Step 15. Make the move
		th.nodes.Add(1)
		undo := pos.MakeMove(move)
		if !undo.Valid {
			moveCount--
			continue
		}

		var value int
		doFullDepthSearch := false
		didLMR := false

		// Step 16. Late move reductions
		if depth >= 3 && moveCount > 1+2*b2i(rootNode) &&
			(!captureOrPromotion ||
				moveCountPruning ||
				ss.staticEval+board.PieceValue[pos.CapturedPiece().Type()] <= alpha ||
				cutNode ||
				th.ttHitAverage < 432*ttHitAverageResolution*ttHitAverageWindow/1024) {

			r := p.reduction(improving, depth, moveCount)

			if th.ttHitAverage > 537*ttHitAverageResolution*ttHitAverageWindow/1024 {
				r--
			}

			// Another thread is searching this node.
			if holding.marked() {
				r++
			}

			if ss.ttPv {
				r -= 2
			}

			if (rootNode || !pvNode) && depth > 10 && th.bestMoveChanges <= 2 {
				r++
			}

			if moveCountPruning && !formerPv {
				r++
			}

			if prev.moveCount > 13 {
				r--
			}

			if singularQuietLMR {
				r--
			}

			if !captureOrPromotion {
				if ttCapture {
					r++
				}

				if rootNode {
					r += th.failedHighCnt * th.failedHighCnt * moveCount / 512
				}

				if cutNode {
					r += 2
				} else if move.Flag() == 0 && !pos.SeeGe(move.Reverse(), 0) {
					// The move escapes a capture.
					r -= 2 + b2i(ss.ttPv) - b2i(movedPiece.Type() == board.Pawn)
				}

				ss.statScore = th.hist.mainHistory.Get(us, move) +
					contHist[0].Get(movedPiece, move.To()) +
					contHist[1].Get(movedPiece, move.To()) +
					contHist[3].Get(movedPiece, move.To()) -
					5287

				if ss.statScore >= -105 && prev.statScore < -103 {
					r--
				} else if prev.statScore >= -122 && ss.statScore < -129 {
					r++
				}

				r -= ss.statScore / 14884
			} else {
				if depth < 8 && moveCount > 2 {
					r++
				}

				if !givesCheck &&
					ss.staticEval+board.PieceValue[pos.CapturedPiece().Type()]+210*depth <= alpha {
					r++
				}
			}

			d := clamp(newDepth-r, 1, newDepth)

			value = -th.search(false, sp+1, -(alpha + 1), -alpha, d, true)

			doFullDepthSearch = value > alpha && d != newDepth
			didLMR = true
		} else {
			doFullDepthSearch = !pvNode || moveCount > 1
		}

		// Step 17. Full depth search when LMR is skipped or fails high
		if doFullDepthSearch {
			value = -th.search(false, sp+1, -(alpha + 1), -alpha, newDepth, !cutNode)

			if didLMR && !captureOrPromotion {
				bonus := statBonus(newDepth)
				if value <= alpha {
					bonus = -bonus
				}
				if move == ss.killers[0] {
					bonus += bonus / 4
				}
				th.updateContinuationHistories(sp, movedPiece, move.To(), bonus)
			}
		}

		// Step 18. Full PV search for the first move and any move that
		// lands inside the window.
		if pvNode && (moveCount == 1 || (value > alpha && (rootNode || value < beta))) {
			th.pv.reset(ply + 1)
			value = -th.search(true, sp+1, -beta, -alpha, min(maxNextDepth, newDepth), false)
		}

		// Step 19. Undo move
		pos.UnmakeMove(move, undo)

		// A stopped search's value cannot be trusted.
		if p.stop.Load() {
			return ValueZero
		}

		if rootNode {
			rm := th.findRootMove(move)

			if moveCount == 1 || value > alpha {
				rm.Score = value
				rm.SelDepth = th.selDepth
				rm.PV = rm.PV[:1]
				rm.PV = append(rm.PV, th.pv.line(ply+1)...)

				if moveCount > 1 {
					th.bestMoveChanges++
				}
			} else {
				// Preserve sort stability for unsearched lines.
				rm.Score = -ValueInfinite
			}
		}

		if value > bestValue {
			bestValue = value

			if value > alpha {
				bestMove = move

				if pvNode && !rootNode {
					th.pv.update(ply, move)
				}

				if pvNode && value < beta {
					alpha = value
				} else {
					ss.statScore = 0
					break
				}
			}
		}

		if move != bestMove {
			if captureOrPromotion && captureCount < len(capturesSearched) {
				capturesSearched[captureCount] = move
				captureCount++
			} else if !captureOrPromotion && quietCount < len(quietsSearched) {
				quietsSearched[quietCount] = move
				quietCount++
			}
		}
	}

	// Step 20. Mate and stalemate check
	if moveCount == 0 {
		switch {
		case excludedMove != board.NoMove:
			bestValue = alpha
		case ss.inCheck:
			bestValue = MatedIn(ply)
		default:
			bestValue = ValueDraw
		}
	} else if bestMove != board.NoMove {
		th.updateAllStats(sp, bestMove, bestValue, beta, prevSq,
			quietsSearched[:quietCount], capturesSearched[:captureCount], depth)
	} else if (depth >= 3 || pvNode) && priorCapture == board.NoPiece {
		// The prior countermove caused this fail low.
		th.updateContinuationHistories(sp-1, pos.PieceAt(prevSq), prevSq, statBonus(depth))
	}

	if pvNode {
		bestValue = min(bestValue, maxValue)
	}

	// ttPv propagation: a fail low under a ttPv parent keeps the node in
	// the tree; a fail high drops leaf nodes out of it.
	if bestValue <= alpha {
		ss.ttPv = ss.ttPv || (prev.ttPv && depth > 3)
	} else if depth > 3 {
		ss.ttPv = ss.ttPv && next.ttPv
	}

	if excludedMove == board.NoMove && !(rootNode && th.pvIdx > 0) {
		bound := BoundUpper
		if bestValue >= beta {
			bound = BoundLower
		} else if pvNode && bestMove != board.NoMove {
			bound = BoundExact
		}
		tte.Save(posKey, ValueToTT(bestValue, ply), ss.ttPv, bound, depth, bestMove, ss.staticEval)
	}

	return bestValue
}

// boundMatches reports whether a TT bound can produce a cutoff against
// beta for the given stored value.
func boundMatches(b Bound, ttValue, beta int) bool {
	if ttValue >= beta {
		return b&BoundLower != 0
	}
	return b&BoundUpper != 0
}

// boundAllowsRefine reports whether ttValue can tighten the static eval.
func boundAllowsRefine(b Bound, ttValue, eval int) bool {
	if ttValue > eval {
		return b&BoundLower != 0
	}
	return b&BoundUpper != 0
}

func (th *Thread) improvingAt(sp int) bool {
	ss := th.frame(sp)
	two := th.frame(sp - 2)
	four := th.frame(sp - 4)
	if two.staticEval == ValueNone {
		return ss.staticEval > four.staticEval || four.staticEval == ValueNone
	}
	return ss.staticEval > two.staticEval
}

func (th *Thread) rootMoveInRange(move board.Move) bool {
	for i := th.pvIdx; i < th.pvLast; i++ {
		if th.rootMoves[i].PV[0] == move {
			return true
		}
	}
	return false
}

func (th *Thread) findRootMove(move board.Move) *RootMove {
	for i := range th.rootMoves {
		if th.rootMoves[i].PV[0] == move {
			return &th.rootMoves[i]
		}
	}
	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// qsearch extends the search at depth <= 0 with tactical moves only,
// stabilizing the static evaluation against hanging captures and checks.
func (th *Thread) qsearch(pvNode bool, sp, alpha, beta, depth int) int {
	p := th.pool
	pos := th.pos
	ss := th.frame(sp)
	ply := ss.ply

	oldAlpha := alpha
	if pvNode {
		th.pv.reset(ply)
	}

	next := th.frame(sp + 1)
	next.ply = ply + 1
	prev := th.frame(sp - 1)
	bestMove := board.NoMove
	ss.inCheck = pos.InCheck()
	moveCount := 0

	if pos.IsDraw(ply) || ply >= MaxPly {
		if ply >= MaxPly && !ss.inCheck {
			return th.staticEval()
		}
		return ValueDraw
	}

	// Qsearch entries use one of two TT depths, fixing whether checks were
	// included.
	ttDepth := DepthQSNoChecks
	if ss.inCheck || depth >= DepthQSChecks {
		ttDepth = DepthQSChecks
	}

	posKey := pos.Hash
	tte, ttHit := p.tt.Probe(posKey)
	ss.ttHit = ttHit
	ttValue := ValueNone
	ttMove := board.NoMove
	pvHit := false
	if ttHit {
		ttValue = ValueFromTT(tte.Value, ply, pos.Rule50Count())
		ttMove = tte.Move
		pvHit = tte.IsPV
	}

	if !pvNode && ttHit && tte.Depth >= ttDepth && ttValue != ValueNone &&
		boundMatches(tte.Bound, ttValue, beta) {
		return ttValue
	}

	var bestValue, futilityBase int

	if ss.inCheck {
		ss.staticEval = ValueNone
		bestValue = -ValueInfinite
		futilityBase = -ValueInfinite
	} else {
		if ttHit {
			ss.staticEval = tte.Eval
			bestValue = tte.Eval
			if bestValue == ValueNone {
				bestValue = th.staticEval()
				ss.staticEval = bestValue
			}
			if ttValue != ValueNone && boundAllowsRefine(tte.Bound, ttValue, bestValue) {
				bestValue = ttValue
			}
		} else {
			if prev.currentMove != board.NullMove {
				bestValue = th.staticEval()
			} else {
				bestValue = -prev.staticEval + 2*Tempo
			}
			ss.staticEval = bestValue
		}

		// Stand pat.
		if bestValue >= beta {
			if !ttHit {
				tte.Save(posKey, ValueToTT(bestValue, ply), false, BoundLower,
					DepthNone, board.NoMove, ss.staticEval)
			}
			return bestValue
		}

		if pvNode && bestValue > alpha {
			alpha = bestValue
		}

		futilityBase = bestValue + 155
	}

	contHist := [6]*PieceToHistory{
		prev.contHist, th.frame(sp - 2).contHist,
		nil, th.frame(sp - 4).contHist,
		nil, th.frame(sp - 6).contHist,
	}

	mp := newQMovePicker(pos, ttMove, depth,
		&th.hist.mainHistory, &th.hist.captureHistory, contHist, ply)

	for move := mp.NextMove(false); move != board.NoMove; move = mp.NextMove(false) {
		givesCheck := pos.GivesCheck(move)
		captureOrPromotion := pos.IsCaptureOrPromotion(move)

		moveCount++

		// Futility pruning of quiet-standing captures.
		if bestValue > ValueTBLossInMaxPly && !givesCheck &&
			futilityBase > -ValueKnownWin && !pos.AdvancedPawnPush(move) {

			if moveCount > 2 {
				continue
			}

			futilityValue := futilityBase + board.PieceValue[pos.PieceAt(move.To()).Type()]

			if futilityValue <= alpha {
				bestValue = max(bestValue, futilityValue)
				continue
			}

			if futilityBase <= alpha && !pos.SeeGe(move, 1) {
				bestValue = max(bestValue, futilityBase)
				continue
			}
		}

		// Skip losing exchanges unless they uncover a check.
		if bestValue > ValueTBLossInMaxPly &&
			!(givesCheck && pos.IsDiscoveryCheckOnKing(pos.SideToMove.Other(), move)) &&
			!pos.SeeGe(move, 0) {
			continue
		}

		p.tt.Prefetch(pos.KeyAfter(move))

		ss.currentMove = move
		ss.contHist = th.hist.continuationHistory.Row(ss.inCheck, captureOrPromotion, pos.MovedPiece(move), move.To())

		// Countermove pruning for quiet checks.
		if !captureOrPromotion && bestValue > ValueTBLossInMaxPly &&
			contHist[0].Get(pos.MovedPiece(move), move.To()) < counterMovePruneThreshold &&
			contHist[1].Get(pos.MovedPiece(move), move.To()) < counterMovePruneThreshold {
			continue
		}

		th.nodes.Add(1)
		undo := pos.MakeMove(move)
		if !undo.Valid {
			moveCount--
			continue
		}
		value := -th.qsearch(pvNode, sp+1, -beta, -alpha, depth-1)
		pos.UnmakeMove(move, undo)

		if value > bestValue {
			bestValue = value

			if value > alpha {
				bestMove = move

				if pvNode {
					th.pv.update(ply, move)
				}

				if pvNode && value < beta {
					alpha = value
				} else {
					break
				}
			}
		}
	}

	// No evasion found while in check: mate.
	if ss.inCheck && bestValue == -ValueInfinite {
		return MatedIn(ply)
	}

	bound := BoundUpper
	if bestValue >= beta {
		bound = BoundLower
	} else if pvNode && bestValue > oldAlpha {
		bound = BoundExact
	}
	tte.Save(posKey, ValueToTT(bestValue, ply), pvHit, bound, ttDepth, bestMove, ss.staticEval)

	return bestValue
}

// updateContinuationHistories rewards the move pairs formed with the moves
// one, two, four and six plies back; in check only the near pairs count.
func (th *Thread) updateContinuationHistories(sp int, pc board.Piece, to board.Square, bonus int) {
	ss := th.frame(sp)
	for _, i := range [4]int{1, 2, 4, 6} {
		if ss.inCheck && i > 2 {
			break
		}
		f := th.frame(sp - i)
		if f.currentMove.IsOk() && f.contHist != nil {
			f.contHist.Update(pc, to, bonus)
		}
	}
}

// updateQuietStats rotates killers and feeds the quiet-move heuristics.
func (th *Thread) updateQuietStats(sp int, move board.Move, bonus, depth int) {
	pos := th.pos
	ss := th.frame(sp)

	if ss.killers[0] != move {
		ss.killers[1] = ss.killers[0]
		ss.killers[0] = move
	}

	us := pos.SideToMove
	th.hist.mainHistory.Update(us, move, bonus)
	th.updateContinuationHistories(sp, pos.MovedPiece(move), move.To(), bonus)

	// Penalize shuffling the piece straight back.
	if pos.MovedPiece(move).Type() != board.Pawn {
		th.hist.mainHistory.Update(us, move.Reverse(), -bonus)
	}

	prev := th.frame(sp - 1)
	if prev.currentMove.IsOk() {
		prevSq := prev.currentMove.To()
		th.hist.counterMoves[pos.PieceAt(prevSq)][prevSq] = move
	}

	if depth > 11 && ss.ply < MaxLowPlyHistory {
		th.hist.lowPlyHistory.Update(ss.ply, move, statBonus(depth-7))
	}
}

// updateAllStats runs once per fail high or PV improvement: the best move
// is rewarded, every other searched move penalized.
func (th *Thread) updateAllStats(sp int, bestMove board.Move, bestValue, beta int, prevSq board.Square,
	quiets, captures []board.Move, depth int) {

	pos := th.pos
	us := pos.SideToMove

	bonus1 := statBonus(depth + 1)
	bonus2 := statBonus(depth)
	if bestValue > beta+PawnValueMg {
		bonus2 = bonus1
	}

	if !pos.IsCaptureOrPromotion(bestMove) {
		th.updateQuietStats(sp, bestMove, bonus2, depth)

		for _, m := range quiets {
			th.hist.mainHistory.Update(us, m, -bonus2)
			th.updateContinuationHistories(sp, pos.MovedPiece(m), m.To(), -bonus2)
		}
	} else {
		th.hist.captureHistory.Update(pos.MovedPiece(bestMove), bestMove.To(),
			pos.PieceAt(bestMove.To()).Type(), bonus1)
	}

	// Extra penalty for an early refuted quiet on the previous ply.
	prev := th.frame(sp - 1)
	if (prev.moveCount == 1+b2i(prev.ttHit) || prev.currentMove == prev.killers[0]) &&
		pos.CapturedPiece() == board.NoPiece {
		th.updateContinuationHistories(sp-1, pos.PieceAt(prevSq), prevSq, -bonus1)
	}

	for _, m := range captures {
		th.hist.captureHistory.Update(pos.MovedPiece(m), m.To(), pos.PieceAt(m.To()).Type(), -bonus1)
	}
}

// pvInfo assembles the info lines for the current MultiPV state.
func (p *Pool) pvInfo(th *Thread, depth, alpha, beta int) []PVLine {
	elapsed := p.timeman.Elapsed() + time.Millisecond
	nodes := p.NodesSearched()
	tbHits := p.TBHits()
	if th.rootInTB {
		tbHits += uint64(len(th.rootMoves))
	}
	multiPV := min(p.options.MultiPV, len(th.rootMoves))
	if p.options.SkillLevel < 20 || p.options.LimitStrength {
		multiPV = min(max(multiPV, 4), len(th.rootMoves))
	}

	lines := make([]PVLine, 0, multiPV)
	for i := 0; i < multiPV; i++ {
		rm := &th.rootMoves[i]
		updated := rm.Score != -ValueInfinite

		if depth == 1 && !updated && i > 0 {
			continue
		}

		d := depth
		v := rm.Score
		if !updated {
			d = max(1, depth-1)
			v = rm.PreviousScore
		}
		if v == -ValueInfinite {
			v = ValueZero
		}

		tb := th.rootInTB && abs(v) < ValueMateInMaxPly
		if tb {
			v = rm.TBScore
		}

		line := PVLine{
			Depth:    d,
			SelDepth: rm.SelDepth,
			MultiPV:  i + 1,
			Score:    v,
			TBScore:  tb,
			Nodes:    nodes,
			NPS:      nodes * uint64(time.Second) / uint64(elapsed),
			TBHits:   tbHits,
			Time:     elapsed,
			PV:       append([]board.Move(nil), rm.PV...),
		}
		if elapsed > time.Second {
			line.HashFull = p.tt.Hashfull()
		}
		if !tb && i == th.pvIdx {
			line.LowerBound = v >= beta
			line.UpperBound = v <= alpha
		}
		lines = append(lines, line)
	}
	return lines
}
