package engine

import (
	"github.com/corvidchess/corvid/internal/board"
)

// Move picker score bands. The picker scores every generated move once and
// then yields moves by lazy selection, so the bands establish the stage
// order: ttMove, good captures, killers and counter move, quiets by
// history, bad captures.
const (
	scoreTTMove      = 1 << 30
	scoreGoodCapture = 1 << 28
	scoreRefutation  = 1 << 27
	scoreBadCapture  = -(1 << 28)
	scoreQuietClamp  = 1<<26 - 1
)

type pickerMode uint8

const (
	mpMain pickerMode = iota
	mpQSearch
	mpProbCut
)

// MovePicker yields the legal moves of a position in a quality-weighted
// order derived from the search's heuristic tables. Each move is returned
// at most once; NoMove terminates the sequence.
type MovePicker struct {
	pos    *board.Position
	mode   pickerMode
	ttMove board.Move

	mainHistory    *ButterflyHistory
	lowPlyHistory  *LowPlyHistory
	captureHistory *CapturePieceToHistory
	contHist       [6]*PieceToHistory
	killers        [2]board.Move
	counterMove    board.Move
	ply            int
	threshold      int

	moves  *board.MoveList
	scores [board.MaxMoves]int
	idx    int
}

// newMovePicker sets up the main-search picker.
func newMovePicker(pos *board.Position, ttMove board.Move, depth int,
	mainHistory *ButterflyHistory, lowPlyHistory *LowPlyHistory,
	captureHistory *CapturePieceToHistory, contHist [6]*PieceToHistory,
	counterMove board.Move, killers [2]board.Move, ply int) *MovePicker {

	mp := &MovePicker{
		pos:            pos,
		mode:           mpMain,
		ttMove:         ttMove,
		mainHistory:    mainHistory,
		lowPlyHistory:  lowPlyHistory,
		captureHistory: captureHistory,
		contHist:       contHist,
		killers:        killers,
		counterMove:    counterMove,
		ply:            ply,
	}
	mp.moves = pos.GenerateLegalMoves()
	mp.scoreAll()
	return mp
}

// newQMovePicker sets up the quiescence picker: captures and promotions,
// plus quiet checks when depth allows, or all evasions when in check.
func newQMovePicker(pos *board.Position, ttMove board.Move, depth int,
	mainHistory *ButterflyHistory, captureHistory *CapturePieceToHistory,
	contHist [6]*PieceToHistory, ply int) *MovePicker {

	mp := &MovePicker{
		pos:            pos,
		mode:           mpQSearch,
		ttMove:         ttMove,
		mainHistory:    mainHistory,
		captureHistory: captureHistory,
		contHist:       contHist,
		ply:            ply,
	}

	if pos.InCheck() {
		mp.moves = pos.GenerateLegalMoves()
	} else {
		mp.moves = pos.GenerateCaptures()
		if depth >= DepthQSChecks {
			checks := pos.GenerateQuietChecks()
			for i := 0; i < checks.Len(); i++ {
				if !mp.moves.Contains(checks.Get(i)) {
					mp.moves.Add(checks.Get(i))
				}
			}
		}
		mp.dropUnderpromotions()
	}
	mp.scoreAll()
	return mp
}

// newProbCutMovePicker yields only captures whose static exchange clears
// the given threshold.
func newProbCutMovePicker(pos *board.Position, ttMove board.Move, threshold int,
	captureHistory *CapturePieceToHistory) *MovePicker {

	mp := &MovePicker{
		pos:            pos,
		mode:           mpProbCut,
		ttMove:         ttMove,
		captureHistory: captureHistory,
		threshold:      threshold,
	}
	all := pos.GenerateCaptures()
	mp.moves = board.NewMoveList()
	for i := 0; i < all.Len(); i++ {
		m := all.Get(i)
		if pos.SeeGe(m, threshold) {
			mp.moves.Add(m)
		}
	}
	mp.scoreAll()
	return mp
}

// dropUnderpromotions removes quiet rook/bishop/knight promotions, except
// knight promotions that give check; of the quiet promotions only those and
// the queen promotion are worth a quiescence node.
func (mp *MovePicker) dropUnderpromotions() {
	kept := board.NewMoveList()
	for i := 0; i < mp.moves.Len(); i++ {
		m := mp.moves.Get(i)
		if m.IsPromotion() && m.Promotion() != board.Queen && !m.IsCapture(mp.pos) &&
			!(m.Promotion() == board.Knight && mp.pos.GivesCheck(m)) {
			continue
		}
		kept.Add(m)
	}
	mp.moves = kept
}

func (mp *MovePicker) scoreAll() {
	for i := 0; i < mp.moves.Len(); i++ {
		mp.scores[i] = mp.scoreMove(mp.moves.Get(i))
	}
}

func mvvLva(victim, attacker board.PieceType) int {
	return int(victim)*8 - int(attacker)
}

func (mp *MovePicker) victimType(m board.Move) board.PieceType {
	if m.IsEnPassant() {
		return board.Pawn
	}
	captured := mp.pos.PieceAt(m.To())
	if captured == board.NoPiece {
		return board.NoPieceType
	}
	return captured.Type()
}

func (mp *MovePicker) scoreMove(m board.Move) int {
	if m == mp.ttMove {
		return scoreTTMove
	}

	pos := mp.pos

	if pos.IsCaptureOrPromotion(m) {
		attacker := pos.PieceAt(m.From())
		victim := mp.victimType(m)
		score := mvvLva(victim, attacker.Type())*2048 +
			mp.captureHistory.Get(attacker, m.To(), victim)

		if mp.mode != mpMain || pos.InCheck() || pos.SeeGe(m, -score/1024-60) {
			return scoreGoodCapture + score
		}
		return scoreBadCapture + mvvLva(victim, attacker.Type())
	}

	if mp.mode == mpMain && !pos.InCheck() {
		switch m {
		case mp.killers[0]:
			return scoreRefutation + 3
		case mp.killers[1]:
			return scoreRefutation + 2
		case mp.counterMove:
			return scoreRefutation + 1
		}
	}

	pc := pos.PieceAt(m.From())
	to := m.To()
	score := 0
	if mp.mainHistory != nil {
		score += 2 * mp.mainHistory.Get(pos.SideToMove, m)
	}
	for _, i := range []int{0, 1, 3, 5} {
		if mp.contHist[i] != nil {
			score += 2 * mp.contHist[i].Get(pc, to)
		}
	}
	if mp.lowPlyHistory != nil && mp.ply < MaxLowPlyHistory {
		score += 4 * mp.lowPlyHistory.Get(mp.ply, m)
	}
	return clamp(score, -scoreQuietClamp, scoreQuietClamp)
}

// NextMove yields the next best remaining move, or NoMove when the
// sequence is exhausted. With skipQuiets set, quiet moves outside the
// refutation band are passed over (move-count pruning).
func (mp *MovePicker) NextMove(skipQuiets bool) board.Move {
	for mp.idx < mp.moves.Len() {
		best := mp.idx
		for j := mp.idx + 1; j < mp.moves.Len(); j++ {
			if mp.scores[j] > mp.scores[best] {
				best = j
			}
		}
		if best != mp.idx {
			mp.moves.Swap(mp.idx, best)
			mp.scores[mp.idx], mp.scores[best] = mp.scores[best], mp.scores[mp.idx]
		}

		m := mp.moves.Get(mp.idx)
		score := mp.scores[mp.idx]
		mp.idx++

		if skipQuiets && score < scoreRefutation && !mp.pos.IsCaptureOrPromotion(m) {
			continue
		}
		return m
	}
	return board.NoMove
}
