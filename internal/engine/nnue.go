package engine

import (
	"github.com/hailam/chessplay/sfnnue"
	"github.com/hailam/chessplay/sfnnue/features"

	"github.com/corvidchess/corvid/internal/board"
)

// evalNetworks wraps the loaded NNUE network pair shared by all workers.
// The networks are read-only after loading; each worker keeps its own
// accumulators.
type evalNetworks struct {
	nets *sfnnue.Networks
}

func loadNetworks(bigPath, smallPath string) (*evalNetworks, error) {
	nets, err := sfnnue.LoadNetworks(bigPath, smallPath)
	if err != nil {
		return nil, err
	}
	return &evalNetworks{nets: nets}, nil
}

// sfPiece maps [color][pieceType] to the network's piece encoding
// (W_PAWN=1 … W_KING=6, B_PAWN=9 … B_KING=14).
var sfPiece = [2][6]int{
	{1, 2, 3, 4, 5, 6},
	{9, 10, 11, 12, 13, 14},
}

// evaluator is the per-thread static evaluation state.
type evaluator struct {
	nets  *evalNetworks
	big   *sfnnue.Accumulator
	small *sfnnue.Accumulator
	buf   [64]int
}

func newEvaluator(nets *evalNetworks) *evaluator {
	e := &evaluator{nets: nets}
	if nets != nil {
		e.big = sfnnue.NewAccumulator(sfnnue.TransformedFeatureDimensionsBig)
		e.small = sfnnue.NewAccumulator(sfnnue.TransformedFeatureDimensionsSmall)
	}
	return e
}

// evaluate returns the side-to-move relative static evaluation.
func (e *evaluator) evaluate(pos *board.Position) int {
	if e.nets == nil {
		return evaluateClassical(pos)
	}
	return e.nnueEvaluate(pos)
}

// evaluateHybrid blends the network evaluation with the classical term.
// Far from material balance the handcrafted evaluation dominates, where
// its endgame knowledge is more reliable than the net's.
func (e *evaluator) evaluateHybrid(pos *board.Position) int {
	classical := evaluateClassical(pos)
	if e.nets == nil {
		return classical
	}
	if abs(classical) > 300 {
		return classical
	}
	nnue := e.nnueEvaluate(pos)
	return (5*nnue + 3*classical) / 8
}

// nnueEvaluate recomputes both accumulators and runs the network pair:
// the big network supplies the positional term, the PSQT term is averaged
// across both nets.
func (e *evaluator) nnueEvaluate(pos *board.Position) int {
	stm := int(pos.SideToMove)
	pieceCount := pos.CountAll()

	for perspective := 0; perspective < 2; perspective++ {
		e.computeAccumulator(e.nets.nets.Big, e.big, pos, perspective)
		e.computeAccumulator(e.nets.nets.Small, e.small, pos, perspective)
	}

	bigPsqt, bigPositional := e.nets.nets.Big.Evaluate(
		e.big.Accumulation, e.big.PSQTAccumulation, stm, pieceCount)
	smallPsqt, _ := e.nets.nets.Small.Evaluate(
		e.small.Accumulation, e.small.PSQTAccumulation, stm, pieceCount)

	score := int(bigPositional) + int(bigPsqt+smallPsqt)/2

	// Dampen as the 50-move counter grows: a stale position is worth less
	// than its material suggests.
	score -= score * pos.Rule50Count() / 199

	// Keep static evals clear of the tablebase bands.
	return clamp(score, ValueTBLossInMaxPly+1, ValueTBWinInMaxPly-1)
}

func (e *evaluator) computeAccumulator(net *sfnnue.Network, acc *sfnnue.Accumulator, pos *board.Position, perspective int) {
	ksq := int(pos.KingSquare[perspective])

	var active features.IndexList
	for c := 0; c < 2; c++ {
		for pt := board.Pawn; pt <= board.King; pt++ {
			bb := pos.Pieces[c][pt]
			for bb != 0 {
				sq := bb.PopLSB()
				active.Push(features.MakeIndex(perspective, int(sq), sfPiece[c][pt], ksq))
			}
		}
	}

	indices := e.buf[:active.Size]
	for i := 0; i < active.Size; i++ {
		indices[i] = active.Values[i]
	}

	net.FeatureTransformer.ComputeAccumulator(
		indices,
		acc.Accumulation[perspective],
		acc.PSQTAccumulation[perspective],
	)
	acc.Computed[perspective] = true
	acc.KingSq[perspective] = ksq
}
