package engine

import (
	"math"

	"lukechampine.com/frand"

	"github.com/corvidchess/corvid/internal/board"
)

// skill implements the strength handicap. Below level 20 the driver runs a
// MultiPV search behind the scenes and picks among the top lines with a
// weakness-weighted statistical rule.
type skill struct {
	level int
	best  board.Move
}

// skillLevel resolves the effective integer level from the options,
// converting UCI_Elo to a fractional level and rounding stochastically so
// the average level matches the requested one.
func skillLevel(o Options) int {
	floatLevel := float64(o.SkillLevel)
	if o.LimitStrength {
		floatLevel = math.Pow((float64(o.Elo)-1346.6)/143.4, 1/0.806)
		floatLevel = math.Max(0, math.Min(20, floatLevel))
	}
	level := int(floatLevel)
	if (floatLevel-float64(level))*1024 > float64(frand.Intn(1024)) {
		level++
	}
	return level
}

func (s *skill) enabled() bool { return s.level < 20 }

func (s *skill) timeToPick(depth int) bool { return depth == 1+s.level }

// pickBest chooses among the best multiPV root moves. Each candidate's
// score gets a deterministic and a random push, both growing with the
// weakness of the configured level.
func (s *skill) pickBest(rootMoves []RootMove, multiPV int) board.Move {
	topScore := rootMoves[0].Score
	delta := min(topScore-rootMoves[multiPV-1].Score, PawnValueMg)
	weakness := 120 - 2*s.level
	maxScore := -ValueInfinite

	for i := 0; i < multiPV; i++ {
		push := (weakness*(topScore-rootMoves[i].Score) +
			delta*frand.Intn(weakness)) / 128
		if rootMoves[i].Score+push >= maxScore {
			maxScore = rootMoves[i].Score + push
			s.best = rootMoves[i].PV[0]
		}
	}
	return s.best
}
