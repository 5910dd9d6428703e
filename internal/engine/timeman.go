package engine

import (
	"time"

	"github.com/corvidchess/corvid/internal/board"
)

// TimeManager splits the remaining clock into an optimum target and a hard
// maximum for the current move.
type TimeManager struct {
	optimumTime time.Duration
	maximumTime time.Duration
	startTime   time.Time
}

// Init computes the allocation for a new search. ply is the game ply.
func (tm *TimeManager) Init(limits *Limits, us board.Color, ply int) {
	tm.startTime = limits.StartTime
	if tm.startTime.IsZero() {
		tm.startTime = time.Now()
	}

	if limits.MoveTime > 0 {
		tm.optimumTime = limits.MoveTime
		tm.maximumTime = limits.MoveTime
		return
	}

	if !limits.UseTimeManagement() {
		tm.optimumTime = time.Hour
		tm.maximumTime = time.Hour
		return
	}

	timeLeft := limits.Time[us]
	inc := limits.Inc[us]

	mtg := limits.MovesToGo
	if mtg == 0 {
		// Sudden death: assume fewer moves remain as the game goes on.
		mtg = clamp(50-ply/4, 10, 50)
	}

	baseTime := timeLeft/time.Duration(mtg) + inc*9/10
	tm.optimumTime = baseTime
	if ply < 8 {
		tm.optimumTime = baseTime * 85 / 100
	}

	tm.maximumTime = tm.optimumTime * 5
	if m := timeLeft * 8 / 10; tm.maximumTime > m {
		tm.maximumTime = m
	}
	if m := timeLeft * 95 / 100; tm.maximumTime > m {
		tm.maximumTime = m
	}

	if tm.optimumTime < 10*time.Millisecond {
		tm.optimumTime = 10 * time.Millisecond
	}
	if tm.maximumTime < 50*time.Millisecond {
		tm.maximumTime = 50 * time.Millisecond
	}
}

// Elapsed returns the time since the search started.
func (tm *TimeManager) Elapsed() time.Duration {
	return time.Since(tm.startTime)
}

// Optimum returns the target thinking time.
func (tm *TimeManager) Optimum() time.Duration { return tm.optimumTime }

// Maximum returns the hard time ceiling.
func (tm *TimeManager) Maximum() time.Duration { return tm.maximumTime }
