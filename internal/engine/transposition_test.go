package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidchess/corvid/internal/board"
)

func TestTTSaveProbe(t *testing.T) {
	tt := NewTranspositionTable(1)
	key := uint64(0xDEADBEEFCAFEBABE)

	entry, hit := tt.Probe(key)
	require.False(t, hit)

	move := board.NewMove(board.E2, board.E4)
	entry.Save(key, 123, true, BoundExact, 9, move, 55)

	entry, hit = tt.Probe(key)
	require.True(t, hit)
	require.Equal(t, 123, entry.Value)
	require.Equal(t, 55, entry.Eval)
	require.Equal(t, 9, entry.Depth)
	require.Equal(t, BoundExact, entry.Bound)
	require.Equal(t, move, entry.Move)
	require.True(t, entry.IsPV)
}

func TestTTMissOnDifferentKey(t *testing.T) {
	tt := NewTranspositionTable(1)
	entry, _ := tt.Probe(1)
	entry.Save(1, 10, false, BoundLower, 5, board.NoMove, 0)

	// A different key landing in the same cluster misses.
	_, hit := tt.Probe(0xFFFF_FFFF_FFFF_0001)
	require.False(t, hit)
}

func TestTTKeyValidationSurvivesCorruption(t *testing.T) {
	tt := NewTranspositionTable(1)
	key := uint64(42)
	entry, _ := tt.Probe(key)
	entry.Save(key, 77, false, BoundLower, 3, board.NoMove, 0)

	// Simulate a torn write: flip a data bit without fixing the key word.
	slot := &tt.clusters[key&tt.mask].slots[0]
	slot.data.Store(slot.data.Load() ^ 0x10000)

	_, hit := tt.Probe(key)
	require.False(t, hit, "corrupted slot must read as a miss")
}

func TestTTSameKeyDeeperWins(t *testing.T) {
	tt := NewTranspositionTable(1)
	key := uint64(7)

	entry, _ := tt.Probe(key)
	entry.Save(key, 50, false, BoundLower, 12, board.NoMove, 0)

	// A much shallower non-exact save must not clobber the deep result.
	entry, hit := tt.Probe(key)
	require.True(t, hit)
	entry.Save(key, 60, false, BoundLower, 2, board.NoMove, 0)

	entry, hit = tt.Probe(key)
	require.True(t, hit)
	require.Equal(t, 12, entry.Depth)
	require.Equal(t, 50, entry.Value)

	// An exact save always replaces.
	entry.Save(key, 70, false, BoundExact, 2, board.NoMove, 0)
	entry, hit = tt.Probe(key)
	require.True(t, hit)
	require.Equal(t, 2, entry.Depth)
	require.Equal(t, 70, entry.Value)
}

func TestTTKeepsMoveOnMovelessRefresh(t *testing.T) {
	tt := NewTranspositionTable(1)
	key := uint64(99)
	move := board.NewMove(board.G1, board.F3)

	entry, _ := tt.Probe(key)
	entry.Save(key, 10, false, BoundLower, 8, move, 0)

	entry, _ = tt.Probe(key)
	entry.Save(key, 20, false, BoundLower, 9, board.NoMove, 0)

	entry, hit := tt.Probe(key)
	require.True(t, hit)
	require.Equal(t, move, entry.Move)
}

func TestTTClearAndHashfull(t *testing.T) {
	tt := NewTranspositionTable(1)
	tt.NewSearch()
	for key := uint64(1); key < 5000; key++ {
		entry, _ := tt.Probe(key * 0x9E3779B97F4A7C15)
		entry.Save(key*0x9E3779B97F4A7C15, 1, false, BoundLower, 1, board.NoMove, 0)
	}
	require.Greater(t, tt.Hashfull(), 0)

	tt.Clear()
	require.Equal(t, 0, tt.Hashfull())
	_, hit := tt.Probe(0x9E3779B97F4A7C15)
	require.False(t, hit)
}

func TestTTNegativeValues(t *testing.T) {
	tt := NewTranspositionTable(1)
	key := uint64(3)

	entry, _ := tt.Probe(key)
	entry.Save(key, MatedIn(4), false, BoundUpper, 1, board.NoMove, -250)

	entry, hit := tt.Probe(key)
	require.True(t, hit)
	require.Equal(t, MatedIn(4), entry.Value)
	require.Equal(t, -250, entry.Eval)
	require.Equal(t, BoundUpper, entry.Bound)
}
