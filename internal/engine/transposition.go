package engine

import (
	"sync/atomic"

	"github.com/corvidchess/corvid/internal/board"
)

// The transposition table is a shared, lock-free cache of search results.
// Each slot holds two words: a packed data word and the position key XORed
// with that data word. A torn read or racy write therefore produces a slot
// whose reconstructed key no longer matches and is treated as a miss; no
// locking is needed.
//
// Data word layout, low to high:
//
//	bits  0-15  move
//	bits 16-31  value (int16)
//	bits 32-47  eval  (int16)
//	bits 48-55  depth + depthBias (uint8)
//	bits 56-57  bound
//	bit  58     pv
//	bits 59-63  generation (5 bits)
const (
	ttClusterSize = 3
	depthBias     = 7
)

type ttSlot struct {
	key  atomic.Uint64 // position key ^ data
	data atomic.Uint64
}

type ttCluster struct {
	slots [ttClusterSize]ttSlot
	_     [16]byte // pad to a 64-byte cache line
}

// TTEntry is a decoded view of a slot, valid until the next Save on the
// same cluster. Writable whether or not the probe hit.
type TTEntry struct {
	slot *ttSlot
	tt   *TranspositionTable

	Move  board.Move
	Value int
	Eval  int
	Depth int
	Bound Bound
	IsPV  bool
}

// TranspositionTable is the process-wide search cache.
type TranspositionTable struct {
	clusters   []ttCluster
	mask       uint64
	generation atomic.Uint32 // stepped by 1 per root search, 5 bits used
}

// NewTranspositionTable allocates a table of about sizeMB megabytes.
func NewTranspositionTable(sizeMB int) *TranspositionTable {
	tt := &TranspositionTable{}
	tt.Resize(sizeMB)
	return tt
}

// Resize reallocates the table. Not safe during a search.
func (tt *TranspositionTable) Resize(sizeMB int) {
	clusterSize := uint64(64)
	n := uint64(sizeMB) * 1024 * 1024 / clusterSize
	n = roundDownToPowerOf2(n)
	if n == 0 {
		n = 1
	}
	tt.clusters = make([]ttCluster, n)
	tt.mask = n - 1
}

func roundDownToPowerOf2(n uint64) uint64 {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// NewSearch steps the generation counter. Older entries become preferred
// replacement victims.
func (tt *TranspositionTable) NewSearch() {
	tt.generation.Add(1)
}

// Clear wipes the table.
func (tt *TranspositionTable) Clear() {
	for i := range tt.clusters {
		for j := range tt.clusters[i].slots {
			tt.clusters[i].slots[j].key.Store(0)
			tt.clusters[i].slots[j].data.Store(0)
		}
	}
	tt.generation.Store(0)
}

func (tt *TranspositionTable) gen() uint8 {
	return uint8(tt.generation.Load()) & 0x1F
}

func packData(m board.Move, value, eval, depth int, bound Bound, pv bool, gen uint8) uint64 {
	d := uint64(uint16(m))
	d |= uint64(uint16(int16(value))) << 16
	d |= uint64(uint16(int16(eval))) << 32
	d |= uint64(uint8(depth+depthBias)) << 48
	d |= uint64(bound) << 56
	if pv {
		d |= 1 << 58
	}
	d |= uint64(gen&0x1F) << 59
	return d
}

func (e *TTEntry) decode(data uint64) {
	e.Move = board.Move(uint16(data))
	e.Value = int(int16(uint16(data >> 16)))
	e.Eval = int(int16(uint16(data >> 32)))
	e.Depth = int(uint8(data>>48)) - depthBias
	e.Bound = Bound((data >> 56) & 3)
	e.IsPV = data>>58&1 != 0
}

func slotGen(data uint64) uint8 {
	return uint8(data>>59) & 0x1F
}

// Probe looks up key. On a hit the returned entry carries the stored
// fields; on a miss it designates the cluster slot the caller should save
// into. The entry is writable either way.
func (tt *TranspositionTable) Probe(key uint64) (TTEntry, bool) {
	cluster := &tt.clusters[key&tt.mask]
	gen := tt.gen()

	entry := TTEntry{tt: tt}

	for i := range cluster.slots {
		slot := &cluster.slots[i]
		data := slot.data.Load()
		stored := slot.key.Load()
		if data != 0 && stored^data == key {
			// Refresh the generation so the entry survives replacement.
			if slotGen(data) != gen {
				refreshed := data&^(uint64(0x1F)<<59) | uint64(gen)<<59
				slot.data.Store(refreshed)
				slot.key.Store(key ^ refreshed)
			}
			entry.slot = slot
			entry.decode(data)
			return entry, true
		}
	}

	// Miss: pick the replacement victim, preferring shallow entries from
	// old generations.
	victim := &cluster.slots[0]
	victimScore := replaceScore(cluster.slots[0].data.Load(), gen)
	for i := 1; i < ttClusterSize; i++ {
		if s := replaceScore(cluster.slots[i].data.Load(), gen); s < victimScore {
			victim = &cluster.slots[i]
			victimScore = s
		}
	}
	entry.slot = victim
	entry.Value = ValueNone
	entry.Eval = ValueNone
	entry.Depth = DepthNone
	return entry, false
}

func replaceScore(data uint64, gen uint8) int {
	if data == 0 {
		return -1 << 20
	}
	depth := int(uint8(data>>48)) - depthBias
	relAge := int((32 + gen - slotGen(data)) & 0x1F)
	return depth - 8*relAge
}

// Save stores or refreshes the entry's slot. An existing move is kept when
// the new one is empty. A same-key save with a non-exact bound that is more
// than 4 plies shallower than the stored entry keeps the stored score,
// bound and depth; every other save overwrites them.
func (e *TTEntry) Save(key uint64, value int, pv bool, bound Bound, depth int, m board.Move, eval int) {
	prevData := e.slot.data.Load()
	prevKey := e.slot.key.Load()
	sameKey := prevData != 0 && prevKey^prevData == key

	if m == board.NoMove && sameKey {
		m = board.Move(uint16(prevData))
	}

	if sameKey && bound != BoundExact {
		prevDepth := int(uint8(prevData>>48)) - depthBias
		if depth+4 < prevDepth {
			// Keep the deeper result; still refresh move and generation.
			data := prevData&^(uint64(0x1F)<<59) | uint64(e.tt.gen())<<59
			data = data&^uint64(0xFFFF) | uint64(uint16(m))
			e.slot.data.Store(data)
			e.slot.key.Store(key ^ data)
			return
		}
	}

	data := packData(m, value, eval, depth, bound, pv, e.tt.gen())
	e.slot.data.Store(data)
	e.slot.key.Store(key ^ data)
}

// Prefetch touches the cluster for key so it is likely cached when the
// actual probe happens after the move is made.
func (tt *TranspositionTable) Prefetch(key uint64) {
	_ = tt.clusters[key&tt.mask].slots[0].data.Load()
}

// Hashfull estimates the permille of the table used by the current search,
// sampling the first thousand clusters.
func (tt *TranspositionTable) Hashfull() int {
	gen := tt.gen()
	sample := 1000
	if len(tt.clusters) < sample {
		sample = len(tt.clusters)
	}
	cnt := 0
	for i := 0; i < sample; i++ {
		for j := range tt.clusters[i].slots {
			data := tt.clusters[i].slots[j].data.Load()
			if data != 0 && slotGen(data) == gen {
				cnt++
			}
		}
	}
	return cnt * 1000 / (sample * ttClusterSize)
}
