package tablebase

import (
	"sync"

	"github.com/corvidchess/corvid/internal/board"
	"github.com/corvidchess/corvid/internal/storage"
)

// CachedProber layers an in-memory map and the persistent store over a
// slow prober. Tablebase results never change, so cache entries are valid
// forever; only the store applies a housekeeping TTL.
type CachedProber struct {
	inner Prober
	store *storage.Store

	mu  sync.RWMutex
	mem map[uint64]int
}

// NewCachedProber wraps inner. store may be nil, leaving only the
// in-memory layer.
func NewCachedProber(inner Prober, store *storage.Store) *CachedProber {
	return &CachedProber{
		inner: inner,
		store: store,
		mem:   make(map[uint64]int),
	}
}

// ProbeWDL implements Prober.
func (cp *CachedProber) ProbeWDL(pos *board.Position) (int, error) {
	key := pos.Hash

	cp.mu.RLock()
	wdl, ok := cp.mem[key]
	cp.mu.RUnlock()
	if ok {
		return wdl, nil
	}

	if cp.store != nil {
		if wdl, ok, err := cp.store.GetProbe(key); err == nil && ok {
			cp.remember(key, wdl)
			return wdl, nil
		}
	}

	wdl, err := cp.inner.ProbeWDL(pos)
	if err != nil {
		return 0, err
	}

	cp.remember(key, wdl)
	if cp.store != nil {
		_ = cp.store.PutProbe(key, wdl) // best effort
	}
	return wdl, nil
}

func (cp *CachedProber) remember(key uint64, wdl int) {
	cp.mu.Lock()
	if len(cp.mem) > 1<<20 {
		cp.mem = make(map[uint64]int)
	}
	cp.mem[key] = wdl
	cp.mu.Unlock()
}

// MaxPieces implements Prober.
func (cp *CachedProber) MaxPieces() int { return cp.inner.MaxPieces() }
