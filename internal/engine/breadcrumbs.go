package engine

import "sync/atomic"

// Breadcrumbs let a worker notice that another worker is currently
// searching the same position near the root, so it can reduce harder
// there. The registry is weak: collisions and races only cost accuracy,
// never correctness.
type breadcrumb struct {
	thread atomic.Int32 // owning thread id + 1, 0 when free
	key    atomic.Uint64
}

type breadcrumbTable [1024]breadcrumb

// threadHolding marks a node as being searched by this thread for the
// duration of its moves loop. Release must be called when leaving the loop.
type threadHolding struct {
	location *breadcrumb
	owning   bool
	other    bool
}

// hold installs a marker at the node's cell if the node is near the root
// and the cell is free. It records whether another thread already owns the
// same position.
func (bt *breadcrumbTable) hold(threadID int, posKey uint64, ply int) threadHolding {
	th := threadHolding{}
	if ply >= 8 {
		return th
	}
	cell := &bt[posKey&uint64(len(bt)-1)]
	th.location = cell

	owner := cell.thread.Load()
	switch {
	case owner == 0:
		if cell.thread.CompareAndSwap(0, int32(threadID+1)) {
			cell.key.Store(posKey)
			th.owning = true
		}
	case owner != int32(threadID+1):
		if cell.key.Load() == posKey {
			th.other = true
		}
	}
	return th
}

// marked reports whether another thread had already marked this position.
func (th *threadHolding) marked() bool {
	return th.other
}

// release frees the cell if this thread owns it.
func (th *threadHolding) release() {
	if th.owning {
		th.location.thread.Store(0)
	}
}
