package archive

import "sync"

// RangeGuard serializes the archiver and the full-history verifier so
// neither walks a range boundary the other is mutating. Jobs that cannot
// acquire it report sentinel.ErrRangeBusy instead of blocking.
type RangeGuard struct {
	mu sync.Mutex
}

// NewRangeGuard creates an unheld guard.
func NewRangeGuard() *RangeGuard {
	return &RangeGuard{}
}

// TryAcquire takes the guard without blocking.
func (g *RangeGuard) TryAcquire() bool {
	return g.mu.TryLock()
}

// Release gives the guard back.
func (g *RangeGuard) Release() {
	g.mu.Unlock()
}
