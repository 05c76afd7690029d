// Package rate implements a latest-value, overwrite-on-write channel used
// to adjust the transmitter's target packets-per-second at runtime without
// queuing: readers always observe the most recently published value.
package rate

import "sync"

// PPS holds a single overwritable packets-per-second target.
type PPS struct {
	mu  sync.RWMutex
	val uint64
}

// New returns a PPS register seeded with the given initial rate.
func New(initial uint64) *PPS {
	return &PPS{val: initial}
}

// Set overwrites the current target rate. Never blocks.
func (p *PPS) Set(pps uint64) {
	p.mu.Lock()
	p.val = pps
	p.mu.Unlock()
}

// Get returns the most recently set target rate. Never blocks on a writer.
func (p *PPS) Get() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.val
}
