package engine

import "sync/atomic"

// Publisher hands snapshots from the analysis goroutine to readers.
//
// The zero value is ready to use. Readers always see a complete snapshot.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// Publish replaces the current snapshot.
func (p *Publisher) Publish(s Snapshot) {
	p.current.Store(&s)
}

// Load returns the latest snapshot, false before the first Publish.
func (p *Publisher) Load() (Snapshot, bool) {
	s := p.current.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}
