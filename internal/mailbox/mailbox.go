// Package mailbox implements the single-slot handoff between push-driven
// producers and the render loop.
//
// Only the newest value matters: Publish overwrites whatever is pending and
// counts the overwrite as a drop. TryTake never blocks.
package mailbox

import (
	"sync"
	"sync/atomic"

	"github.com/care/nowplaying/internal/types"
)

// Stats contains mailbox counters
type Stats struct {
	Published uint64 `json:"published"`
	Taken     uint64 `json:"taken"`
	Drops     uint64 `json:"drops"` // pending values overwritten before being taken
	Discarded uint64 `json:"discarded"`
	Pending   bool   `json:"pending"`
}

// Mailbox is a capacity-1 overwrite slot for TrackInfo values
type Mailbox struct {
	mu      sync.Mutex
	slot    types.TrackInfo
	pending bool

	published uint64
	taken     uint64
	drops     uint64
	discarded uint64
}

// New creates an empty mailbox
func New() *Mailbox {
	return &Mailbox{}
}

// Publish stores info, replacing any value not yet taken. Never blocks on a consumer.
func (m *Mailbox) Publish(info types.TrackInfo) {
	m.mu.Lock()
	if m.pending {
		atomic.AddUint64(&m.drops, 1)
	}
	m.slot = info
	m.pending = true
	m.mu.Unlock()

	atomic.AddUint64(&m.published, 1)
}

// TryTake removes and returns the pending value, if any
func (m *Mailbox) TryTake() (types.TrackInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pending {
		return types.TrackInfo{}, false
	}
	info := m.slot
	m.slot = types.TrackInfo{}
	m.pending = false
	atomic.AddUint64(&m.taken, 1)
	return info, true
}

// Discard drops the pending value, if any, without handing it to a consumer.
// Used when the shared state moved on through a path that does not publish.
func (m *Mailbox) Discard() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pending {
		return false
	}
	m.slot = types.TrackInfo{}
	m.pending = false
	atomic.AddUint64(&m.discarded, 1)
	return true
}

// Stats returns current counters
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()

	return Stats{
		Published: atomic.LoadUint64(&m.published),
		Taken:     atomic.LoadUint64(&m.taken),
		Drops:     atomic.LoadUint64(&m.drops),
		Discarded: atomic.LoadUint64(&m.discarded),
		Pending:   pending,
	}
}
