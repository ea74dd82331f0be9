package audit

import (
	"sync"

	"github.com/ragworks/raggate/internal/model"
)

// ringBuffer keeps the most recent records in memory for the admin listing
// endpoint, so reads never block the write path or require the database.
type ringBuffer struct {
	mu   sync.RWMutex
	recs []*model.AuditRecord
	next int
	full bool
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ringBuffer{recs: make([]*model.AuditRecord, capacity)}
}

func (b *ringBuffer) add(rec *model.AuditRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recs[b.next] = rec
	b.next = (b.next + 1) % len(b.recs)
	if b.next == 0 {
		b.full = true
	}
}

// snapshot returns up to limit records, newest first, optionally filtered
// by tenant.
func (b *ringBuffer) snapshot(tenantID string, limit int) []*model.AuditRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.full {
		size = len(b.recs)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*model.AuditRecord, 0, limit)
	for i := 1; i <= size && len(out) < limit; i++ {
		rec := b.recs[(b.next-i+len(b.recs))%len(b.recs)]
		if rec == nil {
			continue
		}
		if tenantID != "" && rec.TenantID != tenantID {
			continue
		}
		out = append(out, rec)
	}
	return out
}
