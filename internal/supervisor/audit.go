package supervisor

import (
	"sync"
	"time"
)

// auditCapacity bounds the in-memory audit ring.
const auditCapacity = 1000

// AuditEntry is one event in the supervisor's audit log.
type AuditEntry struct {
	Time    time.Time `json:"time"`
	Task    string    `json:"task"`
	Event   string    `json:"event"`
	Message string    `json:"message,omitempty"`
}

// auditLog is a bounded ring of audit entries.
type auditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	next    int
	full    bool
}

func newAuditLog() *auditLog {
	return &auditLog{entries: make([]AuditEntry, auditCapacity)}
}

func (a *auditLog) append(e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[a.next] = e
	a.next++
	if a.next == len(a.entries) {
		a.next = 0
		a.full = true
	}
}

// tail returns up to limit entries, newest last. limit <= 0 returns all.
func (a *auditLog) tail(limit int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ordered []AuditEntry
	if a.full {
		ordered = append(ordered, a.entries[a.next:]...)
		ordered = append(ordered, a.entries[:a.next]...)
	} else {
		ordered = append(ordered, a.entries[:a.next]...)
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
