package session

import (
	"sync"
	"time"

	"github.com/aliaswap/aliaswap/internal/walker"
)

// PassKind names what triggered a pass.
type PassKind string

const (
	PassInitial     PassKind = "initial"
	PassIncremental PassKind = "incremental"
	PassRevert      PassKind = "revert"
)

// PassRecord describes one completed pass.
type PassRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Session   string        `json:"session"`
	Kind      PassKind      `json:"kind"`
	Stats     walker.Stats  `json:"stats"`
	Duration  time.Duration `json:"duration"`
}

// passLog keeps the most recent records. A zero limit keeps nothing.
type passLog struct {
	mu      sync.Mutex
	entries []PassRecord
	limit   int
}

func newPassLog(limit int) *passLog {
	if limit < 0 {
		limit = 0
	}
	return &passLog{limit: limit}
}

func (l *passLog) setLimit(limit int) {
	if l == nil {
		return
	}
	if limit < 0 {
		limit = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	if len(l.entries) > limit {
		l.entries = append([]PassRecord(nil), l.entries[len(l.entries)-limit:]...)
	}
}

func (l *passLog) record(entry PassRecord) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit == 0 {
		return
	}
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.limit-1]
	}
	l.entries = append(l.entries, entry)
}

func (l *passLog) snapshot() []PassRecord {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	return append([]PassRecord(nil), l.entries...)
}
