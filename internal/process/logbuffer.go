package process

import (
	"sync"
	"time"
)

// maxLineBytes truncates any single captured line.
const maxLineBytes = 4096

// LogEntry is one captured line of process output.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Line      string    `json:"line"`
}

// LogBuffer is a thread-safe ring buffer holding the last N lines.
type LogBuffer struct {
	mu         sync.RWMutex
	entries    []LogEntry
	next       int
	full       bool
	maxEntries int
	dropped    int
}

// NewLogBuffer creates a log buffer that retains up to maxEntries lines.
func NewLogBuffer(maxEntries int) *LogBuffer {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &LogBuffer{
		entries:    make([]LogEntry, maxEntries),
		maxEntries: maxEntries,
	}
}

// Write appends a line, overwriting the oldest when full.
func (lb *LogBuffer) Write(stream, line string) {
	if len(line) > maxLineBytes {
		line = line[:maxLineBytes] + "…"
	}
	entry := LogEntry{Timestamp: time.Now().UTC(), Stream: stream, Line: line}

	lb.mu.Lock()
	if lb.full {
		lb.dropped++
	}
	lb.entries[lb.next] = entry
	lb.next = (lb.next + 1) % lb.maxEntries
	if lb.next == 0 {
		lb.full = true
	}
	lb.mu.Unlock()
}

// Recent returns up to n of the newest entries, oldest first.
// n <= 0 returns everything retained.
func (lb *LogBuffer) Recent(n int) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	total := lb.next
	if lb.full {
		total = lb.maxEntries
	}
	if n <= 0 || n > total {
		n = total
	}

	result := make([]LogEntry, n)
	start := lb.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + lb.maxEntries) % lb.maxEntries
		result[i] = lb.entries[idx]
	}
	return result
}

// Dropped reports how many lines were overwritten.
func (lb *LogBuffer) Dropped() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.dropped
}
