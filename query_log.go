package nfsidmap

import (
	"sync"
	"time"
)

const (
	DefaultQueryLogCapacity = 1000
)

// QueryRecord is one backend round trip.
type QueryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Backend   string    `json:"backend"`
	Kind      string    `json:"kind"`
	Attribute string    `json:"attribute"`
	Value     string    `json:"value"`
	Filter    string    `json:"filter,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// QueryLog keeps the most recent backend queries in a ring buffer.
type QueryLog struct {
	mu       sync.Mutex
	buffer   []QueryRecord
	head     int
	count    int
	total    uint64
	capacity int
}

func NewQueryLog(capacity int) *QueryLog {
	if capacity <= 0 {
		capacity = DefaultQueryLogCapacity
	}

	return &QueryLog{
		buffer:   make([]QueryRecord, capacity),
		capacity: capacity,
	}
}

func (l *QueryLog) Log(rec QueryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++

	if l.count < l.capacity {
		idx := (l.head + l.count) % l.capacity
		l.buffer[idx] = rec
		l.count++
		return
	}

	l.buffer[l.head] = rec
	l.head = (l.head + 1) % l.capacity
}

// List returns the retained records, newest first.
func (l *QueryLog) List() []QueryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return nil
	}

	result := make([]QueryRecord, 0, l.count)

	for i := 0; i < l.count; i++ {
		idx := (l.head + l.count - 1 - i + l.capacity) % l.capacity
		result = append(result, l.buffer[idx])
	}

	return result
}

// Total counts every query logged since the last Clear, including records
// already overwritten.
func (l *QueryLog) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.total
}

func (l *QueryLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.head = 0
	l.count = 0
	l.total = 0
}
