// Package newsstore provides the in-memory deduplication store for news
// items. Every item that passes the topic filter is fingerprinted and run
// through CheckAndInsert; only the first item with a given fingerprint
// proceeds to scoring.
package newsstore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/signalstream/errors"
	"github.com/c360/signalstream/event"
	"github.com/c360/signalstream/metric"
)

// Record is one stored news item keyed by its content fingerprint.
type Record struct {
	Fingerprint string       `json:"fingerprint"`
	StoredAt    time.Time    `json:"stored_at"`
	Item        *event.Tweet `json:"item,omitempty"`
}

// Store is a thread-safe fingerprint-keyed record store with no eviction.
// Records accumulate for the lifetime of the process.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string // insertion order, for stable snapshots

	inserts    atomic.Int64
	duplicates atomic.Int64

	metrics *storeMetrics
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithMetrics enables Prometheus metrics export for store operations.
// If registry is nil or prefix is empty, the option is ignored.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *storeOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// New creates an empty Store.
// Returns an error if metrics registration fails when requested.
func New(options ...Option) (*Store, error) {
	opts := &storeOptions{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	var metrics *storeMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newStoreMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "newsstore", "New", "metrics registration")
		}
	}

	return &Store{
		records: make(map[string]Record),
		metrics: metrics,
	}, nil
}

// CheckAndInsert atomically checks whether fingerprint is already stored
// and inserts a new record if not. When two callers race with the same
// fingerprint, exactly one observes inserted=true.
//
// The returned snapshot is the full record set including the new record
// (insertion order), taken under the same critical section as the insert,
// so the caller scores against a set that is guaranteed to contain its own
// item and every earlier one.
func (s *Store) CheckAndInsert(fingerprint string, item *event.Tweet) (bool, []Record) {
	s.mu.Lock()

	if _, exists := s.records[fingerprint]; exists {
		snapshot := s.snapshotLocked()
		s.mu.Unlock()

		s.duplicates.Add(1)
		if s.metrics != nil {
			s.metrics.recordDuplicate()
		}
		return false, snapshot
	}

	s.records[fingerprint] = Record{
		Fingerprint: fingerprint,
		StoredAt:    time.Now(),
		Item:        item,
	}
	s.order = append(s.order, fingerprint)
	snapshot := s.snapshotLocked()
	size := len(s.records)
	s.mu.Unlock()

	s.inserts.Add(1)
	if s.metrics != nil {
		s.metrics.recordInsert()
		s.metrics.updateSize(size)
	}
	return true, snapshot
}

// Contains reports whether a fingerprint is already stored.
func (s *Store) Contains(fingerprint string) bool {
	s.mu.RLock()
	_, exists := s.records[fingerprint]
	s.mu.RUnlock()
	return exists
}

// Records returns a snapshot of all stored records in insertion order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Size returns the current number of stored records.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Keys returns all stored fingerprints in insertion order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

// Clear removes all records. Operational use only; the pipeline never
// clears the store while processing.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[string]Record)
	s.order = nil
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.updateSize(0)
	}
}

// Inserts returns the total number of successful inserts.
func (s *Store) Inserts() int64 {
	return s.inserts.Load()
}

// Duplicates returns the total number of rejected duplicate fingerprints.
func (s *Store) Duplicates() int64 {
	return s.duplicates.Load()
}

func (s *Store) snapshotLocked() []Record {
	snapshot := make([]Record, 0, len(s.order))
	for _, fp := range s.order {
		snapshot = append(snapshot, s.records[fp])
	}
	return snapshot
}
