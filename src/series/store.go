package series

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"market-streamer/src/models"
	"market-streamer/src/protocols"
	"market-streamer/src/utils"
)

// DefaultMaxDataPoints is the per-series window used when none is configured
const DefaultMaxDataPoints = 100

// ErrMissingKey is returned when an update carries no series key
var ErrMissingKey = errors.New("update has no security key")

// -----------------------------------------------------------------------------

type record struct {
	latest  *models.MRawUpdate
	samples *utils.RingBuffer
}

// -----------------------------------------------------------------------------

// Store keeps a bounded sliding window of samples per series key plus the
// latest full update. Every method takes the lock for its whole duration, so
// readers never observe a record half way through an Ingest.
type Store struct {
	mu       sync.RWMutex
	capacity int
	location *time.Location
	records  map[string]*record
	version  uint64
}

// -----------------------------------------------------------------------------

// NewStore creates a store holding at most capacity samples per key.
// loc is used for timestamps that carry no zone; nil means UTC.
func NewStore(capacity int, loc *time.Location) *Store {
	if capacity <= 0 {
		capacity = DefaultMaxDataPoints
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		capacity: capacity,
		location: loc,
		records:  make(map[string]*record),
	}
}

// -----------------------------------------------------------------------------

// Ingest replaces the latest snapshot for update.Security and appends one
// (timestamp, change_pct) sample, evicting the oldest sample when full.
// Arrival order is trusted; nothing is reordered.
func (s *Store) Ingest(update *models.MRawUpdate) error {
	if update == nil || update.Security == "" {
		return ErrMissingKey
	}

	ts := update.Time
	if ts.IsZero() {
		parsed, err := protocols.ParseTimestamp(update.Timestamp, s.location)
		if err != nil {
			return fmt.Errorf("series %s: %w", update.Security, err)
		}
		ts = parsed
	}

	snapshot := update.Clone()
	snapshot.Time = ts

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[update.Security]
	if !ok {
		rec = &record{samples: utils.NewRingBuffer(s.capacity)}
		s.records[update.Security] = rec
	}
	rec.latest = snapshot
	rec.samples.Append(models.MSample{Timestamp: ts, Value: update.ChangePct})
	s.version++
	return nil
}

// -----------------------------------------------------------------------------

// Get returns a copy of the record for key
func (s *Store) Get(key string) (*models.MSeriesRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return rec.view(key), true
}

// -----------------------------------------------------------------------------

// Remove deletes the record for key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; ok {
		delete(s.records, key)
		s.version++
	}
}

// -----------------------------------------------------------------------------

// SnapshotAll returns copies of every record, taken under a single lock
func (s *Store) SnapshotAll() map[string]*models.MSeriesRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.MSeriesRecord, len(s.records))
	for key, rec := range s.records {
		out[key] = rec.view(key)
	}
	return out
}

// -----------------------------------------------------------------------------

// Len returns the number of stored series
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// -----------------------------------------------------------------------------

// Capacity returns the per-series window size; it is fixed at construction
func (s *Store) Capacity() int {
	return s.capacity
}

// -----------------------------------------------------------------------------

// Version increases on every mutation. Renderers compare it between ticks
// to skip frames when nothing changed.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// -----------------------------------------------------------------------------

func (r *record) view(key string) *models.MSeriesRecord {
	return &models.MSeriesRecord{
		Key:            key,
		LatestSnapshot: r.latest.Clone(),
		Samples:        r.samples.GetAll(),
	}
}
