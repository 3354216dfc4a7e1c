package history

import (
	"sync"
	"time"
)

const DefaultCapacity = 1000

type Store struct {
	mutex     sync.RWMutex
	buf       []*Record
	head      int
	size      int
	index     map[string]*Record
	retention time.Duration
	now       func() time.Time
}

// NewStore creates a store holding at most capacity records. A zero
// retention disables age-based pruning.
func NewStore(capacity int, retention time.Duration) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		buf:       make([]*Record, capacity),
		index:     make(map[string]*Record, capacity),
		retention: retention,
		now:       time.Now,
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.now = now
	return s
}

// Append stores r, evicting the oldest record when full.
func (s *Store) Append(r *Record) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	capacity := len(s.buf)
	if s.size < capacity {
		s.buf[(s.head+s.size)%capacity] = r
		s.size++
	} else {
		delete(s.index, s.buf[s.head].ID)
		s.buf[s.head] = r
		s.head = (s.head + 1) % capacity
	}
	s.index[r.ID] = r
}

// Update sets the recovery outcome of a retained record.
func (s *Store) Update(id string, recovered bool, attempts int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, ok := s.index[id]
	if !ok {
		return false
	}
	r.Recovered = recovered
	r.Attempts = attempts
	return true
}

func (s *Store) Get(id string) (Record, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	r, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything.
func (s *Store) Recent(limit int) []Record {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if limit <= 0 || limit > s.size {
		limit = s.size
	}

	out := make([]Record, 0, limit)
	for i := s.size - 1; i >= s.size-limit; i-- {
		out = append(out, s.at(i).clone())
	}
	return out
}

// CountSince counts records stamped at or after t.
func (s *Store) CountSince(t time.Time) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	count := 0
	for i := s.size - 1; i >= 0; i-- {
		if s.at(i).Timestamp.Before(t) {
			break
		}
		count++
	}
	return count
}

// Prune drops records older than the retention window and returns how many
// were removed.
func (s *Store) Prune() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.retention <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for s.size > 0 && s.buf[s.head].Timestamp.Before(cutoff) {
		delete(s.index, s.buf[s.head].ID)
		s.buf[s.head] = nil
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		removed++
	}
	if s.size == 0 {
		s.head = 0
	}
	return removed
}

func (s *Store) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	clear(s.buf)
	clear(s.index)
	s.head = 0
	s.size = 0
}

func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.size
}

func (s *Store) Capacity() int {
	return len(s.buf)
}

// at returns the i-th oldest record. Callers hold the mutex.
func (s *Store) at(i int) *Record {
	return s.buf[(s.head+i)%len(s.buf)]
}
