package txstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process record store for tests and dev mode.
type Memory struct {
	mu      sync.Mutex
	records []Record
	byID    map[uuid.UUID][]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byID: make(map[uuid.UUID][]int)}
}

func (s *Memory) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	s.byID[rec.TransactionID] = append(s.byID[rec.TransactionID], len(s.records)-1)
	return nil
}

func (s *Memory) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxs := s.byID[id]
	if len(idxs) == 0 {
		return nil, ErrNotFound
	}
	rec := s.records[idxs[len(idxs)-1]]
	return &rec, nil
}

func (s *Memory) History(ctx context.Context, id uuid.UUID) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxs := s.byID[id]
	if len(idxs) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Record, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *Memory) Range(ctx context.Context, from, to time.Time, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.RecordedAt.Before(from) || !rec.RecordedAt.Before(to) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) Reconciliation(ctx context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, idxs := range s.byID {
		latest := s.records[idxs[len(idxs)-1]]
		if latest.State.NeedsReconciliation() {
			out = append(out, latest)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
