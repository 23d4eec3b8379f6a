package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process Store. It backs the daemon when no database is
// configured and the test suites.
//
// A single mutex serializes every read-then-write, which satisfies the
// per-phone atomicity the contract demands.
type MemStore struct {
	mu      sync.Mutex
	byPhone map[string]*Record
	byID    map[string]*Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		byPhone: make(map[string]*Record),
		byID:    make(map[string]*Record),
	}
}

func (s *MemStore) Upsert(ctx context.Context, phone, code string) (Upsert, error) {
	if phone == "" {
		return Upsert{}, fmt.Errorf("record: empty phone")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.byPhone[phone]
	outcome := decide(existing, code)

	switch outcome {
	case OutcomeCreated:
		rec := &Record{
			ID:        uuid.New().String(),
			Phone:     phone,
			Code:      code,
			Status:    StatusPending,
			UpdatedAt: time.Now(),
		}
		s.byPhone[phone] = rec
		s.byID[rec.ID] = rec
		return Upsert{Record: *rec, Outcome: outcome}, nil

	case OutcomeUpdated, OutcomeReopened:
		existing.Code = code
		existing.Status = StatusPending
		existing.UpdatedAt = s.bump(existing.UpdatedAt)
		return Upsert{Record: *existing, Outcome: outcome}, nil

	default:
		// Skip outcomes leave the record untouched.
		return Upsert{Record: *existing, Outcome: outcome}, nil
	}
}

func (s *MemStore) GetByPhone(ctx context.Context, phone string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) GetByID(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("record: invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = s.bump(rec.UpdatedAt)
	return nil
}

func (s *MemStore) List(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.byPhone))
	for _, rec := range s.byPhone {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byPhone, rec.Phone)
	return nil
}

// bump returns the current time, nudged forward if the clock has not moved
// since the previous mutation. Keeps UpdatedAt strictly non-decreasing.
func (s *MemStore) bump(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}
