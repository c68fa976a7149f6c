package localstore

import (
	"context"
	"sync"

	"github.com/loophabits/loop-client/internal/core/domain"
)

var (
	_ domain.SnapshotStore = (*MemoryStore)(nil)
	_ domain.TokenStore    = (*MemoryStore)(nil)
)

// MemoryStore keeps snapshots and the token in process memory. Used in
// tests and as the degraded mode when no durable store is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.DailySnapshot
	token     string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*domain.DailySnapshot),
	}
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, userID string) (*domain.DailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[userID]
	if !ok {
		return nil, nil
	}

	out := &domain.DailySnapshot{
		Date: snap.Date,
		Data: make([]domain.HabitCompletionStatus, 0, len(snap.Data)),
	}
	for _, entry := range snap.Data {
		out.Data = append(out.Data, entry.Clone())
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, userID string, snap *domain.DailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &domain.DailySnapshot{
		Date: snap.Date,
		Data: make([]domain.HabitCompletionStatus, 0, len(snap.Data)),
	}
	for _, entry := range snap.Data {
		stored.Data = append(stored.Data, entry.Clone())
	}
	s.snapshots[userID] = stored
	return nil
}

func (s *MemoryStore) UpdateOne(ctx context.Context, userID, habitID string, actualValue int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[userID]
	if !ok {
		return nil
	}

	for i := range snap.Data {
		if snap.Data[i].HabitID == habitID {
			value := actualValue
			snap.Data[i].CompletedToday = true
			snap.Data[i].ActualValue = &value
			break
		}
	}
	return nil
}

func (s *MemoryStore) LoadToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) SaveToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
