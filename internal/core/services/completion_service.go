package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loophabits/loop-client/internal/core/domain"
)

// CompletionService owns today's in-memory completion list and gives
// the caller immediate feedback on complete/uncomplete actions: the
// list mutates before the server confirms, and a failed request rolls
// back only the affected habit.
type CompletionService struct {
	api    domain.HabitAPI
	store  domain.SnapshotStore
	userID string

	// onPerfectDay fires once per transition of the server-confirmed
	// state into all-active-habits-complete. May be nil.
	onPerfectDay func()

	now func() time.Time

	mu     sync.Mutex
	habits []domain.Habit
	today  []domain.HabitCompletionStatus

	// allComplete is the edge-trigger baseline: the perfect-day signal
	// fires only on a false-to-true transition of the reconciled state.
	allComplete bool
}

func NewCompletionService(api domain.HabitAPI, store domain.SnapshotStore, userID string, onPerfectDay func()) *CompletionService {
	return &CompletionService{
		api:          api,
		store:        store,
		userID:       userID,
		onPerfectDay: onPerfectDay,
		now:          time.Now,
	}
}

// Start seeds the in-memory list from the snapshot cache when the
// cached day matches today, then replaces it with the authoritative
// server state. A failed fetch is tolerated when the cache already
// seeded the list: the engine starts in degraded offline mode.
func (s *CompletionService) Start(ctx context.Context) error {
	seeded := false

	snap, err := s.store.LoadSnapshot(ctx, s.userID)
	if err != nil {
		log.Printf("[CACHE] Snapshot load failed for user %s: %v", s.userID, err)
	} else if snap.IsForDay(s.now()) {
		s.mu.Lock()
		s.today = cloneStatuses(snap.Data)
		s.mu.Unlock()
		seeded = true
	} else if snap != nil {
		// Stale day: discard whole, never partially trust it.
		log.Printf("[CACHE] Discarding stale snapshot (%s) for user %s", snap.Date, s.userID)
	}

	if err := s.Refresh(ctx); err != nil {
		if !seeded {
			return err
		}
		log.Printf("[SYNC] Initial status fetch failed, serving cached snapshot: %v", err)
	}
	return nil
}

// Refresh replaces memory and cache with the server's truth and
// re-bases the perfect-day edge trigger.
func (s *CompletionService) Refresh(ctx context.Context) error {
	habits, err := s.api.ListHabits(ctx)
	if err != nil {
		return fmt.Errorf("completion: failed to list habits: %w", err)
	}

	statuses, err := s.api.TodayStatus(ctx)
	if err != nil {
		return fmt.Errorf("completion: failed to fetch today status: %w", err)
	}

	s.mu.Lock()
	s.habits = habits
	s.today = statuses
	s.allComplete = s.allActiveCompleteLocked()
	snap := domain.NewDailySnapshot(s.now(), cloneStatuses(s.today))
	s.mu.Unlock()

	s.persistSnapshot(ctx, snap)
	return nil
}

// Complete marks the habit done right away, then confirms with the
// backend. On success the server-assigned log id is merged in (server
// id wins, completion flags stay untouched); on failure the habit's
// entry reverts to its exact pre-mutation state.
func (s *CompletionService) Complete(ctx context.Context, habitID string, value int) error {
	s.mu.Lock()
	idx := s.indexOfLocked(habitID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrHabitNotFound
	}

	// Undo record captured before the optimistic apply.
	undo := s.today[idx].Clone()

	actual := value
	s.today[idx].CompletedToday = true
	s.today[idx].ActualValue = &actual
	s.mu.Unlock()

	if err := s.store.UpdateOne(ctx, s.userID, habitID, value); err != nil {
		log.Printf("[CACHE] UpdateOne failed for habit %s: %v", habitID, err)
	}

	logID, err := s.api.CreateLog(ctx, habitID, value, uuid.NewString())
	if err != nil {
		s.revert(ctx, habitID, undo)
		return fmt.Errorf("completion: create log failed for habit %s: %w", habitID, err)
	}

	s.mu.Lock()
	if idx := s.indexOfLocked(habitID); idx >= 0 {
		s.today[idx].LogID = &logID
	}
	fire := s.recomputePerfectDayLocked()
	snap := domain.NewDailySnapshot(s.now(), cloneStatuses(s.today))
	s.mu.Unlock()

	s.persistSnapshot(ctx, snap)

	if fire && s.onPerfectDay != nil {
		s.onPerfectDay()
	}
	return nil
}

// Uncomplete flips the habit back to not-done. Without a known server
// log id there is nothing to delete and the call is a no-op.
func (s *CompletionService) Uncomplete(ctx context.Context, habitID string) error {
	s.mu.Lock()
	idx := s.indexOfLocked(habitID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrHabitNotFound
	}
	if s.today[idx].LogID == nil {
		s.mu.Unlock()
		return nil
	}

	undo := s.today[idx].Clone()
	logID := *s.today[idx].LogID

	s.today[idx].CompletedToday = false
	s.today[idx].ActualValue = nil
	s.today[idx].LogID = nil
	s.mu.Unlock()

	if err := s.api.DeleteLog(ctx, logID); err != nil {
		s.revert(ctx, habitID, undo)
		return fmt.Errorf("completion: delete log %s failed: %w", logID, err)
	}

	s.mu.Lock()
	s.recomputePerfectDayLocked()
	snap := domain.NewDailySnapshot(s.now(), cloneStatuses(s.today))
	s.mu.Unlock()

	s.persistSnapshot(ctx, snap)
	return nil
}

// Today returns a copy of the current in-memory completion list.
func (s *CompletionService) Today() []domain.HabitCompletionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneStatuses(s.today)
}

func (s *CompletionService) Habits() []domain.Habit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Habit, len(s.habits))
	copy(out, s.habits)
	return out
}

// revert restores a single habit's entry and re-saves the snapshot, so
// the cache never keeps an optimistic write the server rejected. Never
// touches the rest of the list: there is no global rollback.
func (s *CompletionService) revert(ctx context.Context, habitID string, undo domain.HabitCompletionStatus) {
	s.mu.Lock()
	if idx := s.indexOfLocked(habitID); idx >= 0 {
		s.today[idx] = undo
	}
	snap := domain.NewDailySnapshot(s.now(), cloneStatuses(s.today))
	s.mu.Unlock()

	s.persistSnapshot(ctx, snap)
}

// recomputePerfectDayLocked updates the edge-trigger baseline and
// reports whether the signal should fire: true only on the transition
// into the all-complete state, never while already there.
func (s *CompletionService) recomputePerfectDayLocked() bool {
	all := s.allActiveCompleteLocked()
	fire := all && !s.allComplete
	s.allComplete = all
	return fire
}

func (s *CompletionService) allActiveCompleteLocked() bool {
	active := 0
	for _, h := range s.habits {
		if !h.Active() {
			continue
		}
		active++
		idx := s.indexOfLocked(h.ID)
		if idx < 0 || !s.today[idx].CompletedToday {
			return false
		}
	}
	return active > 0
}

func (s *CompletionService) indexOfLocked(habitID string) int {
	for i := range s.today {
		if s.today[i].HabitID == habitID {
			return i
		}
	}
	return -1
}

func (s *CompletionService) persistSnapshot(ctx context.Context, snap *domain.DailySnapshot) {
	if err := s.store.SaveSnapshot(ctx, s.userID, snap); err != nil {
		log.Printf("[CACHE] Snapshot save failed for user %s: %v", s.userID, err)
	}
}

func cloneStatuses(in []domain.HabitCompletionStatus) []domain.HabitCompletionStatus {
	out := make([]domain.HabitCompletionStatus, 0, len(in))
	for _, entry := range in {
		out = append(out, entry.Clone())
	}
	return out
}
