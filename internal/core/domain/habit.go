package domain

import (
	"errors"
	"time"
)

var (
	ErrHabitNotFound  = errors.New("habit not found")
	ErrLogNotFound    = errors.New("completion log not found")
	ErrUnknownLogID   = errors.New("no server log id known for habit")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidHabitID = errors.New("invalid habit id")
)

// Habit is the client-side projection of a habit definition as served
// by GET /habits. Scheduling and streak fields stay on the server; the
// client only needs identity and whether the habit counts toward today.
type Habit struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Icon        string     `json:"icon,omitempty"`
	Color       string     `json:"color,omitempty"`
	TargetValue int        `json:"target_value"`
	Unit        string     `json:"unit,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// Active reports whether the habit participates in today's completion
// list. Archived habits are excluded from the perfect-day computation.
func (h *Habit) Active() bool {
	return h.ArchivedAt == nil
}

// HabitCompletionStatus is one row of today's reconciled state: the
// in-memory truth the UI renders and the snapshot cache persists.
// LogID is the server-assigned completion-log id; nil means the server
// has not confirmed (or the habit is not completed today).
type HabitCompletionStatus struct {
	HabitID        string  `json:"habit_id"`
	CompletedToday bool    `json:"completed_today"`
	ActualValue    *int    `json:"actual_value"`
	LogID          *string `json:"log_id"`
}

// Clone returns an independent copy, used to capture undo records
// before an optimistic mutation touches the live entry.
func (s HabitCompletionStatus) Clone() HabitCompletionStatus {
	out := s
	if s.ActualValue != nil {
		v := *s.ActualValue
		out.ActualValue = &v
	}
	if s.LogID != nil {
		id := *s.LogID
		out.LogID = &id
	}
	return out
}
