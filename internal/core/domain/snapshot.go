package domain

import "time"

// SnapshotDateLayout is the local calendar day key used by the
// per-user daily snapshot.
const SnapshotDateLayout = "2006-01-02"

// DailySnapshot is the cached today's-completion-status for all habits
// of one user. Date must equal the current local calendar day; a
// mismatch means the snapshot is stale and must be discarded whole,
// never partially trusted.
type DailySnapshot struct {
	Date string                  `json:"date"`
	Data []HabitCompletionStatus `json:"data"`
}

func NewDailySnapshot(now time.Time, data []HabitCompletionStatus) *DailySnapshot {
	return &DailySnapshot{
		Date: now.Format(SnapshotDateLayout),
		Data: data,
	}
}

// IsForDay reports whether the snapshot belongs to the local calendar
// day of now. Day rollover invalidates the snapshot.
func (s *DailySnapshot) IsForDay(now time.Time) bool {
	return s != nil && s.Date == now.Format(SnapshotDateLayout)
}
