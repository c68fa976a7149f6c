package domain

import "context"

// SnapshotStore persists the per-user daily snapshot. Every
// implementation is best-effort: callers log and swallow store errors,
// the in-memory state stays authoritative for the life of the process.
type SnapshotStore interface {
	// LoadSnapshot returns the persisted snapshot for the user, or
	// (nil, nil) when absent or unreadable. It never fabricates one.
	LoadSnapshot(ctx context.Context, userID string) (*DailySnapshot, error)

	// SaveSnapshot fully overwrites the user's snapshot.
	SaveSnapshot(ctx context.Context, userID string, snap *DailySnapshot) error

	// UpdateOne marks one habit completed with the given value inside
	// the existing snapshot and re-saves it whole. No-op when no
	// snapshot exists.
	UpdateOne(ctx context.Context, userID, habitID string, actualValue int) error
}

// TokenStore persists the auth token across process restarts.
type TokenStore interface {
	// LoadToken returns the persisted token, or "" when logged out.
	LoadToken(ctx context.Context) (string, error)

	SaveToken(ctx context.Context, token string) error

	ClearToken(ctx context.Context) error
}

// HabitAPI is the backend surface for habits and completion logs.
type HabitAPI interface {
	ListHabits(ctx context.Context) ([]Habit, error)

	// TodayStatus is the authoritative fetch of today's completion
	// state for every habit of the authenticated user.
	TodayStatus(ctx context.Context) ([]HabitCompletionStatus, error)

	// CreateLog records a completion and returns the server-assigned
	// log id. clientRef is a client-generated correlation id.
	CreateLog(ctx context.Context, habitID string, value int, clientRef string) (string, error)

	DeleteLog(ctx context.Context, logID string) error
}

// NotificationAPI is the backend surface for the notification list.
type NotificationAPI interface {
	ListNotifications(ctx context.Context) ([]Notification, error)

	MarkNotificationRead(ctx context.Context, id string) error

	MarkAllNotificationsRead(ctx context.Context) error

	DeleteNotification(ctx context.Context, id string) error
}

// ProfileAPI resolves the authenticated user from a token.
type ProfileAPI interface {
	Profile(ctx context.Context) (*User, error)
}

// PushTransport dials the live channel and subscribes to the per-user
// topic. It carries no dedup or state logic; that belongs to the
// notifier service.
type PushTransport interface {
	Connect(ctx context.Context, userID string) (PushConn, error)
}

// PushConn is one live connection. Messages must be drained by exactly
// one consumer; the channel closes when the connection dies. Close is
// safe to call more than once.
type PushConn interface {
	Messages() <-chan []byte
	Close() error
}
