package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrMalformedPayload     = errors.New("malformed push payload")
)

// RefreshSentinel is the bare message the backend pushes when the
// client should re-fetch the full notification list instead of
// applying a delta.
const RefreshSentinel = "refresh"

const NotificationTypeRefresh = "refresh"

type Notification struct {
	ID                 string    `json:"notification_id"`
	Type               string    `json:"notification_type"`
	IsRead             bool      `json:"is_read"`
	SenderID           string    `json:"sender_id"`
	Message            string    `json:"message"`
	CreatedAt          time.Time `json:"created_at"`
	SenderProfileImage string    `json:"sender_profile_image,omitempty"`
}

// PushPayload is the decoded form of one live-channel message: either
// a refresh signal or a single notification object.
type PushPayload struct {
	Refresh      bool
	Notification *Notification
}

// DecodePushPayload classifies a raw channel message. The wire carries
// two shapes: the literal refresh sentinel string, or a JSON object
// keyed by notification_type. A JSON object whose type denotes refresh
// is treated the same as the bare sentinel.
func DecodePushPayload(raw []byte) (PushPayload, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return PushPayload{}, ErrMalformedPayload
	}

	if text == RefreshSentinel {
		return PushPayload{Refresh: true}, nil
	}

	if !strings.HasPrefix(text, "{") {
		return PushPayload{}, ErrMalformedPayload
	}

	var n Notification
	if err := json.Unmarshal([]byte(text), &n); err != nil {
		return PushPayload{}, ErrMalformedPayload
	}

	if n.Type == NotificationTypeRefresh {
		return PushPayload{Refresh: true}, nil
	}

	if n.ID == "" {
		return PushPayload{}, ErrMalformedPayload
	}

	return PushPayload{Notification: &n}, nil
}

// UnreadCount recomputes the unread counter from the list itself. The
// counter is always derived, never drifted alongside mutations.
func UnreadCount(list []Notification) int {
	count := 0
	for _, n := range list {
		if !n.IsRead {
			count++
		}
	}
	return count
}
