package domain

import (
	"errors"
	"time"
)

var (
	ErrNoToken      = errors.New("no persisted token")
	ErrTokenExpired = errors.New("persisted token is expired")
	ErrUserNotFound = errors.New("user not found")
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	ProfileImage string    `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is the process-wide auth state. Absence of a token is a
// valid terminal state: logged out.
type Session struct {
	Token           string
	User            *User
	IsAuthenticated bool
}

func (s Session) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}
