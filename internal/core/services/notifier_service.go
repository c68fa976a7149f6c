package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/loophabits/loop-client/internal/core/domain"
)

// ChannelState is the notifier's live-channel connection state.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	// DefaultPollInterval is the authoritative resync period. The poll
	// path heals any pushes the live channel missed.
	DefaultPollInterval = 10 * time.Second

	// DefaultReconnectDelay is the fixed backoff between live-channel
	// connection attempts.
	DefaultReconnectDelay = 5 * time.Second
)

var ErrNotifierRunning = errors.New("notifier already started")

// NotifierService owns the in-memory notification list, the unread
// counter derived from it, and the processed-id set. The live push
// channel and the polling fallback both feed it; the processed-id set
// is the only cross-path deduplication guarantee. No other component
// mutates the list directly.
type NotifierService struct {
	api       domain.NotificationAPI
	transport domain.PushTransport

	pollInterval   time.Duration
	reconnectDelay time.Duration

	// chime plays the local sound cue for a newly delivered
	// notification. Best-effort: errors are ignored. May be nil.
	chime func() error

	mu        sync.Mutex
	state     ChannelState
	list      []domain.Notification
	processed map[string]struct{}
	unread    int
	conn      domain.PushConn
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

func NewNotifierService(api domain.NotificationAPI, transport domain.PushTransport, chime func() error) *NotifierService {
	return &NotifierService{
		api:            api,
		transport:      transport,
		pollInterval:   DefaultPollInterval,
		reconnectDelay: DefaultReconnectDelay,
		chime:          chime,
		processed:      make(map[string]struct{}),
	}
}

// SetIntervals overrides the poll period and reconnect backoff. Only
// meaningful before Start.
func (s *NotifierService) SetIntervals(poll, reconnect time.Duration) {
	if poll > 0 {
		s.pollInterval = poll
	}
	if reconnect > 0 {
		s.reconnectDelay = reconnect
	}
}

// Start brings the channel up for one user session: fresh list, fresh
// processed-id set, a connect loop and a poll loop. A second Start
// without a Stop is an error.
func (s *NotifierService) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("notifier: user id is required")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrNotifierRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.list = nil
	s.unread = 0
	s.processed = make(map[string]struct{})
	s.state = StateDisconnected
	s.mu.Unlock()

	s.wg.Add(2)
	go s.connectLoop(runCtx, userID)
	go s.pollLoop(runCtx)
	return nil
}

// Stop tears the session down: cancels both loops, closes the live
// channel, and waits for the pumps to exit. Results of in-flight HTTP
// requests landing afterwards are discarded by the context guard.
func (s *NotifierService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	s.cancel = nil
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
}

// connectLoop drives the state machine: Disconnected -> Connecting ->
// Connected, with a fixed backoff retry after every failure or drop.
func (s *NotifierService) connectLoop(ctx context.Context, userID string) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		conn, err := s.transport.Connect(ctx, userID)
		if err != nil {
			s.setState(StateDisconnected)
			log.Printf("[PUSH] Connect failed for user %s: %v", userID, err)
			if !sleepCtx(ctx, s.reconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		if ctx.Err() != nil || s.cancel == nil {
			// Stop won the race while the dial was in flight: the late
			// connection is ours to close, nobody else holds it.
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.state = StateConnected
		s.mu.Unlock()
		log.Printf("[PUSH] Live channel connected for user %s", userID)

		// Single consumer: this goroutine alone drains the stream.
		for raw := range conn.Messages() {
			s.handlePayload(ctx, raw)
		}
		_ = conn.Close()

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.state = StateDisconnected
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		log.Printf("[PUSH] Live channel dropped, retrying in %s", s.reconnectDelay)
		if !sleepCtx(ctx, s.reconnectDelay) {
			return
		}
	}
}

// pollLoop is the authoritative resync path. It runs for the whole
// session regardless of channel state.
func (s *NotifierService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	s.resync(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.resync(ctx)
		}
	}
}

// resync replaces local state with the fetched list and counts unread
// from that list itself, never from a separately maintained counter.
func (s *NotifierService) resync(ctx context.Context) {
	list, err := s.api.ListNotifications(ctx)
	if err != nil {
		log.Printf("[POLL] Notification fetch failed: %v", err)
		return
	}
	if ctx.Err() != nil {
		// Session ended while the request was in flight.
		return
	}

	s.mu.Lock()
	s.list = list
	for _, n := range list {
		s.processed[n.ID] = struct{}{}
	}
	s.unread = domain.UnreadCount(list)
	s.mu.Unlock()
}

func (s *NotifierService) handlePayload(ctx context.Context, raw []byte) {
	payload, err := domain.DecodePushPayload(raw)
	if err != nil {
		log.Printf("[PUSH] Discarding malformed payload: %v", err)
		return
	}

	if payload.Refresh {
		s.resync(ctx)
		return
	}

	s.applyNotification(*payload.Notification)
}

// applyNotification inserts a pushed notification exactly once. The
// processed-id set only grows for the life of the session, which is
// what makes duplicate delivery idempotent.
func (s *NotifierService) applyNotification(n domain.Notification) {
	s.mu.Lock()
	if _, seen := s.processed[n.ID]; seen {
		s.mu.Unlock()
		return
	}
	s.processed[n.ID] = struct{}{}
	s.list = append([]domain.Notification{n}, s.list...)
	s.unread = domain.UnreadCount(s.list)
	s.mu.Unlock()

	if s.chime != nil {
		if err := s.chime(); err != nil {
			log.Printf("[PUSH] Sound cue failed: %v", err)
		}
	}
}

// MarkRead flips one notification to read. The backend is the source
// of truth: local state changes only after the call succeeds, and a
// failure is healed by the next poll.
func (s *NotifierService) MarkRead(ctx context.Context, id string) error {
	if err := s.api.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("notifier: mark read %s: %w", id, err)
	}

	s.mu.Lock()
	for i := range s.list {
		if s.list[i].ID == id {
			s.list[i].IsRead = true
			break
		}
	}
	s.unread = domain.UnreadCount(s.list)
	s.mu.Unlock()
	return nil
}

func (s *NotifierService) MarkAllRead(ctx context.Context) error {
	if err := s.api.MarkAllNotificationsRead(ctx); err != nil {
		return fmt.Errorf("notifier: mark all read: %w", err)
	}

	s.mu.Lock()
	for i := range s.list {
		s.list[i].IsRead = true
	}
	s.unread = 0
	s.mu.Unlock()
	return nil
}

// Delete removes the notification locally first and keeps the removal
// even when the backend call fails; the failure is only logged. This
// asymmetry with the completion service's revert policy is deliberate.
func (s *NotifierService) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	for i := range s.list {
		if s.list[i].ID == id {
			s.list = append(s.list[:i], s.list[i+1:]...)
			break
		}
	}
	// The id stays in the processed set: a late duplicate push of a
	// deleted notification must not resurrect it.
	s.unread = domain.UnreadCount(s.list)
	s.mu.Unlock()

	if err := s.api.DeleteNotification(ctx, id); err != nil {
		log.Printf("[NOTIF] Delete %s failed on backend, keeping local removal: %v", id, err)
	}
}

// Notifications returns a copy of the list, newest-first by arrival.
func (s *NotifierService) Notifications() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, len(s.list))
	copy(out, s.list)
	return out
}

func (s *NotifierService) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *NotifierService) State() ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *NotifierService) setState(state ChannelState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
