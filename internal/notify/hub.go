// Package notify persists notifications and pushes live events to connected
// clients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"tasktracker/internal/models"
)

// Live event names.
const (
	EventTaskAssigned      = "task_assigned"
	EventTaskStatusChanged = "task-status-changed"
	EventTaskDeleted       = "task-deleted"
)

// ErrDeferred marks a notification held in memory because the breaker was
// open when it was written.
var ErrDeferred = errors.New("notification deferred")

// Event is one pushed message.
type Event struct {
	Name    string    `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Store persists notifications.
type Store interface {
	CreateNotification(ctx context.Context, n models.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// Options tunes a Hub.
type Options struct {
	// Buffer is the per-subscription queue length.
	Buffer int
	// Breaker guards the notification writes; nil uses a default breaker.
	Breaker *gobreaker.CircuitBreaker
	// Backlog caps the notifications held while the breaker is open.
	Backlog int
}

// Hub owns the registry of connected clients, keyed by user id.
type Hub struct {
	store   Store
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
	buffer  int
	now     func() time.Time

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	pendingMu sync.Mutex
	pending   []models.Notification
	backlog   int
}

// Subscription is one live connection listening on a user channel.
type Subscription struct {
	hub     *Hub
	channel string
	events  chan Event
	once    sync.Once
}

// Events yields pushed events until the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// New constructs a hub persisting through store.
func New(store Store, logger *slog.Logger, opts Options) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.Breaker == nil {
		opts.Breaker = NewBreaker("notifications", logger)
	}
	if opts.Backlog <= 0 {
		opts.Backlog = 256
	}
	return &Hub{
		store:   store,
		logger:  logger,
		breaker: opts.Breaker,
		buffer:  opts.Buffer,
		now:     time.Now,
		subs:    make(map[string]map[*Subscription]struct{}),
		backlog: opts.Backlog,
	}
}

// NewBreaker returns the breaker used around notification writes. It opens
// after more than three consecutive failures.
func NewBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// Subscribe registers a live connection on the channel of userID.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{hub: h, channel: userID, events: make(chan Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.channel)
		}
	}
	close(sub.events)
}

// CloseAll closes every live subscription, ending the streams reading them.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var subs []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
	if len(subs) > 0 {
		h.logger.Info("live subscriptions closed", slog.Int("count", len(subs)))
	}
}

// Connected reports whether userID has at least one live subscription.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}

// Publish pushes ev once to every subscription on channel and returns the
// number of deliveries. Full queues drop the event.
func (h *Hub) Publish(channel string, ev Event) int {
	ev = h.stamp(ev)
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.subs[channel] {
		if h.offer(sub, ev) {
			delivered++
		}
	}
	return delivered
}

// Broadcast pushes ev to every connected client regardless of relevance.
func (h *Hub) Broadcast(ev Event) int {
	ev = h.stamp(ev)
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, set := range h.subs {
		for sub := range set {
			if h.offer(sub, ev) {
				delivered++
			}
		}
	}
	return delivered
}

func (h *Hub) stamp(ev Event) Event {
	if ev.At.IsZero() {
		ev.At = h.now().UTC()
	}
	return ev
}

func (h *Hub) offer(sub *Subscription, ev Event) bool {
	select {
	case sub.events <- ev:
		return true
	default:
		h.logger.Warn("dropping live event", slog.String("channel", sub.channel), slog.String("event", ev.Name))
		return false
	}
}

// NotifyUser persists a notification and, when the recipient is connected,
// pushes it once on the recipient's channel. Only the persisted record is
// guaranteed; the push is fire and forget.
//
// While the breaker rejects writes the notification is held in memory and
// written by the next NotifyUser call that gets through; the error then wraps
// ErrDeferred.
func (h *Hub) NotifyUser(ctx context.Context, userID, taskID, kind, title, message string) (models.Notification, error) {
	n := models.Notification{
		ID:              uuid.NewString(),
		RecipientUserID: userID,
		TaskID:          taskID,
		Type:            kind,
		Title:           title,
		Message:         message,
		CreatedAt:       h.now().UTC(),
	}
	if err := h.persist(ctx, n); err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			return models.Notification{}, fmt.Errorf("persist notification for %s: %w", userID, err)
		}
		if !h.hold(n) {
			return models.Notification{}, fmt.Errorf("persist notification for %s: backlog full: %w", userID, err)
		}
		return n, fmt.Errorf("%w for %s: %w", ErrDeferred, userID, err)
	}
	h.deliver(n)
	h.flush(ctx)
	return n, nil
}

// Pending reports how many notifications wait for the store.
func (h *Hub) Pending() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pending)
}

func (h *Hub) persist(ctx context.Context, n models.Notification) error {
	_, err := h.breaker.Execute(func() (interface{}, error) {
		return nil, h.store.CreateNotification(ctx, n)
	})
	return err
}

func (h *Hub) deliver(n models.Notification) {
	if h.Connected(n.RecipientUserID) {
		h.Publish(n.RecipientUserID, Event{Name: n.Type, Payload: n})
	}
}

func (h *Hub) hold(n models.Notification) bool {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	if len(h.pending) >= h.backlog {
		return false
	}
	h.pending = append(h.pending, n)
	return true
}

// flush writes held notifications in arrival order and stops at the first
// failure, keeping the rest.
func (h *Hub) flush(ctx context.Context) {
	h.pendingMu.Lock()
	held := h.pending
	h.pending = nil
	h.pendingMu.Unlock()

	for i, n := range held {
		if err := h.persist(ctx, n); err != nil {
			h.pendingMu.Lock()
			h.pending = append(slices.Clone(held[i:]), h.pending...)
			h.pendingMu.Unlock()
			h.logger.Warn("held notifications not flushed",
				slog.Int("remaining", len(held)-i),
				slog.String("error", err.Error()))
			return
		}
		h.deliver(n)
	}
	if len(held) > 0 {
		h.logger.Info("held notifications flushed", slog.Int("count", len(held)))
	}
}

// Notifications lists the persisted notifications of userID, newest first.
func (h *Hub) Notifications(ctx context.Context, userID string) ([]models.Notification, error) {
	return h.store.ListNotifications(ctx, userID)
}

// MarkRead flags one notification of userID as read.
func (h *Hub) MarkRead(ctx context.Context, userID, id string) error {
	return h.store.MarkNotificationRead(ctx, userID, id)
}
