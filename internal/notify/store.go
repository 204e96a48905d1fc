// Package notify keeps an append-only notification log per account.
// Entries are only ever added or marked seen.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"

	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/metrics"
	"github.com/better-wallet/extension-wallet/internal/storage"
	"github.com/better-wallet/extension-wallet/internal/validation"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// KeyPrefix prefixes the per-account log key
const KeyPrefix = "notifications:"

// Event is sent to subscribers when a notification is added
type Event struct {
	AccountID    string
	Notification types.AppNotification
}

// Store persists notification logs in a KV
type Store struct {
	kv      storage.KV
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	feed event.Feed
}

// New creates a notification store. m may be nil.
func New(kv storage.KV, m *metrics.Metrics) *Store {
	return &Store{kv: kv, metrics: m, now: time.Now}
}

func key(accountID string) string {
	return KeyPrefix + accountID
}

// Subscribe registers sink for new notifications
func (s *Store) Subscribe(sink chan<- Event) event.Subscription {
	return s.feed.Subscribe(sink)
}

// Notify appends an unseen entry to the account's log
func (s *Store) Notify(ctx context.Context, accountID, title, message string) (*types.AppNotification, error) {
	return s.add(ctx, accountID, types.AppNotification{Title: title, Message: message})
}

// NotifyWithLink appends an unseen entry carrying a call to action
func (s *Store) NotifyWithLink(ctx context.Context, accountID, title, message, buttonMessage, href string) (*types.AppNotification, error) {
	return s.add(ctx, accountID, types.AppNotification{
		Title:         title,
		Message:       message,
		ButtonMessage: &buttonMessage,
		Link:          &href,
	})
}

func (s *Store) add(ctx context.Context, accountID string, n types.AppNotification) (*types.AppNotification, error) {
	if err := validation.ValidateAccountID(accountID); err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	if n.Title == "" {
		return nil, apperrors.BadRequest("title is required")
	}

	n.NotificationID = uuid.NewString()
	n.Ts = s.now().UTC()
	n.Seen = false

	s.mu.Lock()
	log, err := s.load(ctx, accountID)
	if err == nil {
		err = s.save(ctx, accountID, append(log, n))
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.metrics.NotificationAdded()
	logger.Debug(ctx, "notification added", "account_id", accountID, "notification_id", n.NotificationID)
	s.feed.Send(Event{AccountID: accountID, Notification: n})
	return &n, nil
}

// MarkSeen flips the seen flag of one entry. Marking an entry twice is
// not an error.
func (s *Store) MarkSeen(ctx context.Context, accountID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}
	for i := range log {
		if log[i].NotificationID == notificationID {
			if log[i].Seen {
				return nil
			}
			log[i].Seen = true
			return s.save(ctx, accountID, log)
		}
	}
	return apperrors.NotFound("notification", notificationID)
}

// List returns the account's log ordered by timestamp ascending
func (s *Store) List(ctx context.Context, accountID string) ([]types.AppNotification, error) {
	s.mu.Lock()
	log, err := s.load(ctx, accountID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(log, func(i, j int) bool { return log[i].Ts.Before(log[j].Ts) })
	return log, nil
}

// Unseen counts entries not yet marked seen
func (s *Store) Unseen(ctx context.Context, accountID string) (int, error) {
	log, err := s.List(ctx, accountID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range log {
		if !e.Seen {
			n++
		}
	}
	return n, nil
}

func (s *Store) load(ctx context.Context, accountID string) ([]types.AppNotification, error) {
	raw, ok, err := s.kv.Get(ctx, key(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var log []types.AppNotification
	if err := json.Unmarshal(raw, &log); err != nil {
		logger.Error(ctx, "notification log is unreadable", "account_id", accountID, "error", err)
		return nil, apperrors.ErrCorruptedStorage
	}
	return log, nil
}

func (s *Store) save(ctx context.Context, accountID string, log []types.AppNotification) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}
	if err := storage.Set(ctx, s.kv, key(accountID), raw); err != nil {
		return fmt.Errorf("failed to write notifications: %w", err)
	}
	return nil
}
