package app

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/notify"
	"github.com/better-wallet/extension-wallet/internal/session"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// streamBuffer bounds how far a slow reader may fall behind before
// notifications are dropped from its stream. They stay in the log.
const streamBuffer = 64

// ErrStreamClosed is returned by Next after Close
var ErrStreamClosed = errors.New("notification stream closed")

// NotificationStream follows notifications as they are added to the log of
// whichever account is active when they arrive. It ends when the wallet
// locks.
type NotificationStream struct {
	sessions *session.Manager
	out      chan notify.Event
	locked   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// StreamNotifications opens a stream. The wallet must be unlocked with an
// account selected.
func (s *WalletService) StreamNotifications(ctx context.Context) (*NotificationStream, error) {
	if _, err := s.sessions.ActiveAccount(ctx); err != nil {
		return nil, err
	}

	st := &NotificationStream{
		sessions: s.sessions,
		out:      make(chan notify.Event, streamBuffer),
		locked:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	notes := make(chan notify.Event, 16)
	events := make(chan session.Event, 16)
	notesSub := s.notifications.Subscribe(notes)
	sessionSub := s.sessions.Subscribe(events)
	go st.pump(notesSub, sessionSub, notes, events)
	return st, nil
}

// pump keeps both feeds drained so a stalled reader never blocks the
// components that publish on them
func (st *NotificationStream) pump(notesSub, sessionSub event.Subscription, notes <-chan notify.Event, events <-chan session.Event) {
	defer notesSub.Unsubscribe()
	defer sessionSub.Unsubscribe()

	for {
		select {
		case ev := <-notes:
			select {
			case st.out <- ev:
			default:
				logger.Warn(context.Background(), "notification stream is full, dropping entry",
					"account_id", ev.AccountID, "notification_id", ev.Notification.NotificationID)
			}
		case ev := <-events:
			if ev.Kind == session.EventLocked {
				close(st.locked)
				return
			}
		case <-notesSub.Err():
			return
		case <-sessionSub.Err():
			return
		case <-st.done:
			return
		}
	}
}

// Next blocks until a notification for the active account arrives
func (st *NotificationStream) Next(ctx context.Context) (*types.AppNotification, error) {
	for {
		select {
		case ev := <-st.out:
			acc, err := st.sessions.ActiveAccount(ctx)
			if err != nil {
				return nil, err
			}
			if acc.ID != ev.AccountID {
				continue
			}
			n := ev.Notification
			return &n, nil
		case <-st.locked:
			return nil, apperrors.IllegalState("wallet locked")
		case <-st.done:
			return nil, ErrStreamClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close ends the stream and releases its subscriptions
func (st *NotificationStream) Close() {
	st.once.Do(func() { close(st.done) })
}
