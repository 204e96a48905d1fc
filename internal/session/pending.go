package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/storage"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// SetPending stores req in the one-slot queue. If another request is already
// pending the slot is left as is and ErrRequestPending is returned.
func (m *Manager) SetPending(ctx context.Context, req *types.ClientRequest) error {
	m.mu.Lock()
	err := m.setPending(ctx, req)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	logger.Info(ctx, "client request pending", "request_id", req.ID, "origin", req.Origin, "type", req.Type)
	m.emit(Event{Kind: EventPendingSet, RequestID: req.ID})
	return nil
}

func (m *Manager) setPending(ctx context.Context, req *types.ClientRequest) error {
	current, err := m.loadPending(ctx)
	if err != nil {
		return err
	}
	if current != nil {
		if current.ID == req.ID {
			return nil
		}
		return apperrors.ErrRequestPending
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal client request: %w", err)
	}
	if err := storage.Set(ctx, m.session, KeyPendingRequest, raw); err != nil {
		return fmt.Errorf("failed to write pending request: %w", err)
	}
	return nil
}

// Pending returns the pending request, if any
func (m *Manager) Pending(ctx context.Context) (*types.ClientRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.loadPending(ctx)
	if err != nil {
		return nil, false, err
	}
	return req, req != nil, nil
}

// ClearPending empties the slot if it holds the request with id.
// It reports whether a request was cleared; clearing twice is a no-op.
func (m *Manager) ClearPending(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	cleared, err := m.clearPending(ctx, id)
	m.mu.Unlock()
	if err != nil || !cleared {
		return false, err
	}

	logger.Info(ctx, "client request cleared", "request_id", id)
	m.emit(Event{Kind: EventPendingCleared, RequestID: id})
	return true, nil
}

func (m *Manager) clearPending(ctx context.Context, id string) (bool, error) {
	current, err := m.loadPending(ctx)
	if err != nil {
		return false, err
	}
	if current == nil || current.ID != id {
		return false, nil
	}
	if err := m.session.Delete(ctx, KeyPendingRequest); err != nil {
		return false, fmt.Errorf("failed to clear pending request: %w", err)
	}
	return true, nil
}

func (m *Manager) loadPending(ctx context.Context) (*types.ClientRequest, error) {
	raw, ok, err := m.session.Get(ctx, KeyPendingRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending request: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var req types.ClientRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Error(ctx, "pending request is unreadable", "error", err)
		return nil, apperrors.IllegalState("pending request is unreadable")
	}
	return &req, nil
}
