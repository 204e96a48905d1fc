package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/better-wallet/extension-wallet/pkg/types"
)

// Error is a relay-level failure reported to the page (busy, expired, invalid)
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// PageBridge is the API injected into a web page. Each Request posts a
// message on the page channel and waits for the response carrying the same
// correlation id.
type PageBridge struct {
	port Port

	mu      sync.Mutex
	waiters map[string]chan PageResponse
}

// NewPageBridge creates a bridge over the page message channel
func NewPageBridge(port Port) *PageBridge {
	return &PageBridge{port: port, waiters: make(map[string]chan PageResponse)}
}

// Run dispatches responses to waiting Request calls until the channel closes
func (b *PageBridge) Run(ctx context.Context) error {
	for {
		f, err := b.port.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrPortClosed) {
				return nil
			}
			return err
		}
		if f.Kind != FramePageResponse || f.PageResponse == nil {
			continue
		}

		b.mu.Lock()
		ch, ok := b.waiters[f.PageResponse.CorrelationID]
		delete(b.waiters, f.PageResponse.CorrelationID)
		b.mu.Unlock()
		if ok {
			ch <- *f.PageResponse
		}
	}
}

// Request sends action and data to the wallet and waits for the decision.
// A rejection by the user is a response, not an error; relay failures
// are returned as *Error. The call may never settle if the wallet side is
// torn down, so ctx should carry a deadline.
func (b *PageBridge) Request(ctx context.Context, action string, data any) (*PageResponse, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request data: %w", err)
		}
		raw = encoded
	}

	corrID := uuid.NewString()
	ch := make(chan PageResponse, 1)
	b.mu.Lock()
	b.waiters[corrID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiters, corrID)
		b.mu.Unlock()
	}()

	err := b.port.Send(ctx, Frame{
		Kind:        FramePageRequest,
		PageRequest: &PageRequest{CorrelationID: corrID, Action: action, Data: raw},
	})
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return &resp, &Error{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return &resp, nil
	case <-b.port.Done():
		return nil, ErrPortClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SignIn asks the wallet to sign challenge and verifies the returned proof.
// A user rejection returns the response with a nil proof and no error.
func (b *PageBridge) SignIn(ctx context.Context, challenge any) (*AuthenticationProof, *PageResponse, error) {
	data, err := json.Marshal(challenge)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal challenge: %w", err)
	}
	resp, err := b.Request(ctx, types.ActionSignIn, json.RawMessage(data))
	if err != nil || resp.Decision != types.DecisionAccept {
		return nil, resp, err
	}

	var proof AuthenticationProof
	if err := json.Unmarshal(resp.Data, &proof); err != nil {
		return nil, resp, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if err := proof.Verify(data); err != nil {
		return nil, resp, err
	}
	return &proof, resp, nil
}
