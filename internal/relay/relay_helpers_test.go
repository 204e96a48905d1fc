package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/better-wallet/extension-wallet/internal/crypto"
	"github.com/better-wallet/extension-wallet/internal/session"
	"github.com/better-wallet/extension-wallet/internal/storage"
	"github.com/better-wallet/extension-wallet/internal/walletstore"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

type harness struct {
	ctx      context.Context
	sessions *session.Manager
	tabs     *MemoryTabs
	bg       *Background
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := walletstore.New(storage.NewMemory(), nil, crypto.TestKDFParams)
	sessions := session.NewManager(store, storage.NewMemory(), session.Endpoints{})
	_, err := sessions.Install(ctx, "abc123", make(types.Seed, types.SeedLength))
	require.NoError(t, err)

	if opts.UIBaseURL == "" {
		opts.UIBaseURL = "chrome-extension://wallet/index.html"
	}
	tabs := NewMemoryTabs()
	bg := NewBackground(sessions, tabs, opts)
	bg.Start(ctx)

	return &harness{ctx: ctx, sessions: sessions, tabs: tabs, bg: bg}
}

// connectPage wires a page bridge through a content script to the background
func (h *harness) connectPage(t *testing.T, origin string) (*PageBridge, Port) {
	t.Helper()
	pageSide, csPageSide := Pipe()
	csBgSide, bgSide := Pipe()

	go func() { _ = NewContentScript(origin, csPageSide, csBgSide).Run(h.ctx) }()
	go func() { _ = h.bg.Serve(h.ctx, bgSide) }()

	bridge := NewPageBridge(pageSide)
	go func() { _ = bridge.Run(h.ctx) }()
	return bridge, pageSide
}

// connectRaw returns the content-script end of a port served by the background
func (h *harness) connectRaw(t *testing.T) Port {
	t.Helper()
	cs, bgSide := Pipe()
	go func() { _ = h.bg.Serve(h.ctx, bgSide) }()
	return cs
}

func (h *harness) waitPending(t *testing.T) *types.ClientRequest {
	t.Helper()
	var req *types.ClientRequest
	require.Eventually(t, func() bool {
		r, ok, err := h.sessions.Pending(h.ctx)
		if err != nil || !ok {
			return false
		}
		req = r
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return req
}

func (h *harness) waitNoPending(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok, err := h.sessions.Pending(h.ctx)
		return err == nil && !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func envelopeFrame(t *testing.T, corrID, origin, action string, data any) Frame {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	rd, err := json.Marshal(RequestData{Action: action, Data: raw})
	require.NoError(t, err)

	return Frame{
		Kind: FrameEnvelope,
		Envelope: &Envelope{
			BackgroundRequestType: ClientRequest,
			Payload:               Payload{Timestamp: time.Now().UnixMilli(), Origin: origin, Data: rd},
			CorrelationID:         corrID,
		},
	}
}

func recvWithin(t *testing.T, p Port, d time.Duration) (Frame, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.Recv(ctx)
}

type pageResult struct {
	resp *PageResponse
	err  error
}

func requestAsync(ctx context.Context, b *PageBridge, action string, data any) <-chan pageResult {
	out := make(chan pageResult, 1)
	go func() {
		resp, err := b.Request(ctx, action, data)
		out <- pageResult{resp: resp, err: err}
	}()
	return out
}

func awaitResult(t *testing.T, ch <-chan pageResult) pageResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("page call did not settle")
		return pageResult{}
	}
}
