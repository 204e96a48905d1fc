package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_PreservesOrder(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, a.Send(ctx, Frame{Kind: FrameAck, Ack: &Ack{CorrelationID: id}}))
	}
	for _, want := range []string{"1", "2", "3"} {
		f, err := b.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, f.Ack.CorrelationID)
	}
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestPipe_Close(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, Frame{Kind: FrameAck, Ack: &Ack{CorrelationID: "queued"}}))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	select {
	case <-a.Done():
	default:
		t.Fatal("closing one end closes both")
	}

	err := a.Send(ctx, Frame{Kind: FrameAck})
	assert.ErrorIs(t, err, ErrPortClosed)

	f, err := b.Recv(ctx)
	require.NoError(t, err, "frames sent before close are still delivered")
	assert.Equal(t, "queued", f.Ack.CorrelationID)

	_, err = b.Recv(ctx)
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestPipe_RecvHonoursContext(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOutbox(t *testing.T) {
	o := NewOutbox(2)

	o.Put(DecisionMessage{RequestID: "a", Decision: "accept"})
	o.Put(DecisionMessage{RequestID: "a", Decision: "reject"})
	msg, ok := o.Get("a")
	require.True(t, ok)
	assert.Equal(t, "accept", string(msg.Decision), "first record wins")

	o.Put(DecisionMessage{RequestID: "b"})
	o.Put(DecisionMessage{RequestID: "c"})
	assert.Equal(t, 2, o.Len())

	_, ok = o.Get("a")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = o.Get("c")
	assert.True(t, ok)

	assert.Equal(t, DefaultOutboxSize, NewOutbox(0).size)
}

func TestShowUI(t *testing.T) {
	ctx := context.Background()
	tabs := NewMemoryTabs()

	first, err := showUI(ctx, tabs, "chrome-extension://wallet/index.html#request")
	require.NoError(t, err)
	_, err = tabs.Open(ctx, "https://example.com")
	require.NoError(t, err)

	again, err := showUI(ctx, tabs, "chrome-extension://wallet/index.html#request")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, tabs.Opened())

	for _, tab := range tabs.Tabs() {
		assert.Equal(t, tab.ID == first.ID, tab.Active)
	}

	tabs.Close(first.ID)
	_, err = showUI(ctx, tabs, "chrome-extension://wallet/index.html#request")
	require.NoError(t, err)
	assert.Equal(t, 3, tabs.Opened())
}

func TestBindOrigin(t *testing.T) {
	a, b := Pipe()
	bound := BindOrigin(b, "https://real.example")
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, Frame{Kind: FrameEnvelope, Envelope: &Envelope{
		BackgroundRequestType: ClientRequest,
		Payload:               Payload{Origin: "https://claimed.example"},
	}}))
	require.NoError(t, a.Send(ctx, Frame{Kind: FrameAck, Ack: &Ack{CorrelationID: "x"}}))

	f, err := bound.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://real.example", f.Envelope.Payload.Origin)

	f, err = bound.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", f.Ack.CorrelationID)
	assert.Equal(t, b.ID(), bound.ID())
}
