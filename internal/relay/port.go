package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrPortClosed is returned by Send and Recv once either end has closed
var ErrPortClosed = errors.New("relay: port closed")

// Port is one end of an ordered, bidirectional message channel between two
// execution contexts. Frames arrive in the order they were sent.
type Port interface {
	ID() string
	Send(ctx context.Context, f Frame) error
	Recv(ctx context.Context) (Frame, error)
	Close() error
	// Done is closed once the port is closed from either end
	Done() <-chan struct{}
}

// pipeBuffer bounds frames in flight per direction
const pipeBuffer = 64

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

type pipePort struct {
	id     string
	in     <-chan Frame
	out    chan<- Frame
	shared *pipeShared
}

// Pipe returns two connected in-memory ports
func Pipe() (Port, Port) {
	ab := make(chan Frame, pipeBuffer)
	ba := make(chan Frame, pipeBuffer)
	shared := &pipeShared{done: make(chan struct{})}

	a := &pipePort{id: uuid.NewString(), in: ba, out: ab, shared: shared}
	b := &pipePort{id: uuid.NewString(), in: ab, out: ba, shared: shared}
	return a, b
}

func (p *pipePort) ID() string { return p.id }

func (p *pipePort) Done() <-chan struct{} { return p.shared.done }

func (p *pipePort) Send(ctx context.Context, f Frame) error {
	select {
	case <-p.shared.done:
		return ErrPortClosed
	default:
	}

	select {
	case p.out <- f:
		return nil
	case <-p.shared.done:
		return ErrPortClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipePort) Recv(ctx context.Context) (Frame, error) {
	// Drain frames sent before close so nothing queued is lost
	select {
	case f := <-p.in:
		return f, nil
	default:
	}

	select {
	case f := <-p.in:
		return f, nil
	case <-p.shared.done:
		select {
		case f := <-p.in:
			return f, nil
		default:
			return Frame{}, ErrPortClosed
		}
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *pipePort) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}

// BindOrigin returns a port whose inbound envelopes carry origin, replacing
// whatever origin the sender claimed. Used when the transport itself
// authenticates the page origin.
func BindOrigin(p Port, origin string) Port {
	return &boundPort{Port: p, origin: origin}
}

type boundPort struct {
	Port
	origin string
}

func (b *boundPort) Recv(ctx context.Context) (Frame, error) {
	f, err := b.Port.Recv(ctx)
	if err != nil || f.Envelope == nil {
		return f, err
	}
	env := *f.Envelope
	env.Payload.Origin = b.origin
	f.Envelope = &env
	return f, nil
}
