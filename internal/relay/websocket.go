package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 << 10
)

// NewUpgrader upgrades content-script connections. CheckOrigin is left to the
// caller because extension origins differ per browser.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}
}

// WSPort is a Port over a websocket connection. One goroutine reads frames
// into a buffer; writes are serialised.
type WSPort struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	frames  chan Frame
	done    chan struct{}
	once    sync.Once
}

// NewWSPort starts reading from conn
func NewWSPort(conn *websocket.Conn) *WSPort {
	p := &WSPort{
		id:     uuid.NewString(),
		conn:   conn,
		frames: make(chan Frame, pipeBuffer),
		done:   make(chan struct{}),
	}
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go p.readLoop()
	go p.pingLoop()
	return p
}

// DialWS connects to a background websocket endpoint
func DialWS(ctx context.Context, url string, header http.Header) (*WSPort, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return NewWSPort(conn), nil
}

func (p *WSPort) readLoop() {
	defer close(p.frames)
	defer p.Close()

	for {
		var f Frame
		if err := p.conn.ReadJSON(&f); err != nil {
			return
		}
		select {
		case p.frames <- f:
		case <-p.done:
			return
		}
	}
}

func (p *WSPort) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			p.writeMu.Unlock()
			if err != nil {
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *WSPort) ID() string { return p.id }

func (p *WSPort) Done() <-chan struct{} { return p.done }

func (p *WSPort) Send(ctx context.Context, f Frame) error {
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteJSON(f); err != nil {
		p.Close()
		return errors.Join(ErrPortClosed, err)
	}
	return nil
}

func (p *WSPort) Recv(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-p.frames:
		if !ok {
			return Frame{}, ErrPortClosed
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *WSPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}

var (
	_ Port = (*WSPort)(nil)
	_ Port = (*pipePort)(nil)
)
