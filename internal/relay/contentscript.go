package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/better-wallet/extension-wallet/internal/logger"
)

// ActionOpenWallet asks the background to show the wallet UI
const ActionOpenWallet = "openWallet"

// ContentScript relays between one page and the background. It lives as
// long as the page: when either port closes, Run closes the other.
type ContentScript struct {
	origin     string
	page       Port
	background Port
	now        func() time.Time
}

// NewContentScript creates the relay for a page at origin
func NewContentScript(origin string, page, background Port) *ContentScript {
	return &ContentScript{origin: origin, page: page, background: background, now: time.Now}
}

// Run relays until either side goes away
func (c *ContentScript) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.background.Close()
		return c.fromPage(ctx)
	})
	g.Go(func() error {
		defer c.page.Close()
		return c.fromBackground(ctx)
	})

	err := g.Wait()
	if errors.Is(err, ErrPortClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *ContentScript) fromPage(ctx context.Context) error {
	for {
		f, err := c.page.Recv(ctx)
		if err != nil {
			return err
		}
		if f.Kind != FramePageRequest || f.PageRequest == nil {
			continue
		}

		env, err := c.envelope(f.PageRequest)
		if err != nil {
			logger.Warn(ctx, "dropping malformed page request", "origin", c.origin, "error", err)
			continue
		}
		if err := c.background.Send(ctx, Frame{Kind: FrameEnvelope, Envelope: env}); err != nil {
			return err
		}
	}
}

func (c *ContentScript) envelope(req *PageRequest) (*Envelope, error) {
	data, err := json.Marshal(RequestData{Action: req.Action, Data: req.Data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request data: %w", err)
	}

	kind := ClientRequest
	if req.Action == ActionOpenWallet {
		kind = BrowserOpenAction
	}
	return &Envelope{
		BackgroundRequestType: kind,
		Payload: Payload{
			Timestamp: c.now().UnixMilli(),
			Origin:    c.origin,
			Data:      data,
		},
		CorrelationID: req.CorrelationID,
	}, nil
}

func (c *ContentScript) fromBackground(ctx context.Context) error {
	for {
		f, err := c.background.Recv(ctx)
		if err != nil {
			return err
		}

		var resp *PageResponse
		switch {
		case f.Kind == FrameAck && f.Ack != nil:
			resp = ackResponse(f.Ack)
		case f.Kind == FrameDecision && f.Decision != nil:
			d := f.Decision
			resp = &PageResponse{
				CorrelationID: d.CorrelationID,
				RequestID:     d.RequestID,
				Decision:      d.Decision,
				Data:          d.Data,
				Error:         d.Error,
			}
		}
		if resp == nil {
			continue
		}
		if err := c.page.Send(ctx, Frame{Kind: FramePageResponse, PageResponse: resp}); err != nil {
			return err
		}
	}
}

// ackResponse turns an ack into a page response when it settles the call:
// a failure, or an open action which has no decision to wait for
func ackResponse(ack *Ack) *PageResponse {
	if !ack.Success {
		return &PageResponse{CorrelationID: ack.CorrelationID, Error: ack.Error}
	}
	if ack.Data == nil {
		return &PageResponse{CorrelationID: ack.CorrelationID}
	}
	return nil
}
