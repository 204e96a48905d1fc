package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/better-wallet/extension-wallet/internal/crypto"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// BackgroundRequestType tags messages sent from a content script to the background
type BackgroundRequestType string

const (
	BrowserOpenAction BackgroundRequestType = "BROWSER_OPEN_ACTION"
	ClientRequest     BackgroundRequestType = "CLIENT_REQUEST"
)

// FrameKind identifies what a Frame carries
type FrameKind string

const (
	// page <-> content script
	FramePageRequest  FrameKind = "pageRequest"
	FramePageResponse FrameKind = "pageResponse"

	// content script <-> background
	FrameEnvelope FrameKind = "envelope"
	FrameAck      FrameKind = "ack"
	FrameDecision FrameKind = "decision"
)

// Frame is the unit carried by a Port. Exactly one body field is set.
type Frame struct {
	Kind         FrameKind        `json:"kind"`
	PageRequest  *PageRequest     `json:"pageRequest,omitempty"`
	PageResponse *PageResponse    `json:"pageResponse,omitempty"`
	Envelope     *Envelope        `json:"envelope,omitempty"`
	Ack          *Ack             `json:"ack,omitempty"`
	Decision     *DecisionMessage `json:"decision,omitempty"`
}

// PageRequest is what the injected bridge posts on the page message channel
type PageRequest struct {
	CorrelationID string          `json:"correlationId"`
	Action        string          `json:"action"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// PageResponse settles the page's outstanding call
type PageResponse struct {
	CorrelationID string          `json:"correlationId"`
	RequestID     string          `json:"requestId,omitempty"`
	Decision      types.Decision  `json:"decision,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *ErrorBody      `json:"error,omitempty"`
}

// Envelope is the inbound message a content script sends to the background
type Envelope struct {
	BackgroundRequestType BackgroundRequestType `json:"backgroundRequestType"`
	Payload               Payload               `json:"payload"`
	CorrelationID         string                `json:"correlationId,omitempty"`
}

// Payload carries the page request tagged by the content script
type Payload struct {
	Timestamp int64           `json:"timestamp"`
	Origin    string          `json:"origin"`
	Data      json.RawMessage `json:"data"`
}

// RequestData is the page's self-describing request inside Payload.Data
type RequestData struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Ack is the synchronous receipt for an Envelope
type Ack struct {
	CorrelationID string     `json:"correlationId,omitempty"`
	Success       bool       `json:"success"`
	Data          *AckData   `json:"data,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
}

// AckData identifies the stored request
type AckData struct {
	RequestID string `json:"requestId"`
}

// ErrorBody is the wire form of a relay error
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecisionMessage is the out-of-band message carrying the user's decision
// back to the originating page
type DecisionMessage struct {
	RequestID     string          `json:"requestId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Origin        string          `json:"origin"`
	Decision      types.Decision  `json:"decision"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *ErrorBody      `json:"error,omitempty"`
	ResolvedAt    int64           `json:"resolvedAt"`
}

// AuthenticationProof is attached to an accepted authentication request
type AuthenticationProof struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// ErrInvalidProof is returned when a proof does not sign the challenge
var ErrInvalidProof = errors.New("authentication proof does not match challenge")

// Verify checks that the proof is a signature of data by Address
func (p *AuthenticationProof) Verify(data []byte) error {
	if !common.IsHexAddress(p.Address) {
		return fmt.Errorf("%w: bad address %q", ErrInvalidProof, p.Address)
	}
	sig, err := hexutil.Decode(p.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !crypto.VerifyChallenge(common.HexToAddress(p.Address), data, sig) {
		return ErrInvalidProof
	}
	return nil
}
