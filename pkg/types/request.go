package types

import (
	"encoding/json"
	"time"
)

// RequestType selects the approval screen shown for a client request
type RequestType string

const (
	RequestTypeUnknown        RequestType = "unknown"
	RequestTypeAuthentication RequestType = "authentication"
	RequestTypeEventApproval  RequestType = "eventApproval"
)

// Actions a page can ask for through the injected bridge
const (
	ActionSignIn         = "signIn"
	ActionAuthentication = "authentication"
	ActionEventApproval  = "eventApproval"
	ActionApproveEvent   = "approveEvent"
	ActionTokenTransfer  = "tokenTransfer"
)

// RequestTypeFromAction maps a page action onto the approval screen kind
func RequestTypeFromAction(action string) RequestType {
	switch action {
	case ActionSignIn, ActionAuthentication:
		return RequestTypeAuthentication
	case ActionEventApproval, ActionApproveEvent, ActionTokenTransfer:
		return RequestTypeEventApproval
	default:
		return RequestTypeUnknown
	}
}

// ClientRequest is a page request waiting for the user's decision
type ClientRequest struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
	Origin     string          `json:"origin"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Type       RequestType     `json:"type"`
}

// Decision is the user's answer to a client request
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Valid reports whether d is accept or reject
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// AppNotification is an informational entry in an account's notification log
type AppNotification struct {
	NotificationID string    `json:"notificationId"`
	Ts             time.Time `json:"ts"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Seen           bool      `json:"seen"`
	Link           *string   `json:"link,omitempty"`
	ButtonMessage  *string   `json:"buttonMessage,omitempty"`
}
