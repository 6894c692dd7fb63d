package websocket

import (
	"github.com/filipexyz/authpolicy/internal/domain"
)

// Client to Server messages

type ClientMessage struct {
	Action string `json:"action"`
}

// SubscribeMessage narrows the feed. Empty lists mean everything.
type SubscribeMessage struct {
	Action    string   `json:"action"`
	PolicyIDs []string `json:"policy_ids,omitempty"`
	Actions   []string `json:"actions,omitempty"`
}

// Server to Client messages

type AuditMessage struct {
	Type  string            `json:"type"`
	Entry domain.AuditEntry `json:"entry"`
}

type SubscribedMessage struct {
	Type      string   `json:"type"`
	PolicyIDs []string `json:"policy_ids,omitempty"`
	Actions   []string `json:"actions,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// NewAuditMessage wraps an audit entry for delivery.
func NewAuditMessage(e domain.AuditEntry) *AuditMessage {
	return &AuditMessage{Type: "audit", Entry: e}
}

// NewSubscribedMessage creates a subscribed confirmation.
func NewSubscribedMessage(policyIDs, actions []string) *SubscribedMessage {
	return &SubscribedMessage{
		Type:      "subscribed",
		PolicyIDs: policyIDs,
		Actions:   actions,
	}
}

// NewErrorMessage creates an error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    "error",
		Code:    code,
		Message: message,
	}
}

// NewPongMessage creates a pong response.
func NewPongMessage() *PongMessage {
	return &PongMessage{Type: "pong"}
}
