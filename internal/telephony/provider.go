package telephony

import (
	"context"
	"time"
)

// Provider defines the provider-agnostic outbound-calling interface used
// by the dispatcher.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - StartCall is fire-and-forget: it returns once the provider accepts
//   the request; the call's outcome arrives later through the status
//   webhook.
// - Keep request/response types provider-agnostic; store provider raw
//   payloads in metadata if needed.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	StartCall(ctx context.Context, req StartCallRequest) (StartCallResult, error)
}

// StartCallRequest asks the provider to place one outbound call.
type StartCallRequest struct {
	WorkspaceID string `json:"workspace_id"`

	// CallID is our internal call identifier; providers echo it back in
	// status callbacks via the callback URL.
	CallID string `json:"call_id"`

	// To and From are E.164 where possible.
	To   string `json:"to"`
	From string `json:"from"`

	AgentID     string `json:"agent_id,omitempty"`
	ContactName string `json:"contact_name,omitempty"`

	// Metadata is optional JSON passed through to the provider payload.
	Metadata string `json:"metadata,omitempty"`
}

// StartCallResult is the provider's synchronous acceptance of the
// request. The call itself resolves later.
type StartCallResult struct {
	WorkspaceID string `json:"workspace_id"`
	CallID      string `json:"call_id"`

	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`
}

// Outcome is the terminal result of a dispatched call.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeBusy      Outcome = "busy"
	OutcomeNoAnswer  Outcome = "no-answer"
	OutcomeCancelled Outcome = "cancelled"
)

// Retryable reports whether the outcome qualifies for retry
// scheduling. Failed is terminal without retry; only busy and no-answer
// re-enter the queue.
func (o Outcome) Retryable() bool {
	return o == OutcomeBusy || o == OutcomeNoAnswer
}

// Valid reports whether o is a known terminal outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeBusy, OutcomeNoAnswer, OutcomeCancelled:
		return true
	}
	return false
}

// OutcomeEvent is a provider status callback translated to our domain.
type OutcomeEvent struct {
	// CallID is our internal call identifier.
	CallID string `json:"call_id"`

	Outcome Outcome `json:"outcome"`

	// ProviderCallID and RawPayload are kept for debugging/audit.
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	RawPayload     string    `json:"raw_payload,omitempty"`
}
