package telephony

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// TwilioStatusForm captures the subset of status callback fields we care
// about. Twilio sends application/x-www-form-urlencoded by default.
//
// Keep it minimal and provider-adapter-only; outcome handling lives in
// the dispatch pipeline.

type TwilioStatusForm struct {
	CallSid         string
	AccountSid      string
	From            string
	To              string
	CallStatus      string
	CallDuration    string
	SipResponseCode string
	Timestamp       string
}

func ParseTwilioStatus(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	f := TwilioStatusForm{
		CallSid:         r.PostFormValue("CallSid"),
		AccountSid:      r.PostFormValue("AccountSid"),
		From:            strings.TrimSpace(r.PostFormValue("From")),
		To:              strings.TrimSpace(r.PostFormValue("To")),
		CallStatus:      r.PostFormValue("CallStatus"),
		CallDuration:    r.PostFormValue("CallDuration"),
		SipResponseCode: r.PostFormValue("SipResponseCode"),
		Timestamp:       r.PostFormValue("Timestamp"),
	}
	return f, nil
}

// OutcomeFromTwilioStatus maps Twilio call statuses onto our terminal
// outcomes. Non-terminal statuses (queued, ringing, in-progress) return
// ok=false and must be ignored.
func OutcomeFromTwilioStatus(status string) (Outcome, bool) {
	switch status {
	case "completed":
		return OutcomeCompleted, true
	case "busy":
		return OutcomeBusy, true
	case "no-answer":
		return OutcomeNoAnswer, true
	case "failed":
		return OutcomeFailed, true
	case "canceled":
		return OutcomeCancelled, true
	}
	return "", false
}

// ToOutcomeEvent converts a parsed status form into a domain event.
// callID is our internal identifier, recovered from the callback URL.
func (f TwilioStatusForm) ToOutcomeEvent(callID string, occurredAt time.Time) (OutcomeEvent, bool) {
	outcome, ok := OutcomeFromTwilioStatus(f.CallStatus)
	if !ok {
		return OutcomeEvent{}, false
	}
	raw, _ := json.Marshal(f)
	return OutcomeEvent{
		CallID:         callID,
		Outcome:        outcome,
		ProviderCallID: f.CallSid,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}, true
}
