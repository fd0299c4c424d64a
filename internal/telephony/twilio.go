package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioProvider places outbound calls through the Twilio REST API.
//
// It is an adapter only: no dispatch decisions are made here. The
// status callback URL is wired so Twilio reports terminal call states
// back to our outcome webhook with our internal call id attached.
type TwilioProvider struct {
	accountSID string
	authToken  string

	// statusCallbackURL receives Twilio's call status webhooks.
	statusCallbackURL string

	httpClient *http.Client
	baseURL    string
}

type TwilioProviderConfig struct {
	AccountSID        string
	AuthToken         string
	StatusCallbackURL string

	// BaseURL overrides the Twilio API endpoint (tests).
	BaseURL string
}

func NewTwilioProvider(cfg TwilioProviderConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio credentials required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.twilio.com"
	}
	return &TwilioProvider{
		accountSID:        cfg.AccountSID,
		authToken:         cfg.AuthToken,
		statusCallbackURL: cfg.StatusCallbackURL,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		baseURL:           strings.TrimRight(base, "/"),
	}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	// TODO: call a lightweight Twilio account endpoint.
	return nil
}

type twilioCallResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) StartCall(ctx context.Context, req StartCallRequest) (StartCallResult, error) {
	if req.To == "" || req.From == "" {
		return StartCallResult{}, errors.New("telephony: to and from required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	if p.statusCallbackURL != "" {
		cb, err := url.Parse(p.statusCallbackURL)
		if err != nil {
			return StartCallResult{}, fmt.Errorf("telephony: bad status callback url: %w", err)
		}
		q := cb.Query()
		q.Set("call_id", req.CallID)
		cb.RawQuery = q.Encode()
		form.Set("StatusCallback", cb.String())
		form.Set("StatusCallbackEvent", "completed")
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", p.baseURL, p.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return StartCallResult{}, err
	}
	httpReq.SetBasicAuth(p.accountSID, p.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return StartCallResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StartCallResult{}, err
	}

	var tw twilioCallResponse
	if err := json.Unmarshal(body, &tw); err != nil {
		return StartCallResult{}, fmt.Errorf("telephony: bad twilio response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StartCallResult{}, fmt.Errorf("telephony: twilio rejected call (%d): %s", resp.StatusCode, tw.Message)
	}

	return StartCallResult{
		WorkspaceID:    req.WorkspaceID,
		CallID:         req.CallID,
		ProviderCallID: tw.Sid,
	}, nil
}
