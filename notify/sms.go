package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSConfig points at an HTTP SMS gateway that accepts
// {"to","from","body"} JSON with a bearer API key.
type SMSConfig struct {
	Endpoint string
	APIKey   string
	From     string
}

// SMS delivers codes through an HTTP gateway.
type SMS struct {
	cfg    SMSConfig
	client *http.Client
}

// NewSMS uses client, or a client with a 10s timeout when nil.
func NewSMS(cfg SMSConfig, client *http.Client) *SMS {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMS{cfg: cfg, client: client}
}

func (s *SMS) Name() string { return "sms" }

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

func (s *SMS) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.Phone == "" {
		return ErrNoDestination
	}

	payload, err := json.Marshal(smsRequest{To: to.Phone, From: s.cfg.From, Body: msg.Text()})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms gateway: unexpected status %d", resp.StatusCode)
	}
	return nil
}
