package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSender is the concrete Sender adapter wired at the composition root:
// a provider-agnostic POST against whatever transactional-email API
// endpoint the deployment configures. notify.Service never imports this
// file; it depends only on the Sender interface.
type HTTPSender struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPSender(endpoint, apiKey string) *HTTPSender {
	return &HTTPSender{Endpoint: endpoint, APIKey: apiKey, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

type sendPayload struct {
	Provider  string         `json:"provider"`
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Subject   string         `json:"subject"`
	Data      map[string]any `json:"data,omitempty"`
}

func (s *HTTPSender) Send(ctx context.Context, provider string, msg Message) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(sendPayload{
		Provider:  provider,
		Recipient: msg.Recipient,
		Template:  msg.Template,
		Subject:   msg.Subject,
		Data:      msg.Data,
	}); err != nil {
		return fmt.Errorf("notify: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, &buf)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: provider returned status %d", resp.StatusCode)
	}
	return nil
}
