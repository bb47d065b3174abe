package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPSource is the concrete Source adapter wired at the composition root:
// a GET against an external exchange-rate provider. Service never imports
// this file; it depends only on the Source interface, and Sync already
// degrades to a no-op on any error this type returns.
type HTTPSource struct {
	Endpoint   string
	HTTPClient *http.Client
}

func NewHTTPSource(endpoint string) *HTTPSource {
	return &HTTPSource{Endpoint: endpoint, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

type ratesReply struct {
	Rates map[string]string `json:"rates"`
}

func (s *HTTPSource) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Endpoint+"?base="+base, nil)
	if err != nil {
		return nil, fmt.Errorf("currency source: build request: %w", err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("currency source: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("currency source: returned status %d", resp.StatusCode)
	}

	var reply ratesReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("currency source: decode response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(reply.Rates))
	for target, raw := range reply.Rates {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("currency source: rate for %s: %w", target, err)
		}
		out[target] = v
	}
	return out, nil
}
