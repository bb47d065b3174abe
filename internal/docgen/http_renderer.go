package docgen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPRenderer is the concrete Renderer adapter wired at the composition
// root: it posts HTML to an external rendering service and returns the PDF
// bytes it streams back. docgen.Service never imports this file; it depends only on
// the Renderer interface.
type HTTPRenderer struct {
	Endpoint   string
	HTTPClient *http.Client
}

func NewHTTPRenderer(endpoint string) *HTTPRenderer {
	return &HTTPRenderer{Endpoint: endpoint, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (r *HTTPRenderer) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("renderer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("renderer: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer: returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("renderer: read response: %w", err)
	}
	return body, nil
}
