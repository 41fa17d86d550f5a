package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxSelectorResponse = 1 << 20

// HTTPSelector delegates selection to an external decision service. It
// POSTs the SelectionRequest as JSON and expects
// {"selections":[{"name":..., "arguments":{...}}]}.
type HTTPSelector struct {
	url    string
	client *http.Client
}

// NewHTTPSelector creates an HTTPSelector. A nil client uses one with the
// given timeout.
func NewHTTPSelector(url string, timeout time.Duration, client *http.Client) *HTTPSelector {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSelector{url: url, client: client}
}

func (s *HTTPSelector) Select(ctx context.Context, req SelectionRequest) ([]Selection, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal selection request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("selector request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSelectorResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read selector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("selector returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var decoded struct {
		Selections []Selection `json:"selections"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode selector response: %w", err)
	}
	return decoded.Selections, nil
}
