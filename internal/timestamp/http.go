package timestamp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider requests tokens from a timestamp authority over HTTP. The
// authority receives the base64 digest and answers with an opaque token; the
// wire format of the token itself is the authority's business.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider creates a provider for the authority at url.
func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type timestampRequest struct {
	Digest string `json:"digest"`
}

type timestampResponse struct {
	Token []byte `json:"token"`
}

// Timestamp submits the digest and returns the authority's token.
func (p *HTTPProvider) Timestamp(ctx context.Context, digest []byte) ([]byte, error) {
	body, err := json.Marshal(timestampRequest{
		Digest: base64.StdEncoding.EncodeToString(digest),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode timestamp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build timestamp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timestamp authority unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("timestamp authority returned %d: %s", resp.StatusCode, msg)
	}

	var out timestampResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode timestamp response: %w", err)
	}
	if len(out.Token) == 0 {
		return nil, fmt.Errorf("timestamp authority returned an empty token")
	}
	return out.Token, nil
}
