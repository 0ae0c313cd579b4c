// Package signal carries the single offer/answer exchange of a negotiation
// to the remote signaling endpoint.
package signal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxAnswerSize bounds the answer body; an SDP answer is a few kilobytes.
const maxAnswerSize = 1 << 20

// HTTPExchanger POSTs the JSON offer to baseURL+path and returns the JSON
// answer body.
type HTTPExchanger struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExchanger(baseURL string, timeout time.Duration) *HTTPExchanger {
	return &HTTPExchanger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExchanger) Exchange(ctx context.Context, path string, offer []byte) ([]byte, error) {
	url := e.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(offer))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerSize))
	if err != nil {
		return nil, fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	log.Debug().Str("module", "adapters.signal").Str("url", url).Int("bytes", len(body)).Msg("answer received")
	return body, nil
}
