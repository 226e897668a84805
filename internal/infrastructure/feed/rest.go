package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitos/funding_board/internal/domain"
	"golang.org/x/time/rate"
)

const fundingRatesPath = "/funding-rates"

// RESTClient fetches the bulk snapshot over HTTP. Calls are spaced by at
// least minInterval; a caller waits for its turn or gives up with ctx.
type RESTClient struct {
	baseURL    string
	credential string
	client     *http.Client
	limiter    *rate.Limiter
}

func NewRESTClient(baseURL, credential string, minInterval time.Duration) *RESTClient {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

type fundingRatesResponse struct {
	Code json.RawMessage   `json:"code"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

// FetchFundingRates returns the raw token records. A non-"0" code or a
// missing data array is an ErrUpstreamFormat.
func (c *RESTClient) FetchFundingRates(ctx context.Context) ([]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+fundingRatesPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.credential != "" {
		req.Header.Set(APIKeyHeader, c.credential)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrTransientConnection, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthFailure, resp.Status)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransientConnection, resp.StatusCode, truncate(body, 256))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstreamFormat, resp.StatusCode, truncate(body, 256))
	}

	return decodeFundingRates(body)
}

func decodeFundingRates(body []byte) ([]json.RawMessage, error) {
	var result fundingRatesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFormat, err)
	}
	code := strings.Trim(string(bytes.TrimSpace(result.Code)), `"`)
	if code != "0" {
		return nil, fmt.Errorf("%w: code %q: %s", domain.ErrUpstreamFormat, code, result.Msg)
	}
	if result.Data == nil {
		return nil, fmt.Errorf("%w: response has no data", domain.ErrUpstreamFormat)
	}
	return result.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
