package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/waypoint/internal/helpers"
)

const maxToolResultRunes = 16000

// HTTPTool queries an external API with the user's question as a single
// query parameter and returns the response body as text.
type HTTPTool struct {
	Name       string
	URL        string
	QueryParam string
	Headers    map[string]string
	Client     *http.Client
	Retries    int
	Backoff    time.Duration
}

// NewHTTPTool creates a tool with its own client timeout.
func NewHTTPTool(name, endpoint, queryParam string, headers map[string]string, timeout time.Duration) *HTTPTool {
	if queryParam == "" {
		queryParam = "q"
	}
	return &HTTPTool{
		Name:       name,
		URL:        endpoint,
		QueryParam: queryParam,
		Headers:    headers,
		Client:     &http.Client{Timeout: timeout},
		Backoff:    300 * time.Millisecond,
	}
}

// retryable marks failures worth another attempt.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Call performs the lookup, retrying rate limits and server errors with
// exponential backoff.
func (t *HTTPTool) Call(ctx context.Context, query string) (string, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", fmt.Errorf("%s: parse url: %w", t.Name, err)
	}
	q := u.Query()
	q.Set(t.QueryParam, query)
	u.RawQuery = q.Encode()

	var lastErr error
	tries := t.Retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		out, err := t.do(ctx, u.String())
		if err == nil {
			return out, nil
		}
		lastErr = err
		var r retryable
		if !errors.As(err, &r) {
			break
		}
		if attempt < tries-1 {
			select {
			case <-time.After(t.Backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return "", fmt.Errorf("%s: %w", t.Name, ctx.Err())
			}
		}
	}
	return "", fmt.Errorf("%s: %w", t.Name, lastErr)
}

func (t *HTTPTool) do(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", retryable{err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, helpers.Truncate(string(body), 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", retryable{err}
		}
		return "", err
	}
	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = helpers.StripHTML(text)
	}
	return helpers.Truncate(text, maxToolResultRunes), nil
}
