package geocode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/httpx"
)

const (
	fetchMaxAttempts = 2
	fetchBackoff     = 500 * time.Millisecond
	fetchMaxBackoff  = 2 * time.Second
)

// statusError carries the upstream HTTP status so the retry classifier can
// tell a 429 from a 404.
type statusError struct {
	provider string
	code     int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.provider, e.code)
}

func (e *statusError) HTTPStatusCode() int { return e.code }

// doWithRetry issues the request, retrying once on transient failures
// (timeouts, 429s, 5xx). The caller owns the response body on success.
func doWithRetry(client *http.Client, provider string, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < fetchMaxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s request: %w", provider, err)
			if !httpx.IsRetryableError(err) {
				return nil, lastErr
			}
			if werr := waitRetry(req.Context(), httpx.JitterSleep(fetchBackoff)); werr != nil {
				return nil, lastErr
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = &statusError{provider: provider, code: resp.StatusCode}
			if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
				return nil, lastErr
			}
			if werr := waitRetry(req.Context(), httpx.JitterSleep(httpx.RetryAfterDuration(resp, fetchBackoff, fetchMaxBackoff))); werr != nil {
				return nil, lastErr
			}
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// waitRetry parks between attempts without outliving the request context.
func waitRetry(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
