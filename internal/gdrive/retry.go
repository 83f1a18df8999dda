package gdrive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Backoff constants.
const (
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// retryTransport retries transient failures below the Drive library:
// network errors and 408/429/5xx/509 responses. Anything else, including
// the final retryable response once attempts are exhausted, is handed back
// untouched so the library's error decoding sees the real status.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

func newRetryTransport(base http.RoundTripper, maxRetries int, logger *slog.Logger) *retryTransport {
	return &retryTransport{
		base:       base,
		maxRetries: maxRetries,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var attempt int
	for {
		try, err := t.attemptRequest(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := t.base.RoundTrip(try)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("gdrive: request canceled: %w", ctx.Err())
			}

			if attempt >= t.maxRetries || !canReplay(req) {
				return nil, err
			}

			backoff := calcBackoff(attempt)
			t.logger.Warn("retrying after network error",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := t.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("gdrive: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		if !isRetryable(resp.StatusCode) || attempt >= t.maxRetries || !canReplay(req) {
			if attempt > 0 && resp.StatusCode >= http.StatusBadRequest {
				t.logger.Error("request failed after retries",
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
					slog.Int("status", resp.StatusCode),
					slog.Int("attempts", attempt+1),
				)
			}

			return resp, nil
		}

		backoff := retryBackoff(resp, attempt)
		t.logger.Warn("retrying after HTTP error",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)

		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if err := t.sleepFunc(ctx, backoff); err != nil {
			return nil, fmt.Errorf("gdrive: request canceled: %w", err)
		}

		attempt++
	}
}

// attemptRequest returns the request to send for the given attempt. The
// first attempt sends req itself; later ones send a clone with a fresh body.
func (t *retryTransport) attemptRequest(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 {
		return req, nil
	}

	try := req.Clone(req.Context())

	if req.Body != nil && req.Body != http.NoBody {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("gdrive: rewinding request body: %w", err)
		}

		try.Body = body
	}

	return try, nil
}

// canReplay reports whether req can be sent again: it has no body, or the
// body can be recreated.
func canReplay(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
