package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const maxResponseBytes = 4 << 20

// StatusError is returned when the remote answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, body)
}

// RetryPolicy decides how often and how long to wait between attempts.
// Rate-limited responses use Backoff; network errors and 5xx responses are
// transient and get at most MaxNetworkRetries extra attempts.
type RetryPolicy struct {
	MaxAttempts       int
	MaxNetworkRetries int
	Backoff           func(attempt int, status int) time.Duration
	Sleep             func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		MaxNetworkRetries: 1,
		Backoff:           DefaultBackoff,
		Sleep:             SleepContext,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Sleep: SleepContext}
}

// DefaultBackoff waits 2^attempt seconds after a 429 and one second otherwise.
func DefaultBackoff(attempt int, status int) time.Duration {
	if status == http.StatusTooManyRequests {
		return time.Duration(1<<uint(attempt)) * time.Second
	}
	return time.Second
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryable(status int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return status == http.StatusTooManyRequests || status >= 500
}

// Do sends the request produced by build until it gets a 200 or the policy
// gives up, and returns the response body. build is called once per attempt
// so request bodies are always fresh.
func Do(ctx context.Context, client *http.Client, policy RetryPolicy, limiter *Limiter, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	if client == nil {
		client = externalHTTPClient
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	networkRetries := 0
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		body, err := send(client, req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		status := 0
		var se *StatusError
		if errors.As(err, &se) {
			status = se.StatusCode
		}

		if !retryable(status, statusOnlyErr(err)) {
			return nil, lastErr
		}
		if status != http.StatusTooManyRequests {
			if networkRetries >= policy.MaxNetworkRetries {
				return nil, lastErr
			}
			networkRetries++
		}
		if attempt == attempts-1 {
			break
		}
		wait := backoff(attempt, status)
		log.Printf("httpx retry host=%s attempt=%d status=%d wait=%s err=%v", req.URL.Host, attempt+1, status, wait, lastErr)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// statusOnlyErr hides StatusError so retryable judges it by status code.
func statusOnlyErr(err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		return nil
	}
	return err
}

func send(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
