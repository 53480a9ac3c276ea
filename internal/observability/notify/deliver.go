package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RetryStep is the linear delay added between delivery attempts.
const RetryStep = 200 * time.Millisecond

// Deliver calls send up to retryLimit+1 times, waiting RetryStep*attempt between tries.
func Deliver(ctx context.Context, retryLimit int, send func(context.Context) error) error {
	attempts := max(retryLimit, 0) + 1
	var lastErr error
	for attempt := range attempts {
		err := send(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * RetryStep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// ReadResponse drains and closes resp. Non-2xx statuses become errors carrying the body.
func ReadResponse(resp *http.Response, service string) error {
	body, readErr := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if readErr != nil {
		return errors.Join(fmt.Errorf("read %s response: %w", service, readErr), closeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s response body: %w", service, closeErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", service, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// FallbackString returns fallback when value is blank.
func FallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
