package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sealcourier/sealcourier/internal/bundleerr"
	"github.com/sealcourier/sealcourier/internal/logging"
)

const (
	maxAttempts    = 3
	initialBackoff = 1 * time.Second
)

// executeWithRetry runs do up to maxAttempts times against the same
// operation, retrying on network failure or a 5xx response with exponential
// backoff (1s before the second attempt, 2s before the third). A 4xx response is terminal: it is returned
// immediately as a *bundleerr.ServerError, without retry. onRetry, if
// non-nil, runs before each backoff sleep — used by part uploads to roll
// back the bytes they had contributed to the shared progress counter.
//
// On success, the returned *http.Response is not yet read or closed; the
// caller owns its body. On failure, any response body has already been
// fully drained and closed here, so the caller never has to guess whether
// it is safe to read.
func executeWithRetry(ctx context.Context, logger logging.Logger, operationName string, onRetry func(), do func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	backoff := retry.NewExponential(initialBackoff)
	backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

	var lastErr error
	var lastResp *http.Response
	attempt := 0

	retryErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		resp, doErr := do(ctx)
		if doErr != nil {
			lastErr = &bundleerr.NetworkError{Cause: doErr}
			if attempt < maxAttempts {
				logger.Warn(ctx, "request failed, retrying", "operation", operationName, "attempt", attempt, "max_attempts", maxAttempts, "cause", doErr)
				if onRetry != nil {
					onRetry()
				}
			}
			return retry.RetryableError(lastErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			lastResp = resp
			lastErr = nil
			return nil
		}

		body := drainAndClose(resp.Body)

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			lastErr = &bundleerr.ServerError{Status: resp.StatusCode, Body: body}
			return lastErr
		}

		lastErr = &bundleerr.ServerError{Status: resp.StatusCode, Body: body}
		if attempt < maxAttempts {
			logger.Warn(ctx, "request failed, retrying", "operation", operationName, "attempt", attempt, "max_attempts", maxAttempts, "status", resp.StatusCode)
			if onRetry != nil {
				onRetry()
			}
		}
		return retry.RetryableError(lastErr)
	})

	if retryErr != nil && (errors.Is(retryErr, context.Canceled) || errors.Is(retryErr, context.DeadlineExceeded)) {
		return nil, bundleerr.ErrCancelled
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}

// drainAndClose fully reads and closes body, discarding a read error since
// the caller only needs whatever partial text is available for the error
// message.
func drainAndClose(body io.ReadCloser) string {
	defer body.Close()
	data, _ := io.ReadAll(body)
	return string(data)
}
