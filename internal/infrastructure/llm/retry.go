package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// BackendUnavailableError is returned once a provider call has failed for good
type BackendUnavailableError struct {
	Provider Provider
	Attempts uint
	Err      error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// RetryConfig bounds the exponential backoff applied to provider calls
type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

var DefaultRetry = RetryConfig{
	Attempts: 3,
	Delay:    500 * time.Millisecond,
	MaxDelay: 4 * time.Second,
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts == 0 {
		c.Attempts = DefaultRetry.Attempts
	}
	if c.Delay == 0 {
		c.Delay = DefaultRetry.Delay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultRetry.MaxDelay
	}
	return c
}

func (c RetryConfig) toRetryOptions(ctx context.Context, provider Provider) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(c.Attempts),
		retry.Delay(c.Delay),
		retry.MaxDelay(c.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Str("provider", provider.String()).
				Uint("attempt", n+1).
				Msg("Transient backend failure, retrying")
		}),
	}
}

// do runs fn with retries. Context cancellation is returned as is, every
// other terminal failure becomes a BackendUnavailableError.
func (c RetryConfig) do(ctx context.Context, provider Provider, fn func() error) error {
	var attempts uint
	err := retry.Do(func() error {
		attempts++
		return fn()
	}, c.toRetryOptions(ctx, provider)...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &BackendUnavailableError{Provider: provider, Attempts: attempts, Err: err}
}

// IsTransient reports whether a provider error is worth retrying: rate
// limits, server errors and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
