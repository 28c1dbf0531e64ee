package llm

import (
	"context"
	"errors"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

// RetryPolicy retries completion calls that were rate limited or hit an
// overloaded backend. Other failures are returned on the first attempt.
type RetryPolicy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func NewDefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        3,
		InitialBackoff:    5 * time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2,
	}
}

// retryableStatus lists HTTP statuses worth another attempt. 529 is
// Anthropic's overloaded status.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
	529:                           true,
}

// Substrings of rate limit errors whose status the SDK does not expose.
var retryableMarkers = []string{"429", "RESOURCE_EXHAUSTED", "quota", "529", "overloaded", "503"}

// IsRetryable reports whether err is a rate limit or overload error from
// either provider.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) {
		return retryableStatus[claudeErr.StatusCode]
	}
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return retryableStatus[geminiErr.Code]
	}

	text := err.Error()
	for _, marker := range retryableMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Matches "Please retry in 12.5s", "retryDelay: 30s" and "retry-after: 7".
var retryDelayPattern = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+|retry-after[:\s]+)(\d+(?:\.\d+)?)\s*s?`)

// ExtractRetryDelay returns the wait the provider asked for in the error
// text, or 0.
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	m := retryDelayPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	seconds, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// CalculateBackoff returns the wait before 0-based retry attempt. A
// provider-suggested delay plus one second replaces InitialBackoff as the base.
func (p *RetryPolicy) CalculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	base := p.InitialBackoff
	if apiDelay > 0 {
		base = apiDelay + time.Second
	}
	wait := time.Duration(float64(base) * math.Pow(p.BackoffMultiplier, float64(attempt)))
	return min(wait, p.MaxBackoff)
}

// Do calls fn up to MaxRetries+1 times, sleeping between retryable failures.
// Cancelling ctx during a backoff returns ctx.Err().
func (p *RetryPolicy) Do(ctx context.Context, logger arbor.ILogger, provider string, fn func(ctx context.Context) (string, error)) (string, error) {
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= p.MaxRetries || !IsRetryable(err) {
			return "", err
		}

		wait := p.CalculateBackoff(attempt, ExtractRetryDelay(err))
		logger.Warn().
			Err(err).
			Str("provider", provider).
			Int("attempt", attempt+1).
			Int("max_retries", p.MaxRetries).
			Dur("backoff", wait).
			Msg("Completion throttled, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}
