package nodes

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	logx "github.com/cinephile-gpt/server/pkg/logger"
)

const DefaultRateLimitDelay = 20 * time.Second

var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
}

// quotaMarkers mark an exhausted billing quota, which retrying cannot fix.
var quotaMarkers = []string{
	"insufficient_quota",
}

var statusTooManyRe = regexp.MustCompile(`\b429\b`)

// IsRateLimit reports whether err signals provider throttling.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == http.StatusTooManyRequests
	}

	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return false
		}
	}
	if statusTooManyRe.MatchString(msg) {
		return true
	}
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RetryingChatModel retries rate-limited calls after a fixed delay, without
// an attempt cap. Any other error is returned as is.
type RetryingChatModel struct {
	inner einomodel.ToolCallingChatModel
	delay time.Duration
	name  string
	wait  func(ctx context.Context, d time.Duration) error
}

var _ einomodel.ToolCallingChatModel = (*RetryingChatModel)(nil)

func NewRetryingChatModel(inner einomodel.ToolCallingChatModel, name string, delay time.Duration) *RetryingChatModel {
	if delay <= 0 {
		delay = DefaultRateLimitDelay
	}
	return &RetryingChatModel{inner: inner, delay: delay, name: name, wait: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *RetryingChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	for attempt := 1; ; attempt++ {
		out, err := r.inner.Generate(ctx, input, opts...)
		if err == nil || !IsRateLimit(err) {
			return out, err
		}
		if werr := r.backoff(ctx, attempt, err); werr != nil {
			return nil, werr
		}
	}
}

func (r *RetryingChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	for attempt := 1; ; attempt++ {
		out, err := r.inner.Stream(ctx, input, opts...)
		if err == nil || !IsRateLimit(err) {
			return out, err
		}
		if werr := r.backoff(ctx, attempt, err); werr != nil {
			return nil, werr
		}
	}
}

// WithTools binds tools on the wrapped model and keeps the retry policy.
func (r *RetryingChatModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	bound, err := r.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RetryingChatModel{inner: bound, delay: r.delay, name: r.name, wait: r.wait}, nil
}

func (r *RetryingChatModel) backoff(ctx context.Context, attempt int, cause error) error {
	logx.Warn().
		Err(cause).
		Str("model", r.name).
		Int("attempt", attempt).
		Dur("delay", r.delay).
		Msg("Rate limit hit, waiting before retry")
	return r.wait(ctx, r.delay)
}
