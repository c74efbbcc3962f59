package ai

import (
	"context"
	"errors"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// RetryPolicy is the pipeline-owned retry configuration for external AI
// calls. Backoff doubles per attempt up to MaxBackoff.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	return p
}

func retriable(err error) bool {
	if err == nil {
		return false
	}
	// A missing key never heals by retrying, and a canceled caller is gone.
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type retryEmbedder struct {
	next   IEmbedder
	policy RetryPolicy
}

func WrapRetryEmbedder(e IEmbedder, policy RetryPolicy) IEmbedder {
	if e == nil {
		return nil
	}
	return &retryEmbedder{next: e, policy: policy.normalized()}
}

func (r *retryEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var lastErr error
	backoff := r.policy.Backoff
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		res, err := r.next.Embed(ctx, text, taskType)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retriable(err) || attempt == r.policy.MaxAttempts {
			break
		}
		logutil.GetLogger(ctx).Warn("embed attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleepBackoff(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}
	return nil, lastErr
}

func (r *retryEmbedder) ModelName() string {
	return r.next.ModelName()
}

type retryGenerator struct {
	next   IGenerator
	policy RetryPolicy
}

func WrapRetryGenerator(g IGenerator, policy RetryPolicy) IGenerator {
	if g == nil {
		return nil
	}
	return &retryGenerator{next: g, policy: policy.normalized()}
}

func (r *retryGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	backoff := r.policy.Backoff
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		res, err := r.next.Generate(ctx, prompt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retriable(err) || attempt == r.policy.MaxAttempts {
			break
		}
		logutil.GetLogger(ctx).Warn("generate attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleepBackoff(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}
	return "", lastErr
}
