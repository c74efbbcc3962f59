package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/3N-VOY/neuropdfv2/internal/repo"
)

// QuotaResetJob zeroes stale quota windows in bulk. Requests reset lazily
// on their own, so this only keeps the table tidy for introspection.
type QuotaResetJob struct {
	repo *repo.ApiKeyRepo
}

func NewQuotaResetJob(repo *repo.ApiKeyRepo) *QuotaResetJob {
	return &QuotaResetJob{repo: repo}
}

func (j *QuotaResetJob) Name() string {
	return "quota_reset"
}

func (j *QuotaResetJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	windowStart := time.Now().UTC().Truncate(24 * time.Hour).Unix()
	affected, err := j.repo.ResetAllWindows(ctx, windowStart)
	if err != nil {
		return err
	}
	if affected > 0 {
		logutil.GetLogger(ctx).Info("quota windows reset", zap.Int64("keys", affected))
	}
	return nil
}
