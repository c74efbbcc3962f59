package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/3N-VOY/neuropdfv2/internal/repo"
	"github.com/3N-VOY/neuropdfv2/internal/vectorstore"
)

const keyCleanupBatch = 500

// KeyCleanupJob removes expired API keys together with their documents and
// vector namespaces, so an abandoned identity leaves nothing behind.
type KeyCleanupJob struct {
	keys  *repo.ApiKeyRepo
	docs  *repo.DocumentRepo
	store vectorstore.Store
}

func NewKeyCleanupJob(keys *repo.ApiKeyRepo, docs *repo.DocumentRepo, store vectorstore.Store) *KeyCleanupJob {
	return &KeyCleanupJob{keys: keys, docs: docs, store: store}
}

func (j *KeyCleanupJob) Name() string {
	return "key_cleanup"
}

func (j *KeyCleanupJob) Run(ctx context.Context) error {
	if j.keys == nil {
		return nil
	}
	expired, err := j.keys.ListExpired(ctx, time.Now().Unix(), keyCleanupBatch)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx)
	removed := 0
	for _, key := range expired {
		if err := j.cleanupDocuments(ctx, key.Key); err != nil {
			logger.Warn("failed to clean up documents of expired key",
				zap.String("identity", key.Identity), zap.Error(err))
			continue
		}
		if err := j.keys.Delete(ctx, key.Key); err != nil {
			logger.Warn("failed to delete expired key",
				zap.String("identity", key.Identity), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("expired api keys removed", zap.Int("keys", removed))
	}
	return nil
}

func (j *KeyCleanupJob) cleanupDocuments(ctx context.Context, apiKey string) error {
	if j.docs == nil {
		return nil
	}
	docs, err := j.docs.ListByKey(ctx, apiKey)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if j.store != nil {
			if err := j.store.DeleteNamespace(ctx, doc.Namespace); err != nil {
				return err
			}
		}
		if err := j.docs.Delete(ctx, apiKey, doc.ID); err != nil {
			return err
		}
	}
	return nil
}
