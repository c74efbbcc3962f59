package repo_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/repo"
	"github.com/3N-VOY/neuropdfv2/test/testutil"
)

func TestApiKeyRepoLifecycle(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	keys := repo.NewApiKeyRepo(db)
	now := time.Now().Unix()
	key := &model.ApiKey{
		Key:         "pdfk_repo_test_1",
		Identity:    "device:repo-test-1",
		WindowStart: now,
		Ctime:       now,
		ExpiresAt:   now + 3600,
	}
	defer func() { _ = keys.Delete(context.Background(), key.Key) }()
	require.NoError(t, keys.Create(context.Background(), key))

	// Identity uniqueness.
	dup := *key
	dup.Key = "pdfk_repo_test_dup"
	require.ErrorIs(t, keys.Create(context.Background(), &dup), appErr.ErrConflict)

	fetched, err := keys.GetByKey(context.Background(), key.Key)
	require.NoError(t, err)
	require.Equal(t, key.Identity, fetched.Identity)

	byIdentity, err := keys.GetByIdentity(context.Background(), key.Identity)
	require.NoError(t, err)
	require.Equal(t, key.Key, byIdentity.Key)

	_, err = keys.GetByKey(context.Background(), "pdfk_missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestApiKeyRepoConsumeAndRelease(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	keys := repo.NewApiKeyRepo(db)
	now := time.Now().Unix()
	key := &model.ApiKey{
		Key:         "pdfk_repo_test_quota",
		Identity:    "device:repo-test-quota",
		WindowStart: now,
		Ctime:       now,
		ExpiresAt:   now + 3600,
	}
	defer func() { _ = keys.Delete(context.Background(), key.Key) }()
	require.NoError(t, keys.Create(context.Background(), key))

	ok, err := keys.Consume(context.Background(), key.Key, model.OpUpload, 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = keys.Consume(context.Background(), key.Key, model.OpUpload, 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = keys.Consume(context.Background(), key.Key, model.OpUpload, 2)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, keys.Release(context.Background(), key.Key, model.OpUpload))
	ok, err = keys.Consume(context.Background(), key.Key, model.OpUpload, 2)
	require.NoError(t, err)
	require.True(t, ok)

	// Stale window resets both counters.
	require.NoError(t, keys.ResetIfStale(context.Background(), key.Key, now+86400))
	fetched, err := keys.GetByKey(context.Background(), key.Key)
	require.NoError(t, err)
	require.Zero(t, fetched.Uploads)
	require.Zero(t, fetched.Questions)
}

func TestApiKeyRepoConsumeConcurrent(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	keys := repo.NewApiKeyRepo(db)
	now := time.Now().Unix()
	key := &model.ApiKey{
		Key:         "pdfk_repo_test_race",
		Identity:    "device:repo-test-race",
		WindowStart: now,
		Ctime:       now,
		ExpiresAt:   now + 3600,
	}
	defer func() { _ = keys.Delete(context.Background(), key.Key) }()
	require.NoError(t, keys.Create(context.Background(), key))

	// Racing consumers must never push the counter past the limit.
	const workers = 10
	const limit = 4
	var wg sync.WaitGroup
	var granted atomic.Int64
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := keys.Consume(context.Background(), key.Key, model.OpQuestion, limit)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, limit, granted.Load())
	fetched, err := keys.GetByKey(context.Background(), key.Key)
	require.NoError(t, err)
	require.EqualValues(t, limit, fetched.Questions)
}
