package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/3N-VOY/neuropdfv2/internal/model"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/dbutil"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
)

type ApiKeyRepo struct {
	db *sql.DB
}

func NewApiKeyRepo(db *sql.DB) *ApiKeyRepo {
	return &ApiKeyRepo{db: db}
}

var apiKeyFields = []string{"key", "identity", "uploads", "questions", "window_start", "ctime", "expires_at"}

func (r *ApiKeyRepo) Create(ctx context.Context, key *model.ApiKey) error {
	data := map[string]interface{}{
		"key":          key.Key,
		"identity":     key.Identity,
		"uploads":      key.Uploads,
		"questions":    key.Questions,
		"window_start": key.WindowStart,
		"ctime":        key.Ctime,
		"expires_at":   key.ExpiresAt,
	}
	sqlStr, args, err := builder.BuildInsert("api_keys", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ApiKeyRepo) GetByKey(ctx context.Context, key string) (*model.ApiKey, error) {
	return r.getOne(ctx, map[string]interface{}{"key": key})
}

func (r *ApiKeyRepo) GetByIdentity(ctx context.Context, identity string) (*model.ApiKey, error) {
	return r.getOne(ctx, map[string]interface{}{
		"identity": identity,
		"_orderby": "ctime desc",
		"_limit":   []uint{0, 1},
	})
}

func (r *ApiKeyRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.ApiKey, error) {
	sqlStr, args, err := builder.BuildSelect("api_keys", where, apiKeyFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	var key model.ApiKey
	if err := rows.Scan(&key.Key, &key.Identity, &key.Uploads, &key.Questions, &key.WindowStart, &key.Ctime, &key.ExpiresAt); err != nil {
		return nil, err
	}
	return &key, nil
}

// ResetIfStale zeroes both counters when the key's window started before
// windowStart. Safe to call on every request.
func (r *ApiKeyRepo) ResetIfStale(ctx context.Context, key string, windowStart int64) error {
	const query = `
		UPDATE api_keys
		SET uploads = 0, questions = 0, window_start = $1
		WHERE key = $2 AND window_start < $1
	`
	_, err := r.db.ExecContext(ctx, query, windowStart, key)
	return err
}

func counterColumn(op string) (string, error) {
	switch op {
	case model.OpUpload:
		return "uploads", nil
	case model.OpQuestion:
		return "questions", nil
	default:
		return "", fmt.Errorf("unknown operation: %s", op)
	}
}

// Consume pre-increments the operation counter, but only while it is still
// under limit. Zero affected rows means the quota is already spent.
func (r *ApiKeyRepo) Consume(ctx context.Context, key string, op string, limit int64) (bool, error) {
	col, err := counterColumn(op)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
		UPDATE api_keys
		SET %s = %s + 1
		WHERE key = $1 AND %s < $2
	`, col, col, col)
	result, err := r.db.ExecContext(ctx, query, key, limit)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Release undoes one Consume after the gated operation failed, so the
// failed attempt does not burn quota.
func (r *ApiKeyRepo) Release(ctx context.Context, key string, op string) error {
	col, err := counterColumn(op)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE api_keys
		SET %s = GREATEST(%s - 1, 0)
		WHERE key = $1
	`, col, col)
	_, err = r.db.ExecContext(ctx, query, key)
	return err
}

func (r *ApiKeyRepo) ResetAllWindows(ctx context.Context, windowStart int64) (int64, error) {
	const query = `
		UPDATE api_keys
		SET uploads = 0, questions = 0, window_start = $1
		WHERE window_start < $1
	`
	result, err := r.db.ExecContext(ctx, query, windowStart)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListExpired returns keys past their expiry so the cleanup job can tear
// down their documents before removing them.
func (r *ApiKeyRepo) ListExpired(ctx context.Context, now int64, limit uint) ([]*model.ApiKey, error) {
	where := map[string]interface{}{
		"expires_at >": 0,
		"expires_at <": now,
		"_orderby":     "expires_at asc",
		"_limit":       []uint{0, limit},
	}
	sqlStr, args, err := builder.BuildSelect("api_keys", where, apiKeyFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var keys []*model.ApiKey
	for rows.Next() {
		var key model.ApiKey
		if err := rows.Scan(&key.Key, &key.Identity, &key.Uploads, &key.Questions, &key.WindowStart, &key.Ctime, &key.ExpiresAt); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (r *ApiKeyRepo) Delete(ctx context.Context, key string) error {
	sqlStr, args, err := builder.BuildDelete("api_keys", map[string]interface{}{"key": key})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
