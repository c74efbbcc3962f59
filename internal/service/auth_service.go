package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/3N-VOY/neuropdfv2/internal/config"
	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/jwt"
)

// ApiKeyStore is the persistence surface AuthService needs.
type ApiKeyStore interface {
	Create(ctx context.Context, key *model.ApiKey) error
	GetByKey(ctx context.Context, key string) (*model.ApiKey, error)
	GetByIdentity(ctx context.Context, identity string) (*model.ApiKey, error)
	ResetIfStale(ctx context.Context, key string, windowStart int64) error
	Consume(ctx context.Context, key string, op string, limit int64) (bool, error)
	Release(ctx context.Context, key string, op string) error
	Delete(ctx context.Context, key string) error
}

// AuthService issues API keys bound to an identity and gates every
// quota-counted operation. One identity maps to at most one live key, so
// re-requesting a key never mints fresh quota.
type AuthService struct {
	keys   ApiKeyStore
	secret []byte
	quota  config.QuotaConfig
	keyTTL time.Duration
	now    func() time.Time
}

func NewAuthService(keys ApiKeyStore, cfg config.IdentityConfig, quota config.QuotaConfig) *AuthService {
	return &AuthService{
		keys:   keys,
		secret: []byte(cfg.Secret),
		quota:  quota,
		keyTTL: time.Duration(cfg.KeyTTLDays) * 24 * time.Hour,
		now:    time.Now,
	}
}

// DeriveIdentity maps the caller's credentials onto a stable identity
// string. A valid bearer token wins over the device fingerprint.
func (s *AuthService) DeriveIdentity(ctx context.Context, bearerToken, deviceFingerprint string) (string, error) {
	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken != "" {
		claims, err := jwt.ParseToken(bearerToken, s.secret)
		if err != nil {
			logutil.GetLogger(ctx).Warn("invalid bearer token", zap.Error(err))
			return "", appErr.ErrUnauthorized
		}
		return "user:" + claims.UserID, nil
	}
	deviceFingerprint = strings.TrimSpace(deviceFingerprint)
	if deviceFingerprint == "" {
		return "", appErr.ErrInvalid
	}
	hash := sha256.Sum256([]byte(deviceFingerprint))
	return "device:" + hex.EncodeToString(hash[:]), nil
}

// Authenticate returns the identity's live key, minting one if needed.
func (s *AuthService) Authenticate(ctx context.Context, bearerToken, deviceFingerprint string) (*model.ApiKey, error) {
	identity, err := s.DeriveIdentity(ctx, bearerToken, deviceFingerprint)
	if err != nil {
		return nil, err
	}
	now := s.now()
	existing, err := s.keys.GetByIdentity(ctx, identity)
	if err == nil && !s.expired(existing, now) {
		return existing, nil
	}
	if err != nil && !appErr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		// Expired key for this identity; replace it.
		if err := s.keys.Delete(ctx, existing.Key); err != nil {
			logutil.GetLogger(ctx).Warn("failed to delete expired key", zap.Error(err))
		}
	}
	key := &model.ApiKey{
		Key:         newAPIKey(),
		Identity:    identity,
		WindowStart: windowStart(now),
		Ctime:       now.Unix(),
		ExpiresAt:   now.Add(s.keyTTL).Unix(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		if err == appErr.ErrConflict {
			// Lost a race with another request for the same identity.
			return s.keys.GetByIdentity(ctx, identity)
		}
		logutil.GetLogger(ctx).Error("failed to create api key", zap.Error(err))
		return nil, err
	}
	logutil.GetLogger(ctx).Info("api key issued", zap.String("identity", identity))
	return key, nil
}

// Validate resolves a presented key. Unknown and expired keys both come
// back as ErrUnauthorized so callers cannot probe which one it was.
func (s *AuthService) Validate(ctx context.Context, key string) (*model.ApiKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, appErr.ErrUnauthorized
	}
	record, err := s.keys.GetByKey(ctx, key)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, appErr.ErrUnauthorized
		}
		return nil, err
	}
	if s.expired(record, s.now()) {
		return nil, appErr.ErrUnauthorized
	}
	return record, nil
}

// Authorize consumes one unit of the operation's daily quota before the
// operation runs. Callers must Release on failure of the gated operation.
func (s *AuthService) Authorize(ctx context.Context, key string, op string) error {
	limit, err := s.limitFor(op)
	if err != nil {
		return err
	}
	if err := s.keys.ResetIfStale(ctx, key, windowStart(s.now())); err != nil {
		return err
	}
	ok, err := s.keys.Consume(ctx, key, op, limit)
	if err != nil {
		return err
	}
	if !ok {
		return appErr.ErrQuotaExceeded
	}
	return nil
}

// Release refunds one unit after a failed operation. Best effort: a lost
// refund costs the caller one quota unit, never correctness.
func (s *AuthService) Release(ctx context.Context, key string, op string) {
	if err := s.keys.Release(ctx, key, op); err != nil {
		logutil.GetLogger(ctx).Warn("failed to release quota",
			zap.String("op", op), zap.Error(err))
	}
}

func (s *AuthService) limitFor(op string) (int64, error) {
	switch op {
	case model.OpUpload:
		return s.quota.DailyUploads, nil
	case model.OpQuestion:
		return s.quota.DailyQuestions, nil
	default:
		return 0, appErr.ErrInvalid
	}
}

func (s *AuthService) expired(key *model.ApiKey, now time.Time) bool {
	return key.ExpiresAt > 0 && key.ExpiresAt < now.Unix()
}

// windowStart is midnight UTC of the current day; quotas reset there.
func windowStart(now time.Time) int64 {
	return now.UTC().Truncate(24 * time.Hour).Unix()
}
