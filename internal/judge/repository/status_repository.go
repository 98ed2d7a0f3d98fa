package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fujudge/internal/common/cache"
	"fujudge/internal/judge/sandbox/result"
	appErr "fujudge/pkg/errors"
)

const statusKeyPrefix = "judge:run:"

// StatusRepository handles run status persistence.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns status by run id.
func (r *StatusRepository) Get(ctx context.Context, runID string) (result.Summary, error) {
	if runID == "" {
		return result.Summary{}, appErr.ValidationError("run_id", "required")
	}
	if r.cache == nil {
		return result.Summary{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+runID)
	if err != nil {
		return result.Summary{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return result.Summary{}, appErr.New(appErr.RunNotFound).WithMessage("run status not found").WithDetail("run_id", runID)
	}
	var status result.Summary
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return result.Summary{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return status, nil
}

// Save persists status.
func (r *StatusRepository) Save(ctx context.Context, status result.Summary) error {
	if status.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.RunID, string(data), cache.JitterTTL(r.TTL)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}
