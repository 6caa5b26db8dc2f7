package repository

import (
	"context"
	"encoding/json"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/solution/model"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultSubmissionCacheTTL = 30 * time.Minute
	submissionCacheKeyPrefix  = "solution:"
)

// CachedSubmissionRepository serves reads of settled submissions from the cache.
// A submission is settled once it is terminal and its progress_applied flag
// can no longer change: scoring completed, or the status is never scored.
// PENDING submissions are never cached.
type CachedSubmissionRepository struct {
	SubmissionRepository
	cache cache.BasicOps
	ttl   time.Duration
}

// NewCachedSubmissionRepository decorates next with a cache-aside GetByID.
func NewCachedSubmissionRepository(next SubmissionRepository, cacheClient cache.BasicOps, ttl time.Duration) *CachedSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	return &CachedSubmissionRepository{SubmissionRepository: next, cache: cacheClient, ttl: ttl}
}

// GetByID retrieves a submission through the cache.
func (r *CachedSubmissionRepository) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	if r.cache == nil {
		return r.SubmissionRepository.GetByID(ctx, id)
	}
	return cache.GetWithCached(
		ctx,
		r.cache,
		submissionCacheKey(id),
		r.ttl,
		settled,
		marshalSubmission,
		unmarshalSubmission,
		func(ctx context.Context) (*model.Submission, error) {
			return r.SubmissionRepository.GetByID(ctx, id)
		},
	)
}

// CompleteIfPending drops the cached entry after a transition.
func (r *CachedSubmissionRepository) CompleteIfPending(ctx context.Context, id string, t model.Transition) (bool, error) {
	ok, err := r.SubmissionRepository.CompleteIfPending(ctx, id, t)
	if err == nil && ok && r.cache != nil {
		if delErr := r.cache.Del(ctx, submissionCacheKey(id)); delErr != nil {
			logger.Warn(ctx, "drop submission cache failed", zap.String("submission_id", id), zap.Error(delErr))
		}
	}
	return ok, err
}

func settled(s *model.Submission) bool {
	if s == nil || !s.Status.IsTerminal() {
		return false
	}
	return s.ProgressApplied || s.Status == model.StatusServiceUnavailable
}

func submissionCacheKey(id string) string {
	return submissionCacheKeyPrefix + id
}

func marshalSubmission(s *model.Submission) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalSubmission(data string) (*model.Submission, error) {
	var s model.Submission
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
