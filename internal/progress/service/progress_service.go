package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"judgeflow/internal/common/metrics"
	"judgeflow/internal/progress/model"
	"judgeflow/internal/progress/repository"
	"judgeflow/internal/task"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultWeakTopics    = 3
	defaultCandidatePool = 30
	maxRecommend         = 10
)

// TaskSource lists candidate tasks for recommendations.
type TaskSource interface {
	ListByTags(ctx context.Context, tags []string, count int) ([]task.Task, error)
	Random(ctx context.Context, count int) ([]task.Task, error)
}

// Config holds progress service dependencies and settings.
type Config struct {
	Repo          repository.ConfidenceRepository
	Tasks         TaskSource
	WeakTopics    int
	CandidatePool int
	DBTimeout     time.Duration
}

// ProgressService owns topic confidence and recommendations.
type ProgressService struct {
	repo          repository.ConfidenceRepository
	tasks         TaskSource
	weakTopics    int
	candidatePool int
	dbTimeout     time.Duration
}

// NewProgressService creates a progress service.
func NewProgressService(cfg Config) (*ProgressService, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("confidence repository is required")
	}
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("task source is required")
	}
	if cfg.WeakTopics <= 0 {
		cfg.WeakTopics = defaultWeakTopics
	}
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = defaultCandidatePool
	}
	return &ProgressService{
		repo:          cfg.Repo,
		tasks:         cfg.Tasks,
		weakTopics:    cfg.WeakTopics,
		candidatePool: cfg.CandidatePool,
		dbTimeout:     cfg.DBTimeout,
	}, nil
}

// ApplyVerdict updates the user's confidence for every topic of t. Each
// submission is applied at most once.
func (s *ProgressService) ApplyVerdict(ctx context.Context, userID, submissionID string, t *task.Task, success bool) error {
	if t == nil {
		return appErr.ValidationError("task", "required")
	}
	topics := distinctTopics(t.Tags)
	d := t.Difficulty.Weight()
	update := func(_ string, old float64) float64 {
		return model.NextConfidence(old, d, len(topics), success)
	}

	ctxDB, cancel := s.withTimeout(ctx)
	defer cancel()
	applied, err := s.repo.ApplyOnce(ctxDB, submissionID, userID, topics, update)
	if err != nil {
		return appErr.Wrapf(err, appErr.ProgressUpdateFailed, "update topic confidence failed")
	}
	kind := "failure"
	if success {
		kind = "success"
	}
	if !applied {
		kind = "duplicate"
	}
	metrics.ConfidenceUpdates.WithLabelValues(kind).Inc()
	logger.Info(ctx, "topic confidence updated",
		zap.String("submission_id", submissionID),
		zap.Strings("topics", topics),
		zap.String("kind", kind),
	)
	return nil
}

// Recommend ranks candidate tasks around the user's weakest topics.
func (s *ProgressService) Recommend(ctx context.Context, userID string, limit int) ([]task.Task, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if limit < 1 || limit > maxRecommend {
		return nil, appErr.ValidationError("limit", fmt.Sprintf("must be between 1 and %d", maxRecommend))
	}

	ctxDB, cancel := s.withTimeout(ctx)
	weakest, err := s.repo.Weakest(ctxDB, userID, s.weakTopics)
	cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RecommendationFailed, "load weakest topics failed")
	}

	var candidates []task.Task
	if len(weakest) == 0 {
		candidates, err = s.tasks.Random(ctx, s.candidatePool)
	} else {
		tags := make([]string, 0, len(weakest))
		for _, tc := range weakest {
			tags = append(tags, tc.Topic)
		}
		candidates, err = s.tasks.ListByTags(ctx, tags, s.candidatePool)
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []task.Task{}, nil
	}

	confidence, err := s.confidenceMap(ctx, userID)
	if err != nil {
		return nil, err
	}
	ranked := rank(candidates, confidence)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// Confidences returns every topic confidence of the user.
func (s *ProgressService) Confidences(ctx context.Context, userID string) ([]model.TopicConfidence, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	ctxDB, cancel := s.withTimeout(ctx)
	defer cancel()
	list, err := s.repo.ListByUser(ctxDB, userID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list topic confidence failed")
	}
	if list == nil {
		list = []model.TopicConfidence{}
	}
	return list, nil
}

func (s *ProgressService) confidenceMap(ctx context.Context, userID string) (map[string]float64, error) {
	ctxDB, cancel := s.withTimeout(ctx)
	defer cancel()
	list, err := s.repo.ListByUser(ctxDB, userID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RecommendationFailed, "load topic confidence failed")
	}
	out := make(map[string]float64, len(list))
	for _, tc := range list {
		out[tc.Topic] = tc.Confidence
	}
	return out, nil
}

func (s *ProgressService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.dbTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.dbTimeout)
}

type scoredTask struct {
	task     task.Task
	priority float64
}

// rank orders candidates by descending priority, keeping catalog order on ties.
func rank(candidates []task.Task, confidence map[string]float64) []task.Task {
	scored := make([]scoredTask, 0, len(candidates))
	for _, t := range candidates {
		scored = append(scored, scoredTask{task: t, priority: model.Priority(averageConfidence(t.Tags, confidence), t.Difficulty.Weight())})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].priority > scored[j].priority })
	out := make([]task.Task, 0, len(scored))
	for _, st := range scored {
		out = append(out, st.task)
	}
	return out
}

func averageConfidence(tags []string, confidence map[string]float64) float64 {
	topics := distinctTopics(tags)
	if len(topics) == 0 {
		return model.DefaultConfidence
	}
	var sum float64
	for _, topic := range topics {
		c, ok := confidence[topic]
		if !ok {
			c = model.DefaultConfidence
		}
		sum += c
	}
	return sum / float64(len(topics))
}

func distinctTopics(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
