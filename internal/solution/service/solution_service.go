package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"judgeflow/internal/common/event"
	"judgeflow/internal/solution/model"
	"judgeflow/internal/solution/repository"
	"judgeflow/internal/task"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes = 64 * 1024
	defaultListLimit    = 200
	maxActivityDays     = 30

	feedbackDispatchFailed = "Execution service is temporarily unavailable"
	feedbackTimeout        = "Execution did not complete in time (timeout)"
)

// TaskCatalog resolves tasks by id.
type TaskCatalog interface {
	Get(ctx context.Context, id string) (*task.Task, error)
}

// RequestPublisher dispatches execution requests.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, req *event.ExecutionRequest) error
}

// Scorer updates topic confidence after a scored verdict.
type Scorer interface {
	ApplyVerdict(ctx context.Context, userID, submissionID string, t *task.Task, success bool) error
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration
	Catalog time.Duration
	MQ      time.Duration
}

// Config holds solution service dependencies and settings.
type Config struct {
	Repo      repository.SubmissionRepository
	Catalog   TaskCatalog
	Publisher RequestPublisher
	Scorer    Scorer

	MaxCodeBytes int
	ListLimit    int
	// PenalizeTimeout routes TIMEOUT verdicts to the scorer as failures.
	PenalizeTimeout bool
	Timeouts        TimeoutConfig
}

// SolutionService owns the submission lifecycle.
type SolutionService struct {
	repo      repository.SubmissionRepository
	catalog   TaskCatalog
	publisher RequestPublisher
	scorer    Scorer

	maxCodeBytes    int
	listLimit       int
	penalizeTimeout bool
	timeouts        TimeoutConfig
	now             func() time.Time
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	UserID   string
	TaskID   string
	Code     string
	Language string
}

// NewSolutionService creates a solution service.
func NewSolutionService(cfg Config) (*SolutionService, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("task catalog is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("request publisher is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = defaultListLimit
	}
	return &SolutionService{
		repo:            cfg.Repo,
		catalog:         cfg.Catalog,
		publisher:       cfg.Publisher,
		scorer:          cfg.Scorer,
		maxCodeBytes:    cfg.MaxCodeBytes,
		listLimit:       cfg.ListLimit,
		penalizeTimeout: cfg.PenalizeTimeout,
		timeouts:        cfg.Timeouts,
		now:             time.Now,
	}, nil
}

// Submit persists a PENDING submission and dispatches it for execution.
func (s *SolutionService) Submit(ctx context.Context, input SubmitInput) (*model.Submission, error) {
	language, err := s.validateInput(input)
	if err != nil {
		return nil, err
	}

	t, err := s.fetchTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}

	submission := &model.Submission{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		TaskID:     input.TaskID,
		Code:       input.Code,
		Language:   language,
		Status:     model.StatusPending,
		TestsTotal: len(t.Tests),
		CreatedAt:  s.now().UTC(),
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	err = s.repo.Create(ctxDB.ctx, submission)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}

	req := &event.ExecutionRequest{
		SubmissionID: submission.ID,
		TaskID:       submission.TaskID,
		Language:     submission.Language,
		Code:         submission.Code,
		Tests:        t.Tests,
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	err = s.publisher.PublishRequest(ctxMQ.ctx, req)
	ctxMQ.cancel()
	if err != nil {
		logger.Error(ctx, "dispatch submission failed", zap.String("submission_id", submission.ID), zap.Error(err))
		if _, markErr := s.complete(ctx, submission.ID, model.Transition{
			Status:   model.StatusServiceUnavailable,
			Feedback: feedbackDispatchFailed,
		}, "submit"); markErr != nil {
			logger.Error(ctx, "mark undispatched submission failed", zap.String("submission_id", submission.ID), zap.Error(markErr))
		}
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "dispatch submission failed")
	}

	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", submission.ID),
		zap.String("task_id", submission.TaskID),
		zap.Int("tests_total", submission.TestsTotal),
	)
	return submission, nil
}

// Get returns a submission owned by ownerID. Absence and foreign ownership
// are reported the same way.
func (s *SolutionService) Get(ctx context.Context, id, ownerID string) (*model.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErr.ValidationError("id", "required")
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.repo.GetByID(ctxDB.ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if submission.UserID != ownerID {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return submission, nil
}

// ListByUser returns the owner's submissions, newest first.
func (s *SolutionService) ListByUser(ctx context.Context, ownerID string) ([]*model.Submission, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	list, err := s.repo.ListByUser(ctxDB.ctx, ownerID, s.listLimit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	if list == nil {
		list = []*model.Submission{}
	}
	return list, nil
}

// DailyActivity counts the owner's submissions per UTC calendar day over the
// trailing window, today included, in ascending date order. Days without
// submissions are omitted.
func (s *SolutionService) DailyActivity(ctx context.Context, ownerID string, windowDays int) ([]model.ActivityDay, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if windowDays < 1 || windowDays > maxActivityDays {
		return nil, appErr.ValidationError("days", fmt.Sprintf("must be between 1 and %d", maxActivityDays))
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(windowDays - 1))

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	days, err := s.repo.CountDaily(ctxDB.ctx, ownerID, since)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "count activity failed")
	}
	if days == nil {
		days = []model.ActivityDay{}
	}
	return days, nil
}

func (s *SolutionService) validateInput(input SubmitInput) (event.Language, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return "", appErr.ValidationError("user_id", "required")
	}
	if strings.TrimSpace(input.TaskID) == "" {
		return "", appErr.ValidationError("task_id", "required")
	}
	if strings.TrimSpace(input.Code) == "" {
		return "", appErr.ValidationError("code", "required")
	}
	if len(input.Code) > s.maxCodeBytes {
		return "", appErr.ValidationError("code", fmt.Sprintf("must not exceed %d bytes", s.maxCodeBytes))
	}
	language, err := event.ParseLanguage(input.Language)
	if err != nil {
		return "", appErr.ValidationError("language", "unsupported")
	}
	return language, nil
}

func (s *SolutionService) fetchTask(ctx context.Context, taskID string) (*task.Task, error) {
	ctxCatalog := withTimeout(ctx, s.timeouts.Catalog)
	defer ctxCatalog.cancel()
	t, err := s.catalog.Get(ctxCatalog.ctx, taskID)
	if err == nil {
		return t, nil
	}
	switch appErr.GetCode(err) {
	case appErr.TaskNotFound, appErr.ValidationFailed, appErr.ServiceUnavailable:
		return nil, err
	default:
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "task catalog unavailable")
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
