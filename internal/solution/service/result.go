package service

import (
	"context"
	"errors"

	"judgeflow/internal/common/event"
	"judgeflow/internal/common/metrics"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/solution/model"
	"judgeflow/internal/solution/repository"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// HandleResultMessage is the consumer of execution results.
func (s *SolutionService) HandleResultMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return mq.Poisonf("message is nil")
	}
	res, err := event.DecodeExecutionResult(msg.Body)
	if err != nil {
		return mq.Poison(appErr.Wrapf(err, appErr.InvalidMessage, "decode execution result failed"))
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, res.SubmissionID)
	_, err = s.ApplyResult(ctx, res.SubmissionID, res.Status, res.Description, res.TestsPassed, res.TestsTotal)
	return err
}

// ApplyResult moves a PENDING submission to the verdict's terminal status.
// It reports false, without error, when the submission was no longer
// PENDING. A scored verdict is forwarded to the scorer after the transition
// is durable; a duplicate delivery retries scoring that has not completed.
func (s *SolutionService) ApplyResult(ctx context.Context, submissionID string, verdict event.Verdict, description string, passed, total int) (bool, error) {
	if submissionID == "" {
		return false, appErr.ValidationError("submission_id", "required")
	}
	if _, err := event.ParseVerdict(string(verdict)); err != nil {
		return false, appErr.Wrapf(err, appErr.InvalidVerdict, "invalid verdict")
	}
	return s.complete(ctx, submissionID, model.Transition{
		Status:      model.StatusFromVerdict(verdict),
		Feedback:    description,
		TestsPassed: passed,
		TestsTotal:  total,
	}, "result")
}

// ExpireSubmission applies TIMEOUT to a submission that is still PENDING.
func (s *SolutionService) ExpireSubmission(ctx context.Context, submissionID string) (bool, error) {
	return s.complete(ctx, submissionID, model.Transition{
		Status:   model.StatusTimeout,
		Feedback: feedbackTimeout,
	}, "reaper")
}

func (s *SolutionService) complete(ctx context.Context, submissionID string, t model.Transition, source string) (bool, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	ok, err := s.repo.CompleteIfPending(ctxDB.ctx, submissionID, t)
	ctxDB.cancel()
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "update submission status failed")
	}
	if !ok {
		metrics.StaleResults.Inc()
		logger.Info(ctx, "submission is not pending, transition ignored",
			zap.String("submission_id", submissionID),
			zap.String("status", string(t.Status)),
			zap.String("source", source),
		)
		return false, s.ResumeScoring(ctx, submissionID)
	}

	metrics.Verdicts.WithLabelValues(string(t.Status), source).Inc()
	logger.Info(ctx, "submission completed",
		zap.String("submission_id", submissionID),
		zap.String("status", string(t.Status)),
		zap.String("source", source),
	)
	if _, scored := s.scoreOutcome(t.Status); !scored {
		return true, nil
	}
	submission, err := s.load(ctx, submissionID)
	if err != nil {
		return true, err
	}
	return true, s.score(ctx, submission)
}

// ResumeScoring finishes scoring for a terminal submission whose confidence
// update never completed. It is a no-op once progress_applied is set.
func (s *SolutionService) ResumeScoring(ctx context.Context, submissionID string) error {
	if s.scorer == nil {
		return nil
	}
	submission, err := s.load(ctx, submissionID)
	if err != nil {
		if appErr.Is(err, appErr.SubmissionNotFound) {
			logger.Warn(ctx, "result for unknown submission", zap.String("submission_id", submissionID))
			return nil
		}
		return err
	}
	if submission.ProgressApplied {
		return nil
	}
	if _, scored := s.scoreOutcome(submission.Status); !scored {
		return nil
	}
	return s.score(ctx, submission)
}

func (s *SolutionService) score(ctx context.Context, submission *model.Submission) error {
	if s.scorer == nil {
		return nil
	}
	success, scored := s.scoreOutcome(submission.Status)
	if !scored {
		return nil
	}
	t, err := s.fetchTask(ctx, submission.TaskID)
	if err != nil {
		return err
	}
	if err := s.scorer.ApplyVerdict(ctx, submission.UserID, submission.ID, t, success); err != nil {
		return appErr.Wrapf(err, appErr.ProgressUpdateFailed, "apply verdict to progress failed")
	}
	return nil
}

// ScoredStatuses lists the terminal statuses that feed the scorer.
func (s *SolutionService) ScoredStatuses() []model.Status {
	if s.scorer == nil {
		return nil
	}
	statuses := []model.Status{model.StatusSuccess, model.StatusFailed}
	if s.penalizeTimeout {
		statuses = append(statuses, model.StatusTimeout)
	}
	return statuses
}

// scoreOutcome reports whether a status feeds the scorer and as what.
func (s *SolutionService) scoreOutcome(status model.Status) (success bool, scored bool) {
	switch status {
	case model.StatusSuccess:
		return true, true
	case model.StatusFailed:
		return false, true
	case model.StatusTimeout:
		return false, s.penalizeTimeout
	case model.StatusServiceUnavailable, model.StatusPending:
		return false, false
	default:
		return false, false
	}
}

func (s *SolutionService) load(ctx context.Context, submissionID string) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.repo.GetByID(ctxDB.ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return submission, nil
}
