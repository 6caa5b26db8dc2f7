// Package worker consumes execution requests, runs them through the judge
// gateway and publishes exactly one result per request.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"judgeflow/internal/common/event"
	"judgeflow/internal/common/metrics"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/gateway"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

const (
	descriptionNoTests     = "Task has no test cases"
	descriptionUnavailable = "Execution service is temporarily unavailable"
	descriptionAccepted    = "Accepted"
)

// Judge executes code against a single test case.
type Judge interface {
	Execute(ctx context.Context, code string, language event.Language, tc event.TestCase) (*gateway.Execution, error)
}

// ResultPublisher publishes execution results.
type ResultPublisher interface {
	PublishResult(ctx context.Context, res *event.ExecutionResult) error
}

// Config holds worker dependencies and settings. ExecTimeout bounds the
// judge call for one test case, retries included.
type Config struct {
	Judge          Judge
	Publisher      ResultPublisher
	PoolSize       int
	Sampling       SamplingPolicy
	ExecTimeout    time.Duration
	PublishTimeout time.Duration
}

// Worker bridges the bus and the judge gateway.
type Worker struct {
	judge          Judge
	publisher      ResultPublisher
	runner         *threading.TaskRunner
	sampling       SamplingPolicy
	execTimeout    time.Duration
	publishTimeout time.Duration
	pick           func(n int) int
}

// New creates a worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("result publisher is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 8
	}
	sampling, err := ParseSamplingPolicy(string(cfg.Sampling))
	if err != nil {
		return nil, err
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 2 * time.Minute
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &Worker{
		judge:          cfg.Judge,
		publisher:      cfg.Publisher,
		runner:         threading.NewTaskRunner(poolSize),
		sampling:       sampling,
		execTimeout:    cfg.ExecTimeout,
		publishTimeout: cfg.PublishTimeout,
		pick:           randomPick,
	}, nil
}

// HandleMessage processes one execution request. The judge call runs on the
// execution pool; the handler returns once the result has been published so
// the offset is committed only after the detached work completed.
func (w *Worker) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return mq.Poisonf("message is nil")
	}
	req, err := event.DecodeExecutionRequest(msg.Body)
	if err != nil {
		return mq.Poison(appErr.Wrapf(err, appErr.InvalidMessage, "decode execution request failed"))
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, req.SubmissionID)

	done := make(chan *event.ExecutionResult, 1)
	w.runner.Schedule(func() {
		done <- w.execute(ctx, req)
	})

	var res *event.ExecutionResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.publish(ctx, res)
}

// Wait blocks until every scheduled execution finished.
func (w *Worker) Wait() {
	w.runner.Wait()
}

func (w *Worker) execute(ctx context.Context, req *event.ExecutionRequest) (res *event.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "execution panicked", zap.Any("panic", r))
			res = failed(req.SubmissionID, fmt.Sprintf("internal error: %v", r), 0, 0)
		}
	}()

	tests := w.sampling.sample(req.Tests, w.pick)
	if len(tests) == 0 {
		return failed(req.SubmissionID, descriptionNoTests, 0, 0)
	}

	total := len(tests)
	for i, tc := range tests {
		exec, err := w.judgeOne(ctx, req, tc)
		if err != nil {
			// A judge that outlives the execution deadline is treated like one
			// that kept failing; only the consumer's own shutdown is not.
			if errors.Is(err, gateway.ErrServiceUnavailable) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
				logger.Warn(ctx, "judge unavailable", zap.Error(err))
				return &event.ExecutionResult{
					SubmissionID: req.SubmissionID,
					Status:       event.VerdictServiceUnavailable,
					Description:  descriptionUnavailable,
					TestsPassed:  i,
					TestsTotal:   total,
				}
			}
			logger.Warn(ctx, "execution failed", zap.Error(err))
			return failed(req.SubmissionID, err.Error(), i, total)
		}
		if !exec.Passed() {
			desc := exec.Description()
			if total > 1 {
				desc = fmt.Sprintf("%s on test %d", desc, i+1)
			}
			return failed(req.SubmissionID, desc, i, total)
		}
	}
	return &event.ExecutionResult{
		SubmissionID: req.SubmissionID,
		Status:       event.VerdictSuccess,
		Description:  descriptionAccepted,
		TestsPassed:  total,
		TestsTotal:   total,
	}
}

func (w *Worker) judgeOne(ctx context.Context, req *event.ExecutionRequest, tc event.TestCase) (*gateway.Execution, error) {
	execCtx, cancel := context.WithTimeout(ctx, w.execTimeout)
	defer cancel()
	exec, err := w.judge.Execute(execCtx, req.Code, req.Language, tc)
	if cerr := execCtx.Err(); err != nil && cerr != nil && !errors.Is(err, cerr) {
		err = fmt.Errorf("%w: %v", cerr, err)
	}
	return exec, err
}

func (w *Worker) publish(ctx context.Context, res *event.ExecutionResult) error {
	pubCtx, cancel := context.WithTimeout(ctx, w.publishTimeout)
	defer cancel()
	if err := w.publisher.PublishResult(pubCtx, res); err != nil {
		logger.Error(ctx, "publish execution result failed", zap.String("status", string(res.Status)), zap.Error(err))
		return err
	}
	metrics.Verdicts.WithLabelValues(string(res.Status), "worker").Inc()
	logger.Info(ctx, "execution result published",
		zap.String("status", string(res.Status)),
		zap.Int("tests_passed", res.TestsPassed),
		zap.Int("tests_total", res.TestsTotal),
	)
	return nil
}

func failed(submissionID, description string, passed, total int) *event.ExecutionResult {
	return &event.ExecutionResult{
		SubmissionID: submissionID,
		Status:       event.VerdictFailed,
		Description:  description,
		TestsPassed:  passed,
		TestsTotal:   total,
	}
}
