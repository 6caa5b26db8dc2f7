package event

import (
	"context"
	"encoding/json"
	"fmt"

	"judgeflow/internal/common/mq"
	appErr "judgeflow/pkg/errors"

	"github.com/google/uuid"
)

// Publisher writes pipeline events to the bus, keyed by submission id.
type Publisher struct {
	producer     mq.Producer
	requestTopic string
	resultTopic  string
}

// NewPublisher creates a publisher. Empty topics fall back to the defaults.
func NewPublisher(producer mq.Producer, requestTopic, resultTopic string) *Publisher {
	if requestTopic == "" {
		requestTopic = TopicExecutionRequest
	}
	if resultTopic == "" {
		resultTopic = TopicExecutionResult
	}
	return &Publisher{producer: producer, requestTopic: requestTopic, resultTopic: resultTopic}
}

// PublishRequest publishes an execution request.
func (p *Publisher) PublishRequest(ctx context.Context, req *ExecutionRequest) error {
	if err := p.ready(); err != nil {
		return err
	}
	if req == nil || req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	return p.publish(ctx, p.requestTopic, KindExecutionRequest, uuid.NewString(), req.SubmissionID, req)
}

// PublishResult publishes an execution result. A missing EventID is generated.
func (p *Publisher) PublishResult(ctx context.Context, res *ExecutionResult) error {
	if err := p.ready(); err != nil {
		return err
	}
	if res == nil || res.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if res.EventID == "" {
		res.EventID = uuid.NewString()
	}
	return p.publish(ctx, p.resultTopic, KindExecutionResult, res.EventID, res.SubmissionID, res)
}

func (p *Publisher) ready() error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, kind Kind, id, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event failed: %w", kind, err)
	}
	msg := mq.NewMessage(body)
	msg.ID = id
	msg.Key = key
	msg.SetHeader(HeaderEventType, string(kind))
	if err := p.producer.Publish(ctx, topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish %s event failed", kind)
	}
	return nil
}
