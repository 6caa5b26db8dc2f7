package model

import "time"

const (
	DefaultConfidence = 0.5
	MinConfidence     = 0.0
	MaxConfidence     = 1.0

	SuccessFactor = 0.1
	FailureBase   = 0.05
	// WeightSum is the sum of the lowest and highest difficulty weights.
	WeightSum = 2.0
)

// TopicConfidence is a user's mastery estimate for one topic.
type TopicConfidence struct {
	UserID     string    `json:"userId"`
	Topic      string    `json:"topic"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NextConfidence applies one verdict to old for a task of difficulty weight
// d carrying tagCount topics.
func NextConfidence(old, d float64, tagCount int, success bool) float64 {
	var delta float64
	if success {
		delta = (MaxConfidence - old) * SuccessFactor * d
	} else {
		delta = -FailureBase * (WeightSum - d)
	}
	if tagCount > 1 {
		delta /= float64(tagCount)
	}
	return Clamp(old + delta)
}

// Priority ranks a candidate task; weaker topics and easier tasks rank higher.
func Priority(avgConfidence, d float64) float64 {
	return (MaxConfidence - avgConfidence) * (WeightSum - d)
}

// Clamp bounds c to [MinConfidence, MaxConfidence].
func Clamp(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
