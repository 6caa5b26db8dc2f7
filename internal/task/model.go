// Package task is the read-only client of the external task catalog.
package task

import (
	"strings"

	"judgeflow/internal/common/event"
)

// Difficulty is the ordered difficulty tier of a task.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

const (
	// WeightMin and WeightMax bound the difficulty weights; their sum inverts a weight.
	WeightMin = 0.8
	WeightMax = 1.2
)

// Weight returns the numeric weight of the tier. Unknown tiers weigh as MEDIUM.
func (d Difficulty) Weight() float64 {
	switch Difficulty(strings.ToUpper(string(d))) {
	case DifficultyEasy:
		return WeightMin
	case DifficultyMedium:
		return 1.0
	case DifficultyHard:
		return WeightMax
	default:
		return 1.0
	}
}

// Task is a catalog entry as seen by the pipeline.
type Task struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Difficulty  Difficulty       `json:"difficulty"`
	Tags        []string         `json:"tags"`
	Tests       []event.TestCase `json:"tests"`
}
