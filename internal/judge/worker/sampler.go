package worker

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"judgeflow/internal/common/event"
)

// SamplingPolicy selects which test cases of a task are judged.
type SamplingPolicy string

const (
	// SampleRandom judges one pseudo-randomly chosen test case.
	SampleRandom SamplingPolicy = "random"
	// SampleFirst judges the first test case only.
	SampleFirst SamplingPolicy = "first"
	// SampleAll judges every test case in order and stops at the first failure.
	SampleAll SamplingPolicy = "all"
)

// ParseSamplingPolicy parses a configured policy. Empty means random.
func ParseSamplingPolicy(s string) (SamplingPolicy, error) {
	switch p := SamplingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return SampleRandom, nil
	case SampleRandom, SampleFirst, SampleAll:
		return p, nil
	default:
		return "", fmt.Errorf("unknown sampling policy %q", s)
	}
}

func (p SamplingPolicy) sample(tests []event.TestCase, pick func(n int) int) []event.TestCase {
	if len(tests) == 0 {
		return nil
	}
	switch p {
	case SampleFirst:
		return tests[:1]
	case SampleAll:
		return tests
	case SampleRandom:
		return []event.TestCase{tests[pick(len(tests))]}
	default:
		return []event.TestCase{tests[pick(len(tests))]}
	}
}

func randomPick(n int) int {
	return rand.IntN(n)
}
