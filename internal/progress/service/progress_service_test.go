package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"

	"judgeflow/internal/progress/model"
	"judgeflow/internal/progress/repository"
	"judgeflow/internal/task"
	appErr "judgeflow/pkg/errors"
)

type memoryConfidence struct {
	mu      sync.Mutex
	claimed map[string]bool
	values  map[string]map[string]float64
	err     error
}

func newMemoryConfidence() *memoryConfidence {
	return &memoryConfidence{claimed: make(map[string]bool), values: make(map[string]map[string]float64)}
}

func (m *memoryConfidence) ApplyOnce(_ context.Context, submissionID, userID string, topics []string, update repository.UpdateFunc) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.claimed[submissionID] {
		return false, nil
	}
	m.claimed[submissionID] = true
	if m.values[userID] == nil {
		m.values[userID] = make(map[string]float64)
	}
	for _, topic := range topics {
		old, ok := m.values[userID][topic]
		if !ok {
			old = model.DefaultConfidence
		}
		m.values[userID][topic] = model.Clamp(update(topic, old))
	}
	return true, nil
}

func (m *memoryConfidence) ListByUser(_ context.Context, userID string) ([]model.TopicConfidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TopicConfidence
	for topic, c := range m.values[userID] {
		out = append(out, model.TopicConfidence{UserID: userID, Topic: topic, Confidence: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

func (m *memoryConfidence) Weakest(ctx context.Context, userID string, n int) ([]model.TopicConfidence, error) {
	all, _ := m.ListByUser(ctx, userID)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Confidence < all[j].Confidence })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *memoryConfidence) value(userID, topic string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[userID][topic]
}

type fakeTasks struct {
	byTags     []task.Task
	random     []task.Task
	gotTags    []string
	gotCount   int
	randomHits int
	err        error
}

func (f *fakeTasks) ListByTags(_ context.Context, tags []string, count int) ([]task.Task, error) {
	f.gotTags = tags
	f.gotCount = count
	return f.byTags, f.err
}

func (f *fakeTasks) Random(_ context.Context, count int) ([]task.Task, error) {
	f.randomHits++
	f.gotCount = count
	return f.random, f.err
}

func newTestService(t *testing.T, repo *memoryConfidence, tasks *fakeTasks) *ProgressService {
	t.Helper()
	svc, err := NewProgressService(Config{Repo: repo, Tasks: tasks})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	return svc
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestApplyVerdictHardSuccess(t *testing.T) {
	t.Parallel()
	repo := newMemoryConfidence()
	svc := newTestService(t, repo, &fakeTasks{})
	hard := &task.Task{ID: "t-1", Difficulty: task.DifficultyHard, Tags: []string{"graphs"}}

	if err := svc.ApplyVerdict(context.Background(), "u-1", "s-1", hard, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.value("u-1", "graphs"); !near(got, 0.56) {
		t.Fatalf("expected 0.56, got %v", got)
	}
}

func TestApplyVerdictMultiTagFailure(t *testing.T) {
	t.Parallel()
	repo := newMemoryConfidence()
	svc := newTestService(t, repo, &fakeTasks{})
	medium := &task.Task{ID: "t-2", Difficulty: task.DifficultyMedium, Tags: []string{"loops", "arrays", "loops"}}

	if err := svc.ApplyVerdict(context.Background(), "u-1", "s-2", medium, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, topic := range []string{"loops", "arrays"} {
		if got := repo.value("u-1", topic); !near(got, 0.475) {
			t.Fatalf("expected 0.475 for %s, got %v", topic, got)
		}
	}
}

func TestApplyVerdictIsIdempotentPerSubmission(t *testing.T) {
	t.Parallel()
	repo := newMemoryConfidence()
	svc := newTestService(t, repo, &fakeTasks{})
	easy := &task.Task{ID: "t-3", Difficulty: task.DifficultyEasy, Tags: []string{"strings"}}

	for i := 0; i < 3; i++ {
		if err := svc.ApplyVerdict(context.Background(), "u-1", "s-3", easy, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := repo.value("u-1", "strings"); !near(got, 0.54) {
		t.Fatalf("expected a single application (0.54), got %v", got)
	}
}

func TestApplyVerdictWrapsStoreErrors(t *testing.T) {
	t.Parallel()
	repo := newMemoryConfidence()
	repo.err = errors.New("deadlock")
	svc := newTestService(t, repo, &fakeTasks{})
	err := svc.ApplyVerdict(context.Background(), "u-1", "s-4", &task.Task{Tags: []string{"x"}}, true)
	if !appErr.Is(err, appErr.ProgressUpdateFailed) {
		t.Fatalf("expected ProgressUpdateFailed, got %v", err)
	}
}

func TestRecommendWithoutHistoryUsesRandomPool(t *testing.T) {
	t.Parallel()
	tasks := &fakeTasks{random: []task.Task{
		{ID: "hard", Difficulty: task.DifficultyHard, Tags: []string{"dp"}},
		{ID: "easy", Difficulty: task.DifficultyEasy, Tags: []string{"dp"}},
	}}
	svc := newTestService(t, newMemoryConfidence(), tasks)

	got, err := svc.Recommend(context.Background(), "new-user", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tasks.randomHits != 1 || tasks.gotCount != 30 {
		t.Fatalf("expected one random pool of 30, got hits=%d count=%d", tasks.randomHits, tasks.gotCount)
	}
	if len(got) != 2 || got[0].ID != "easy" {
		t.Fatalf("expected easy task first, got %+v", got)
	}
}

func TestRecommendRanksWeakTopics(t *testing.T) {
	t.Parallel()
	repo := newMemoryConfidence()
	repo.values["u-1"] = map[string]float64{"loops": 0.2, "arrays": 0.9, "graphs": 0.4, "math": 0.95}
	tasks := &fakeTasks{byTags: []task.Task{
		{ID: "arrays-medium", Difficulty: task.DifficultyMedium, Tags: []string{"arrays"}},
		{ID: "loops-hard", Difficulty: task.DifficultyHard, Tags: []string{"loops"}},
		{ID: "loops-medium", Difficulty: task.DifficultyMedium, Tags: []string{"loops"}},
		{ID: "graphs-new", Difficulty: task.DifficultyMedium, Tags: []string{"graphs", "trees"}},
		{ID: "loops-medium-2", Difficulty: task.DifficultyMedium, Tags: []string{"loops"}},
	}}
	svc := newTestService(t, repo, tasks)

	got, err := svc.Recommend(context.Background(), "u-1", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks.gotTags) != 3 || tasks.gotTags[0] != "loops" || tasks.gotTags[1] != "graphs" || tasks.gotTags[2] != "arrays" {
		t.Fatalf("expected 3 weakest tags ascending, got %v", tasks.gotTags)
	}
	want := []string{"loops-medium", "loops-medium-2", "loops-hard", "graphs-new"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("expected order %v, got %v at %d", want, got[i].ID, i)
		}
	}
}

func TestRecommendLimitBounds(t *testing.T) {
	t.Parallel()
	pool := make([]task.Task, 60)
	for i := range pool {
		pool[i] = task.Task{ID: string(rune('a' + i%26)), Difficulty: task.DifficultyMedium}
	}
	svc := newTestService(t, newMemoryConfidence(), &fakeTasks{random: pool})

	got, err := svc.Recommend(context.Background(), "u-1", 10)
	if err != nil || len(got) != 10 {
		t.Fatalf("expected 10 tasks, got %d (%v)", len(got), err)
	}
	for _, limit := range []int{0, -1, 11, 500} {
		if _, err := svc.Recommend(context.Background(), "u-1", limit); !appErr.Is(err, appErr.ValidationFailed) {
			t.Fatalf("expected validation error for limit %d, got %v", limit, err)
		}
	}
}

func TestRecommendPropagatesCatalogErrors(t *testing.T) {
	t.Parallel()
	tasks := &fakeTasks{err: appErr.New(appErr.ServiceUnavailable)}
	svc := newTestService(t, newMemoryConfidence(), tasks)
	if _, err := svc.Recommend(context.Background(), "u-1", 5); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}

func TestConfidencesNeverNil(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newMemoryConfidence(), &fakeTasks{})
	list, err := svc.Confidences(context.Background(), "u-1")
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("expected empty list, got %v (%v)", list, err)
	}
	if _, err := svc.Confidences(context.Background(), " "); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
