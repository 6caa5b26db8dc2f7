package repository_test

import (
	"context"
	"testing"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/solution/model"
	"judgeflow/internal/solution/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubRepo struct {
	repository.SubmissionRepository
	row   model.Submission
	reads int
}

func (s *stubRepo) GetByID(_ context.Context, id string) (*model.Submission, error) {
	s.reads++
	if id != s.row.ID {
		return nil, repository.ErrSubmissionNotFound
	}
	cp := s.row
	return &cp, nil
}

func (s *stubRepo) CompleteIfPending(_ context.Context, id string, t model.Transition) (bool, error) {
	if id != s.row.ID || s.row.Status != model.StatusPending {
		return false, nil
	}
	s.row.Status = t.Status
	s.row.Feedback = t.Feedback
	return true, nil
}

// markScored stands in for the progress transaction flipping the flag.
func (s *stubRepo) markScored() {
	s.row.ProgressApplied = true
}

func newCachedRepo(t *testing.T, inner *stubRepo) (*repository.CachedSubmissionRepository, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return repository.NewCachedSubmissionRepository(inner, c, time.Hour), srv
}

func TestCachedRepositorySkipsPendingSubmissions(t *testing.T) {
	inner := &stubRepo{row: model.Submission{ID: "s-1", UserID: "u-1", Status: model.StatusPending}}
	repo, srv := newCachedRepo(t, inner)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := repo.GetByID(ctx, "s-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.reads != 2 {
		t.Fatalf("expected every pending read to hit the database, got %d", inner.reads)
	}
	if srv.Exists("solution:s-1") {
		t.Fatalf("pending submission must not be cached")
	}
}

func TestCachedRepositoryServesScoredSubmissions(t *testing.T) {
	inner := &stubRepo{row: model.Submission{ID: "s-2", UserID: "u-1", Status: model.StatusPending}}
	repo, srv := newCachedRepo(t, inner)
	ctx := context.Background()

	ok, err := repo.CompleteIfPending(ctx, "s-2", model.Transition{Status: model.StatusSuccess, Feedback: "Accepted"})
	if err != nil || !ok {
		t.Fatalf("expected transition, got %v (%v)", ok, err)
	}
	inner.markScored()
	for i := 0; i < 3; i++ {
		got, err := repo.GetByID(ctx, "s-2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != model.StatusSuccess || got.Feedback != "Accepted" {
			t.Fatalf("unexpected submission %+v", got)
		}
	}
	if inner.reads != 1 {
		t.Fatalf("expected a single database read, got %d", inner.reads)
	}
	if !srv.Exists("solution:s-2") {
		t.Fatalf("expected terminal submission in cache")
	}
}

func TestCachedRepositoryWaitsForScoringFlag(t *testing.T) {
	inner := &stubRepo{row: model.Submission{ID: "s-5", UserID: "u-1", Status: model.StatusPending}}
	repo, srv := newCachedRepo(t, inner)
	ctx := context.Background()

	if _, err := repo.CompleteIfPending(ctx, "s-5", model.Transition{Status: model.StatusFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := repo.GetByID(ctx, "s-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ProgressApplied {
		t.Fatalf("expected unscored submission")
	}
	if srv.Exists("solution:s-5") {
		t.Fatalf("unscored submission must not be cached")
	}

	inner.markScored()
	got, err = repo.GetByID(ctx, "s-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.ProgressApplied {
		t.Fatalf("expected the flag flip to be visible, got %+v", got)
	}
	if !srv.Exists("solution:s-5") {
		t.Fatalf("expected scored submission in cache")
	}
}

func TestCachedRepositoryCachesUnavailableSubmissions(t *testing.T) {
	inner := &stubRepo{row: model.Submission{ID: "s-6", UserID: "u-1", Status: model.StatusServiceUnavailable}}
	repo, srv := newCachedRepo(t, inner)
	if _, err := repo.GetByID(context.Background(), "s-6"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !srv.Exists("solution:s-6") {
		t.Fatalf("expected SERVICE_UNAVAILABLE submission in cache")
	}
}

func TestCachedRepositoryDropsEntryOnTransition(t *testing.T) {
	inner := &stubRepo{row: model.Submission{ID: "s-3", UserID: "u-1", Status: model.StatusPending}}
	repo, srv := newCachedRepo(t, inner)
	ctx := context.Background()

	if err := srv.Set("solution:s-3", `{"id":"s-3","status":"PENDING"}`); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := repo.CompleteIfPending(ctx, "s-3", model.Transition{Status: model.StatusFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Exists("solution:s-3") {
		t.Fatalf("expected cache entry to be dropped")
	}
}

func TestCachedRepositoryPropagatesNotFound(t *testing.T) {
	inner := &stubRepo{row: model.Submission{ID: "s-4"}}
	repo, _ := newCachedRepo(t, inner)
	if _, err := repo.GetByID(context.Background(), "missing"); err != repository.ErrSubmissionNotFound {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}
