package rescore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/scoring"
)

type scoreUpdate struct {
	controversial float64
	engagement    float64
	category      model.Category
}

// mockScoreRepo はScoreRepositoryのモック。ideasはID昇順で保持する。
type mockScoreRepo struct {
	mu      sync.Mutex
	ideas   []*model.Idea
	updates map[string]scoreUpdate
	pages   int
	listErr error
	failIDs map[string]bool
}

func newMockScoreRepo(ideas ...*model.Idea) *mockScoreRepo {
	return &mockScoreRepo{ideas: ideas, updates: make(map[string]scoreUpdate), failIDs: make(map[string]bool)}
}

func (m *mockScoreRepo) ListForRescore(_ context.Context, afterID string, limit int) ([]*model.Idea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.pages++
	var out []*model.Idea
	for _, idea := range m.ideas {
		if idea.ID > afterID {
			out = append(out, idea)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockScoreRepo) UpdateScores(_ context.Context, id string, controversial, engagement float64, category model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[id] {
		return errors.New("write failed")
	}
	m.updates[id] = scoreUpdate{controversial, engagement, category}
	return nil
}

func (m *mockScoreRepo) pagesSeen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages
}

func newTestJob(repo *mockScoreRepo, now time.Time) (*Job, *bytes.Buffer) {
	var buf bytes.Buffer
	job := NewJob(repo, slog.New(slog.NewJSONHandler(&buf, nil)), nil)
	job.now = func() time.Time { return now }
	return job, &buf
}

func TestRunOnce_RecomputesAllIdeas(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &model.Idea{ID: "a", Title: "t", Content: "c", Category: model.CategoryTech,
		Votes: model.VoteSets{Stable: []string{"u1"}, Unstable: []string{"u2", "u3"}}, Score: 1, CreatedAt: now.Add(-2 * time.Hour)}
	b := &model.Idea{ID: "b", Title: "t", Content: "c", Category: model.CategoryGeneral, CreatedAt: now}
	repo := newMockScoreRepo(a, b)
	job, _ := newTestJob(repo, now)

	sum, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if sum != (Summary{Total: 2, Updated: 2}) {
		t.Errorf("Summary = %+v", sum)
	}

	snap := scoring.FromIdea(a)
	got := repo.updates["a"]
	if got.controversial != scoring.Controversial(snap) {
		t.Errorf("controversial = %v, want %v", got.controversial, scoring.Controversial(snap))
	}
	if got.engagement != scoring.Engagement(snap, now) {
		t.Errorf("engagement = %v, want %v", got.engagement, scoring.Engagement(snap, now))
	}
	// 既存カテゴリは上書きしない
	if got.category != "" {
		t.Errorf("category = %q, want empty (keep existing)", got.category)
	}
}

func TestRunOnce_BackfillsEmptyCategory(t *testing.T) {
	now := time.Now()
	repo := newMockScoreRepo(&model.Idea{ID: "a", Title: "bitcoin staking", Content: "yield", CreatedAt: now})
	job, _ := newTestJob(repo, now)

	if _, err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if got := repo.updates["a"].category; got != model.CategoryCrypto {
		t.Errorf("category = %q, want crypto", got)
	}
}

// TestRunOnce_PagesByKeyset はバッチサイズ単位でページングすることを検証する。
func TestRunOnce_PagesByKeyset(t *testing.T) {
	now := time.Now()
	var ideas []*model.Idea
	for i := 0; i < 7; i++ {
		ideas = append(ideas, &model.Idea{ID: fmt.Sprintf("id-%02d", i), Category: model.CategoryGeneral, CreatedAt: now})
	}
	repo := newMockScoreRepo(ideas...)
	job, _ := newTestJob(repo, now)
	job.BatchSize = 3

	sum, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if sum.Total != 7 || sum.Updated != 7 {
		t.Errorf("Summary = %+v, want 7 total and updated", sum)
	}
	if repo.pages != 3 {
		t.Errorf("pages = %d, want 3", repo.pages)
	}
}

func TestRunOnce_CountsWriteErrors(t *testing.T) {
	now := time.Now()
	repo := newMockScoreRepo(
		&model.Idea{ID: "a", Category: model.CategoryGeneral, CreatedAt: now},
		&model.Idea{ID: "b", Category: model.CategoryGeneral, CreatedAt: now},
	)
	repo.failIDs["a"] = true
	job, buf := newTestJob(repo, now)

	sum, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if sum != (Summary{Total: 2, Updated: 1, Errors: 1}) {
		t.Errorf("Summary = %+v", sum)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"idea_id":"a"`)) {
		t.Errorf("log should mention failed idea: %s", buf.String())
	}
}

func TestRunOnce_ListError(t *testing.T) {
	repo := newMockScoreRepo()
	repo.listErr = errors.New("db down")
	job, _ := newTestJob(repo, time.Now())

	if _, err := job.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunOnce_CanceledContext(t *testing.T) {
	repo := newMockScoreRepo(&model.Idea{ID: "a", CreatedAt: time.Now()})
	job, _ := newTestJob(repo, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := job.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// TestStart_RunsImmediatelyAndStops は起動直後の1回実行とキャンセルでの停止を検証する。
func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	now := time.Now()
	repo := newMockScoreRepo(&model.Idea{ID: "a", Category: model.CategoryGeneral, CreatedAt: now})
	job, _ := newTestJob(repo, now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if repo.pagesSeen() > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Start did not run immediately")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not stop after cancel")
	}
}
