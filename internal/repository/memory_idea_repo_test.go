package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/unstabling/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedIdea(t *testing.T, r *MemoryIdeaRepo, id, parentID string, score int, createdAt time.Time) *model.Idea {
	t.Helper()
	idea := &model.Idea{
		ID:        id,
		Title:     "title " + id,
		Content:   "content",
		Score:     score,
		ParentID:  parentID,
		Status:    model.StatusActive,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := r.Create(context.Background(), idea); err != nil {
		t.Fatalf("Create(%s) error: %v", id, err)
	}
	return idea
}

func ids(ideas []*model.Idea) []string {
	out := make([]string, len(ideas))
	for i, idea := range ideas {
		out[i] = idea.ID
	}
	return out
}

// TestMemoryIdeaRepo_UpdateVotes_VersionCheck は期待バージョン不一致で更新されないことを検証する。
func TestMemoryIdeaRepo_UpdateVotes_VersionCheck(t *testing.T) {
	r := NewMemoryIdeaRepo()
	seedIdea(t, r, "a", "", 0, t0)
	ctx := context.Background()

	updated, err := r.UpdateVotes(ctx, VoteMutation{IdeaID: "a", ExpectedVersion: 0, Unstable: []string{"u1"}, ScoreDelta: 1, UpdatedAt: t0})
	if err != nil {
		t.Fatalf("UpdateVotes error: %v", err)
	}
	if updated.Score != 1 || updated.Version != 1 {
		t.Errorf("updated = score %d version %d, want 1/1", updated.Score, updated.Version)
	}

	_, err = r.UpdateVotes(ctx, VoteMutation{IdeaID: "a", ExpectedVersion: 0, Stable: []string{"u2"}, ScoreDelta: -1, UpdatedAt: t0})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	got, _ := r.FindByID(ctx, "a")
	if got.Score != 1 || len(got.Votes.Stable) != 0 {
		t.Errorf("stale write was applied: %+v", got)
	}

	// 古いバージョンに基づく付け替え（unstable→stable）も反映されない
	_, err = r.UpdateVotes(ctx, VoteMutation{IdeaID: "a", ExpectedVersion: 0, Stable: []string{"u1"}, Unstable: []string{}, ScoreDelta: -2, UpdatedAt: t0})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale flip: err = %v, want ErrVersionConflict", err)
	}
	got, _ = r.FindByID(ctx, "a")
	if got.Score != 1 || len(got.Votes.Stable) != 0 || len(got.Votes.Unstable) != 1 || got.Version != 1 {
		t.Errorf("stale flip was applied: %+v", got)
	}

	// 最新バージョンでの付け替えは集合とスコアを同時に更新する
	flipped, err := r.UpdateVotes(ctx, VoteMutation{IdeaID: "a", ExpectedVersion: 1, Stable: []string{"u1"}, Unstable: []string{}, ScoreDelta: -2, UpdatedAt: t0})
	if err != nil {
		t.Fatalf("flip error: %v", err)
	}
	if flipped.Score != -1 || flipped.Version != 2 || len(flipped.Votes.Stable) != 1 || len(flipped.Votes.Unstable) != 0 {
		t.Errorf("flipped = %+v, want score -1 version 2 with u1 in stable only", flipped)
	}
}

func TestMemoryIdeaRepo_UpdateVotes_NotFound(t *testing.T) {
	r := NewMemoryIdeaRepo()
	got, err := r.UpdateVotes(context.Background(), VoteMutation{IdeaID: "missing"})
	if err != nil || got != nil {
		t.Errorf("UpdateVotes(missing) = %v, %v; want nil, nil", got, err)
	}
}

// TestMemoryIdeaRepo_ReturnsCopies は返却値の変更がストアに影響しないことを検証する。
func TestMemoryIdeaRepo_ReturnsCopies(t *testing.T) {
	r := NewMemoryIdeaRepo()
	seedIdea(t, r, "a", "", 0, t0)

	got, _ := r.FindByID(context.Background(), "a")
	got.Votes.Stable = append(got.Votes.Stable, "x")
	got.Score = 99

	again, _ := r.FindByID(context.Background(), "a")
	if again.Score != 0 || len(again.Votes.Stable) != 0 {
		t.Errorf("store was mutated through returned value: %+v", again)
	}
}

func TestMemoryIdeaRepo_List_Sorts(t *testing.T) {
	r := NewMemoryIdeaRepo()
	seedIdea(t, r, "old-high", "", 5, t0.Add(-3*time.Hour))
	seedIdea(t, r, "new-low", "", 1, t0)
	seedIdea(t, r, "mid-high", "", 5, t0.Add(-1*time.Hour))
	seedIdea(t, r, "reply", "old-high", 100, t0)
	ctx := context.Background()

	byScore, _ := r.List(ctx, ListQuery{Sort: model.SortScore, Limit: 10})
	if got, want := fmt.Sprint(ids(byScore)), "[mid-high old-high new-low]"; got != want {
		t.Errorf("score order = %s, want %s", got, want)
	}

	byNew, _ := r.List(ctx, ListQuery{Sort: model.SortNew, Limit: 2, Offset: 1})
	if got, want := fmt.Sprint(ids(byNew)), "[mid-high old-high]"; got != want {
		t.Errorf("new order (offset 1) = %s, want %s", got, want)
	}

	children, _ := r.List(ctx, ListQuery{ParentID: "old-high", Sort: model.SortNew, Limit: 10})
	if got, want := fmt.Sprint(ids(children)), "[reply]"; got != want {
		t.Errorf("children = %s, want %s", got, want)
	}

	if n, _ := r.Count(ctx, ""); n != 3 {
		t.Errorf("Count(top) = %d, want 3", n)
	}
}

func TestMemoryIdeaRepo_ListTrendingCandidates(t *testing.T) {
	r := NewMemoryIdeaRepo()
	ctx := context.Background()

	voted := seedIdea(t, r, "voted", "", 0, t0.Add(-time.Hour))
	_, _ = r.UpdateVotes(ctx, VoteMutation{IdeaID: voted.ID, Unstable: []string{"u"}, ScoreDelta: 1, UpdatedAt: t0})
	seedIdea(t, r, "silent", "", 0, t0)
	stale := seedIdea(t, r, "stale", "", 0, t0.Add(-10*24*time.Hour))
	_, _ = r.UpdateVotes(ctx, VoteMutation{IdeaID: stale.ID, Unstable: []string{"u"}, ScoreDelta: 1, UpdatedAt: t0})
	replied := seedIdea(t, r, "replied", "", 0, t0.Add(-2*time.Hour))
	_, _ = r.AppendReply(ctx, replied.ID, "r1")

	got, err := r.ListTrendingCandidates(ctx, "", t0.Add(-7*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListTrendingCandidates error: %v", err)
	}
	if s, want := fmt.Sprint(ids(got)), "[voted replied]"; s != want {
		t.Errorf("candidates = %s, want %s", s, want)
	}

	limited, _ := r.ListTrendingCandidates(ctx, "", t0.Add(-7*24*time.Hour), 1)
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestMemoryIdeaRepo_AppendReply(t *testing.T) {
	r := NewMemoryIdeaRepo()
	seedIdea(t, r, "p", "", 0, t0)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		if _, err := r.AppendReply(ctx, "p", id); err != nil {
			t.Fatalf("AppendReply error: %v", err)
		}
	}
	p, _ := r.FindByID(ctx, "p")
	if got := fmt.Sprint(p.Replies); got != "[r1 r2]" {
		t.Errorf("Replies = %s, want [r1 r2]", got)
	}

	missing, err := r.AppendReply(ctx, "nope", "r3")
	if err != nil || missing != nil {
		t.Errorf("AppendReply(missing parent) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryIdeaRepo_RescoreKeyset(t *testing.T) {
	r := NewMemoryIdeaRepo()
	for _, id := range []string{"c", "a", "b"} {
		seedIdea(t, r, id, "", 0, t0)
	}
	ctx := context.Background()

	first, _ := r.ListForRescore(ctx, "", 2)
	if got := fmt.Sprint(ids(first)); got != "[a b]" {
		t.Errorf("first batch = %s, want [a b]", got)
	}
	second, _ := r.ListForRescore(ctx, "b", 2)
	if got := fmt.Sprint(ids(second)); got != "[c]" {
		t.Errorf("second batch = %s, want [c]", got)
	}

	if err := r.UpdateScores(ctx, "a", 2.5, 10, ""); err != nil {
		t.Fatalf("UpdateScores error: %v", err)
	}
	a, _ := r.FindByID(ctx, "a")
	if a.ControversialScore != 2.5 || a.EngagementScore != 10 {
		t.Errorf("scores = %v/%v, want 2.5/10", a.ControversialScore, a.EngagementScore)
	}
}
