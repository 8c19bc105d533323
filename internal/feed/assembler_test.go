package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/repository"
	"github.com/hitoshi/unstabling/internal/thread"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAssembler(repo *repository.MemoryIdeaRepo, opts ...Option) *Assembler {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewAssembler(repo, thread.NewBuilder(repo), opts...)
}

func seed(t *testing.T, repo *repository.MemoryIdeaRepo, idea *model.Idea) {
	t.Helper()
	if idea.Status == "" {
		idea.Status = model.StatusActive
	}
	if err := repo.Create(context.Background(), idea); err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func itemIDs(p *Page) []string {
	out := make([]string, len(p.Items))
	for i, n := range p.Items {
		out[i] = n.Idea.ID
	}
	return out
}

func voters(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("v%d", i)
	}
	return out
}

func TestListTopLevel_SortModes(t *testing.T) {
	repo := repository.NewMemoryIdeaRepo()
	seed(t, repo, &model.Idea{ID: "a", Score: 1, ControversialScore: 5, CreatedAt: now.Add(-3 * time.Hour)})
	seed(t, repo, &model.Idea{ID: "b", Score: 7, ControversialScore: 1, CreatedAt: now.Add(-2 * time.Hour)})
	seed(t, repo, &model.Idea{ID: "c", Score: 4, ControversialScore: 9, CreatedAt: now.Add(-1 * time.Hour)})
	seed(t, repo, &model.Idea{ID: "reply", ParentID: "a", Score: 50, CreatedAt: now})
	a := newAssembler(repo)

	tests := []struct {
		sort model.SortMode
		want string
	}{
		{model.SortNew, "[c b a]"},
		{model.SortScore, "[b c a]"},
		{model.SortHot, "[b c a]"},
		{"", "[b c a]"},
		{model.SortControversial, "[c a b]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.sort), func(t *testing.T) {
			page, err := a.ListTopLevel(context.Background(), Query{Sort: tt.sort})
			if err != nil {
				t.Fatalf("ListTopLevel error: %v", err)
			}
			if got := fmt.Sprint(itemIDs(page)); got != tt.want {
				t.Errorf("order = %s, want %s", got, tt.want)
			}
			if page.Total != 3 {
				t.Errorf("Total = %d, want 3 (replies excluded)", page.Total)
			}
		})
	}
}

func TestListTopLevel_InvalidSort(t *testing.T) {
	a := newAssembler(repository.NewMemoryIdeaRepo())

	_, err := a.ListTopLevel(context.Background(), Query{Sort: "random"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidSort {
		t.Errorf("err = %v, want INVALID_SORT", err)
	}
}

func TestListTopLevel_PagingDefaultsAndClamp(t *testing.T) {
	repo := repository.NewMemoryIdeaRepo()
	for i := 0; i < 45; i++ {
		seed(t, repo, &model.Idea{ID: fmt.Sprintf("i%02d", i), CreatedAt: now.Add(-time.Duration(i) * time.Minute)})
	}
	a := newAssembler(repo)
	ctx := context.Background()

	page, err := a.ListTopLevel(ctx, Query{Sort: model.SortNew})
	if err != nil {
		t.Fatalf("ListTopLevel error: %v", err)
	}
	if page.Page != 1 || page.PageSize != 20 || len(page.Items) != 20 || page.Pages != 3 || !page.HasMore {
		t.Errorf("default page = %+v", page)
	}

	last, _ := a.ListTopLevel(ctx, Query{Sort: model.SortNew, Page: 3, PageSize: 20})
	if len(last.Items) != 5 || last.HasMore {
		t.Errorf("last page: items=%d hasMore=%v, want 5/false", len(last.Items), last.HasMore)
	}

	clamped, _ := a.ListTopLevel(ctx, Query{Sort: model.SortNew, Page: -4, PageSize: 1000})
	if clamped.PageSize != MaxPageSize || clamped.Page != 1 || len(clamped.Items) != 45 || clamped.HasMore {
		t.Errorf("clamped page = page %d size %d items %d hasMore %v", clamped.Page, clamped.PageSize, len(clamped.Items), clamped.HasMore)
	}
}

func TestListTopLevel_ParentIDListsChildren(t *testing.T) {
	repo := repository.NewMemoryIdeaRepo()
	seed(t, repo, &model.Idea{ID: "p", Replies: []string{"c1", "c2"}, CreatedAt: now})
	seed(t, repo, &model.Idea{ID: "c1", ParentID: "p", Score: 1, CreatedAt: now})
	seed(t, repo, &model.Idea{ID: "c2", ParentID: "p", Score: 2, CreatedAt: now})
	a := newAssembler(repo)

	page, err := a.ListTopLevel(context.Background(), Query{ParentID: "p"})
	if err != nil {
		t.Fatalf("ListTopLevel error: %v", err)
	}
	if got := fmt.Sprint(itemIDs(page)); got != "[c2 c1]" {
		t.Errorf("children = %s, want [c2 c1]", got)
	}
}

// TestListTopLevel_MaterializesReplies は一覧の各項目が返信ツリーを含むことを検証する。
func TestListTopLevel_MaterializesReplies(t *testing.T) {
	repo := repository.NewMemoryIdeaRepo()
	seed(t, repo, &model.Idea{ID: "root", Replies: []string{"r"}, CreatedAt: now})
	seed(t, repo, &model.Idea{ID: "r", ParentID: "root", CreatedAt: now})
	a := newAssembler(repo)

	page, _ := a.ListTopLevel(context.Background(), Query{Sort: model.SortNew})
	if len(page.Items) != 1 || len(page.Items[0].Children) != 1 || page.Items[0].Children[0].Idea.ID != "r" {
		t.Errorf("page items = %+v", page.Items)
	}
}

func TestListTopLevel_TrendingRanking(t *testing.T) {
	repo := repository.NewMemoryIdeaRepo()
	// 速度が高い新しい投稿
	seed(t, repo, &model.Idea{ID: "fast", Votes: model.VoteSets{Unstable: voters(6)}, Score: 6, CreatedAt: now.Add(-2 * time.Hour)})
	// 古く票の多い投稿
	seed(t, repo, &model.Idea{ID: "slow", Votes: model.VoteSets{Unstable: voters(20)}, Score: 20, CreatedAt: now.Add(-100 * time.Hour)})
	// 期間外
	seed(t, repo, &model.Idea{ID: "ancient", Votes: model.VoteSets{Unstable: voters(500)}, Score: 500, CreatedAt: now.Add(-30 * 24 * time.Hour)})
	// 反応なし
	seed(t, repo, &model.Idea{ID: "quiet", CreatedAt: now})
	a := newAssembler(repo)

	page, err := a.ListTopLevel(context.Background(), Query{Sort: model.SortTrending})
	if err != nil {
		t.Fatalf("ListTopLevel error: %v", err)
	}
	if got := fmt.Sprint(itemIDs(page)); got != "[fast slow]" {
		t.Errorf("trending order = %s, want [fast slow]", got)
	}
	// Totalは条件に一致する全件数
	if page.Total != 4 {
		t.Errorf("Total = %d, want 4", page.Total)
	}
	if page.HasMore {
		t.Error("HasMore = true, want false once candidates are exhausted")
	}
}

// TestListTopLevel_TrendingBoundedByCandidateCap はトレンドの結果が候補上限を超えないことを検証する。
func TestListTopLevel_TrendingBoundedByCandidateCap(t *testing.T) {
	repo := repository.NewMemoryIdeaRepo()
	for i := 0; i < 30; i++ {
		seed(t, repo, &model.Idea{
			ID:        fmt.Sprintf("t%02d", i),
			Votes:     model.VoteSets{Unstable: voters(i + 1)},
			Score:     i + 1,
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	a := newAssembler(repo, WithCandidateCap(12))
	ctx := context.Background()

	seen := 0
	for p := 1; p <= 5; p++ {
		page, err := a.ListTopLevel(ctx, Query{Sort: model.SortTrending, Page: p, PageSize: 5})
		if err != nil {
			t.Fatalf("page %d: ListTopLevel error: %v", p, err)
		}
		seen += len(page.Items)
		if p == 3 && page.HasMore {
			t.Error("page 3: HasMore = true, want false at candidate cap")
		}
	}
	if seen != 12 {
		t.Errorf("items across pages = %d, want 12", seen)
	}
}

func TestListTopLevel_TrendingTieBreaksByHot(t *testing.T) {
	repo := repository.NewMemoryIdeaRepo()
	// 同じ経過時間・票数で、スコア（stable/unstableの内訳）だけが異なる
	seed(t, repo, &model.Idea{ID: "bad", Votes: model.VoteSets{Stable: voters(2)}, Score: -2, CreatedAt: now.Add(-time.Hour)})
	seed(t, repo, &model.Idea{ID: "good", Votes: model.VoteSets{Unstable: voters(2)}, Score: 2, CreatedAt: now.Add(-time.Hour)})
	a := newAssembler(repo)

	page, _ := a.ListTopLevel(context.Background(), Query{Sort: model.SortTrending})
	if got := fmt.Sprint(itemIDs(page)); got != "[good bad]" {
		t.Errorf("order = %s, want [good bad]", got)
	}
}
