// Package feed は並び順とページ指定に従って投稿一覧を組み立てる。
package feed

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hitoshi/unstabling/internal/metrics"
	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/repository"
	"github.com/hitoshi/unstabling/internal/scoring"
	"github.com/hitoshi/unstabling/internal/thread"
)

// ページングとトレンド候補の既定値。
const (
	DefaultPageSize     = 20
	MaxPageSize         = 100
	DefaultCandidateCap = 200
	DefaultTrendWindow  = 7 * 24 * time.Hour
)

// Query は一覧取得の条件。ParentIDを指定した場合はその直下の返信を対象にする。
type Query struct {
	Sort     model.SortMode
	Page     int
	PageSize int
	ParentID string
}

// Page は組み立て済みの1ページ分の一覧。
type Page struct {
	Items    []*thread.Node
	Page     int
	PageSize int
	Total    int
	Pages    int
	HasMore  bool
}

// Assembler は投稿一覧を組み立てる。
// trending以外はストアの並び順に従い、trendingは期間内の候補をプロセス内で採点して並べる。
type Assembler struct {
	repo         repository.IdeaRepository
	tree         *thread.Builder
	metrics      metrics.MetricsCollector
	candidateCap int
	window       time.Duration
	now          func() time.Time
}

// Option はAssemblerの設定を変更する。
type Option func(*Assembler)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithCandidateCap はトレンド候補の上限件数を設定する。
func WithCandidateCap(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.candidateCap = n
		}
	}
}

// WithTrendWindow はトレンド候補の対象期間を設定する。
func WithTrendWindow(d time.Duration) Option {
	return func(a *Assembler) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(a *Assembler) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewAssembler はAssemblerを生成する。
func NewAssembler(repo repository.IdeaRepository, tree *thread.Builder, opts ...Option) *Assembler {
	a := &Assembler{
		repo:         repo,
		tree:         tree,
		metrics:      metrics.Nop{},
		candidateCap: DefaultCandidateCap,
		window:       DefaultTrendWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// normalize は並び順とページ指定を既定値で補正する。
func normalize(q Query) (Query, error) {
	if q.Sort == "" {
		q.Sort = model.SortScore
	}
	if !q.Sort.Valid() {
		return q, model.NewInvalidSortError(string(q.Sort))
	}
	if q.Sort == model.SortHot {
		q.Sort = model.SortScore
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	return q, nil
}

// ListTopLevel は指定の並び順で1ページ分の一覧を返す。各項目は返信ツリーを含む。
func (a *Assembler) ListTopLevel(ctx context.Context, q Query) (*Page, error) {
	q, err := normalize(q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { a.metrics.RecordFeedLatency(string(q.Sort), time.Since(start)) }()

	offset := (q.Page - 1) * q.PageSize

	var ideas []*model.Idea
	exhausted := false
	if q.Sort == model.SortTrending {
		ideas, exhausted, err = a.trending(ctx, q.ParentID, offset, q.PageSize)
	} else {
		ideas, err = a.repo.List(ctx, repository.ListQuery{
			ParentID: q.ParentID,
			Sort:     q.Sort,
			Offset:   offset,
			Limit:    q.PageSize,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}

	total, err := a.repo.Count(ctx, q.ParentID)
	if err != nil {
		return nil, fmt.Errorf("投稿数の取得に失敗しました: %w", err)
	}

	items, err := a.tree.MaterializeAll(ctx, ideas)
	if err != nil {
		return nil, err
	}

	pages := 0
	if total > 0 {
		pages = (total + q.PageSize - 1) / q.PageSize
	}

	return &Page{
		Items:    items,
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
		Pages:    pages,
		HasMore:  q.Page*q.PageSize < total && !exhausted,
	}, nil
}

// trending は期間内の候補を採点して並べ、offsetからlimit件を返す。
// 2つ目の戻り値は、このページ以降に候補が残っていない場合にtrueになる。
func (a *Assembler) trending(ctx context.Context, parentID string, offset, limit int) ([]*model.Idea, bool, error) {
	now := a.now()
	candidates, err := a.repo.ListTrendingCandidates(ctx, parentID, now.Add(-a.window), a.candidateCap)
	if err != nil {
		return nil, false, err
	}

	type scored struct {
		idea     *model.Idea
		trending float64
		hot      float64
	}
	ranked := make([]scored, len(candidates))
	for i, idea := range candidates {
		s := scoring.FromIdea(idea)
		ranked[i] = scored{idea: idea, trending: scoring.Trending(s, now), hot: scoring.Hot(s, now)}
	}
	slices.SortStableFunc(ranked, func(x, y scored) int {
		if c := compareDesc(x.trending, y.trending); c != 0 {
			return c
		}
		if c := compareDesc(x.hot, y.hot); c != 0 {
			return c
		}
		return y.idea.CreatedAt.Compare(x.idea.CreatedAt)
	})

	if offset >= len(ranked) {
		return nil, true, nil
	}
	end := min(offset+limit, len(ranked))
	ideas := make([]*model.Idea, 0, end-offset)
	for _, r := range ranked[offset:end] {
		ideas = append(ideas, r.idea)
	}
	return ideas, end >= len(ranked), nil
}

func compareDesc(x, y float64) int {
	switch {
	case x > y:
		return -1
	case x < y:
		return 1
	}
	return 0
}
