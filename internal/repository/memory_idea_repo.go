package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/unstabling/internal/model"
)

// MemoryIdeaRepo はプロセス内メモリに投稿を保持するリポジトリ。
// DATABASE_URL=memory:// での起動とテストに使用する。PostgresIdeaRepoと同じ条件付き更新の意味論を持つ。
type MemoryIdeaRepo struct {
	mu    sync.RWMutex
	ideas map[string]*model.Idea
}

var (
	_ IdeaRepository  = (*MemoryIdeaRepo)(nil)
	_ ScoreRepository = (*MemoryIdeaRepo)(nil)
)

// NewMemoryIdeaRepo はMemoryIdeaRepoを生成する。
func NewMemoryIdeaRepo() *MemoryIdeaRepo {
	return &MemoryIdeaRepo{ideas: make(map[string]*model.Idea)}
}

// cloneIdea は呼び出し元との共有を避けるためスライスも含めて複製する。
func cloneIdea(idea *model.Idea) *model.Idea {
	c := *idea
	c.Tags = slices.Clone(idea.Tags)
	c.Replies = slices.Clone(idea.Replies)
	c.Votes = model.VoteSets{
		Stable:   slices.Clone(idea.Votes.Stable),
		Unstable: slices.Clone(idea.Votes.Unstable),
	}
	return &c
}

// Create は投稿を作成する。
func (r *MemoryIdeaRepo) Create(ctx context.Context, idea *model.Idea) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ideas[idea.ID] = cloneIdea(idea)
	return nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *MemoryIdeaRepo) FindByID(ctx context.Context, id string) (*model.Idea, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idea, ok := r.ideas[id]
	if !ok {
		return nil, nil
	}
	return cloneIdea(idea), nil
}

// FindByIDs は指定IDの投稿をまとめて取得する。
func (r *MemoryIdeaRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Idea, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Idea
	for _, id := range ids {
		if idea, ok := r.ideas[id]; ok {
			result = append(result, cloneIdea(idea))
		}
	}
	return result, nil
}

// AppendReply は親投稿の返信リスト末尾に返信IDを追加する。
func (r *MemoryIdeaRepo) AppendReply(ctx context.Context, parentID, replyID string) (*model.Idea, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.ideas[parentID]
	if !ok {
		return nil, nil
	}
	parent.Replies = append(parent.Replies, replyID)
	parent.UpdatedAt = time.Now()
	return cloneIdea(parent), nil
}

// UpdateVotes はバージョンが一致する場合のみ投票集合とスコアを更新する。
func (r *MemoryIdeaRepo) UpdateVotes(ctx context.Context, m VoteMutation) (*model.Idea, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idea, ok := r.ideas[m.IdeaID]
	if !ok {
		return nil, nil
	}
	if idea.Version != m.ExpectedVersion {
		return nil, ErrVersionConflict
	}

	idea.Votes = model.VoteSets{
		Stable:   slices.Clone(m.Stable),
		Unstable: slices.Clone(m.Unstable),
	}
	idea.Score += m.ScoreDelta
	idea.Version++
	idea.UpdatedAt = m.UpdatedAt
	return cloneIdea(idea), nil
}

// matching はParentIDに一致する投稿を返す。ロック取得済みで呼ぶこと。
func (r *MemoryIdeaRepo) matching(parentID string) []*model.Idea {
	var result []*model.Idea
	for _, idea := range r.ideas {
		if idea.ParentID == parentID {
			result = append(result, idea)
		}
	}
	return result
}

// compareCreatedDesc は作成日時の新しい順、同時刻はID昇順で比較する。
func compareCreatedDesc(a, b *model.Idea) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// List は並び順に従って投稿一覧を取得する。
func (r *MemoryIdeaRepo) List(ctx context.Context, q ListQuery) ([]*model.Idea, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ideas := r.matching(q.ParentID)
	slices.SortFunc(ideas, func(a, b *model.Idea) int {
		switch q.Sort {
		case model.SortNew:
		case model.SortControversial:
			if a.ControversialScore != b.ControversialScore {
				if a.ControversialScore > b.ControversialScore {
					return -1
				}
				return 1
			}
		default:
			if a.Score != b.Score {
				return b.Score - a.Score
			}
		}
		return compareCreatedDesc(a, b)
	})

	return pageOf(ideas, q.Offset, q.Limit), nil
}

func pageOf(ideas []*model.Idea, offset, limit int) []*model.Idea {
	if offset >= len(ideas) {
		return nil
	}
	end := len(ideas)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	result := make([]*model.Idea, 0, end-offset)
	for _, idea := range ideas[offset:end] {
		result = append(result, cloneIdea(idea))
	}
	return result
}

// Count はParentIDに一致する投稿数を返す。
func (r *MemoryIdeaRepo) Count(ctx context.Context, parentID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matching(parentID)), nil
}

// ListTrendingCandidates はトレンド計算の候補を取得する。
func (r *MemoryIdeaRepo) ListTrendingCandidates(ctx context.Context, parentID string, since time.Time, limit int) ([]*model.Idea, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*model.Idea
	for _, idea := range r.matching(parentID) {
		if idea.CreatedAt.Before(since) {
			continue
		}
		if idea.Votes.Total() == 0 && len(idea.Replies) == 0 {
			continue
		}
		candidates = append(candidates, idea)
	}
	slices.SortFunc(candidates, compareCreatedDesc)
	return pageOf(candidates, 0, limit), nil
}

// ListForRescore はafterIDより大きいIDの投稿をID昇順で返す。
func (r *MemoryIdeaRepo) ListForRescore(ctx context.Context, afterID string, limit int) ([]*model.Idea, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ideas []*model.Idea
	for id, idea := range r.ideas {
		if id > afterID {
			ideas = append(ideas, idea)
		}
	}
	slices.SortFunc(ideas, func(a, b *model.Idea) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return pageOf(ideas, 0, limit), nil
}

// UpdateScores は再計算したスコアを書き込む。
func (r *MemoryIdeaRepo) UpdateScores(ctx context.Context, id string, controversial, engagement float64, category model.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idea, ok := r.ideas[id]
	if !ok {
		return nil
	}
	idea.ControversialScore = controversial
	idea.EngagementScore = engagement
	if category != "" {
		idea.Category = category
	}
	return nil
}

// Ping は常に成功する。
func (r *MemoryIdeaRepo) Ping(ctx context.Context) error {
	return nil
}
