// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/unstabling/internal/model"
)

// ErrVersionConflict は条件付き更新の時点でバージョンが一致しなかったことを表す。
// 呼び出し元は最新状態を読み直して再試行する。
var ErrVersionConflict = errors.New("投稿が同時に更新されました")

// VoteMutation は投票集合とスコアの条件付き更新内容。
// ExpectedVersion が永続化されたバージョンと一致する場合のみ適用される。
type VoteMutation struct {
	IdeaID          string
	ExpectedVersion int64
	Stable          []string
	Unstable        []string
	ScoreDelta      int
	UpdatedAt       time.Time
}

// ListQuery は一覧取得の条件。ParentIDが空の場合はトップレベルのみを対象にする。
type ListQuery struct {
	ParentID string
	Sort     model.SortMode
	Offset   int
	Limit    int
}

// IdeaRepository は投稿データの永続化インターフェース。
type IdeaRepository interface {
	// Create は投稿を作成する。
	Create(ctx context.Context, idea *model.Idea) error

	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Idea, error)

	// FindByIDs は指定IDの投稿をまとめて取得する。存在しないIDは結果に含まれない。
	// 返却順は保証しない。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Idea, error)

	// AppendReply は親投稿の返信リスト末尾に返信IDを追加し、更新後の親を返す。
	// 親が見つからない場合はnilを返す。
	AppendReply(ctx context.Context, parentID, replyID string) (*model.Idea, error)

	// UpdateVotes は投票集合の置き換えとスコアの加算を1回の条件付き書き込みで行い、
	// 更新後の投稿を返す。バージョンが一致しない場合はErrVersionConflictを返す。
	UpdateVotes(ctx context.Context, m VoteMutation) (*model.Idea, error)

	// List は並び順に従って投稿一覧を取得する。trendingは扱わない。
	List(ctx context.Context, q ListQuery) ([]*model.Idea, error)

	// Count はParentIDに一致する投稿数を返す。
	Count(ctx context.Context, parentID string) (int, error)

	// ListTrendingCandidates はsince以降に作成され、投票または返信が1件以上ある投稿を
	// 作成日時の新しい順に最大limit件返す。
	ListTrendingCandidates(ctx context.Context, parentID string, since time.Time, limit int) ([]*model.Idea, error)

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// ScoreRepository は定期スコア再計算に必要な投稿データ操作のインターフェース。
type ScoreRepository interface {
	// ListForRescore はafterIDより大きいIDの投稿をID昇順で最大limit件返す。
	ListForRescore(ctx context.Context, afterID string, limit int) ([]*model.Idea, error)

	// UpdateScores は再計算したスコアを書き込む。categoryが空の場合は既存値を維持する。
	UpdateScores(ctx context.Context, id string, controversial, engagement float64, category model.Category) error
}
