// Package scoring は投稿のランキング用スコアを計算する純粋関数群を提供する。
// いずれの関数も状態を変更せず、エラーを返さない。現在時刻は呼び出し元が渡す。
package scoring

import (
	"math"
	"time"

	"github.com/hitoshi/unstabling/internal/model"
)

// Snapshot はスコア計算に必要な投稿の状態。
type Snapshot struct {
	Score         int
	StableCount   int
	UnstableCount int
	ReplyCount    int
	CreatedAt     time.Time // ゼロ値の場合は経過時間0として扱う
}

// FromIdea は永続化された投稿からSnapshotを作る。
func FromIdea(idea *model.Idea) Snapshot {
	return Snapshot{
		Score:         idea.Score,
		StableCount:   len(idea.Votes.Stable),
		UnstableCount: len(idea.Votes.Unstable),
		ReplyCount:    len(idea.Replies),
		CreatedAt:     idea.CreatedAt,
	}
}

// Scores はある時点での全スコアをまとめたもの。
type Scores struct {
	Hot           float64 `json:"hot"`
	HackerNews    float64 `json:"hackerNews"`
	Controversial float64 `json:"controversial"`
	Engagement    float64 `json:"engagement"`
	Trending      float64 `json:"trending"`
	Quality       float64 `json:"quality"`
}

// Compute は同一のnowで全スコアを計算する。
func Compute(s Snapshot, now time.Time) Scores {
	return Scores{
		Hot:           Hot(s, now),
		HackerNews:    HackerNews(s, now),
		Controversial: Controversial(s),
		Engagement:    Engagement(s, now),
		Trending:      Trending(s, now),
		Quality:       Quality(s),
	}
}

// Hot は得票と経過時間の減衰、返信・投票数による加点を組み合わせたスコア。
func Hot(s Snapshot, now time.Time) float64 {
	h := ageHours(s.CreatedAt, now)
	decay := math.Pow(h+2, -1.5)
	replies := math.Log(float64(s.ReplyCount)+1) * 0.5
	votes := math.Log(float64(s.totalVotes())+1) * 0.3
	return float64(s.Score)*decay + replies + votes
}

// HackerNews は重力係数1.8で減衰するスコア。負のスコアは半分に抑える。
func HackerNews(s Snapshot, now time.Time) float64 {
	h := ageHours(s.CreatedAt, now)
	penalty := 1.0
	if s.Score < 0 {
		penalty = 0.5
	}
	return (float64(s.Score-1) / math.Pow(h+2, 1.8)) * penalty
}

// Controversial は票が拮抗しているほど高くなるスコア。総投票数3未満は0。
func Controversial(s Snapshot) float64 {
	total := s.totalVotes()
	if total < 3 {
		return 0
	}
	diff := s.StableCount - s.UnstableCount
	if diff < 0 {
		diff = -diff
	}
	return float64(total) / float64(diff+1)
}

// Engagement は投票と返信の量に新しさの倍率をかけたスコア。
func Engagement(s Snapshot, now time.Time) float64 {
	h := ageHours(s.CreatedAt, now)
	boost := 1.0
	switch {
	case h < 24:
		boost = 1.5
	case h < 168:
		boost = 1.2
	}
	return float64(s.totalVotes()*2+s.ReplyCount*3) * boost
}

// Trending は1時間あたりの得票速度と返信数に新しさの倍率をかけたスコア。
func Trending(s Snapshot, now time.Time) float64 {
	h := ageHours(s.CreatedAt, now)
	boost := 1.0
	switch {
	case h < 6:
		boost = 3
	case h < 24:
		boost = 2
	case h < 72:
		boost = 1.5
	}
	velocity := float64(s.totalVotes()) / math.Max(h, 1)
	return (velocity + float64(s.ReplyCount)*0.5) * boost
}

// Quality は「良い」票（unstable）の比率に返信による加点を加えたスコア。投票0件は0。
func Quality(s Snapshot) float64 {
	total := s.totalVotes()
	if total == 0 {
		return 0
	}
	ratio := float64(s.UnstableCount) / float64(total)
	return ratio*float64(total) + math.Log(float64(s.ReplyCount)+1)*0.3
}

func (s Snapshot) totalVotes() int {
	return s.StableCount + s.UnstableCount
}

// ageHours は作成からの経過時間を時間単位で返す。未来の作成日時は0に丸める。
func ageHours(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	h := now.Sub(createdAt).Hours()
	if h < 0 {
		return 0
	}
	return h
}
