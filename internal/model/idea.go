package model

import "time"

// 投稿本文・タイトルの上限（文字数）。
const (
	MaxTitleLength   = 200
	MaxContentLength = 600
)

// Idea はフォーラムへの投稿を表す。返信も親を持つIdeaとして表現する。
type Idea struct {
	ID       string
	Title    string
	Content  string
	Tags     []string
	Author   Author
	Votes    VoteSets
	Score    int
	Category Category
	Status   IdeaStatus
	ParentID string   // 空文字列はトップレベル
	Replies  []string // 返信IDを作成順に保持する

	// 定期再計算されるスコア。リアルタイム整合は保証しない。
	ControversialScore float64
	EngagementScore    float64

	// Version は楽観的排他制御のためのバージョン。投票の書き込みごとに加算される。
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Author は投稿者の仮名情報。作成後は変更しない。
type Author struct {
	UserID string
	Name   string
	Handle string
	Avatar string
}

// AnonymousAuthor は投稿者情報が省略された場合の既定値を返す。
func AnonymousAuthor(name string) Author {
	if name == "" {
		name = "DEGEN"
	}
	return Author{UserID: "anonymous", Name: name, Handle: name}
}

// VoteSets は投票者IDの2つの集合。同一投票者はどちらか一方にしか含まれない。
type VoteSets struct {
	Stable   []string
	Unstable []string
}

// Has は投票者が指定方向に投票済みかを返す。
func (v VoteSets) Has(dir VoteDirection, voterID string) bool {
	for _, id := range v.set(dir) {
		if id == voterID {
			return true
		}
	}
	return false
}

// Current は投票者の現在の投票方向を返す。未投票の場合はVoteNoneを返す。
func (v VoteSets) Current(voterID string) VoteDirection {
	switch {
	case v.Has(VoteStable, voterID):
		return VoteStable
	case v.Has(VoteUnstable, voterID):
		return VoteUnstable
	default:
		return VoteNone
	}
}

// Total は総投票数を返す。
func (v VoteSets) Total() int {
	return len(v.Stable) + len(v.Unstable)
}

func (v VoteSets) set(dir VoteDirection) []string {
	switch dir {
	case VoteStable:
		return v.Stable
	case VoteUnstable:
		return v.Unstable
	default:
		return nil
	}
}

// VoteDirection は投票方向。
//
// 符号規約: stable は「悪い」票でスコアを減らし、unstable は「良い」票でスコアを増やす。
// プロダクトの意図した皮肉であり、反転させてはならない。
type VoteDirection string

const (
	// VoteNone は未投票状態。
	VoteNone VoteDirection = ""
	// VoteStable はスコアを1減らす票。
	VoteStable VoteDirection = "stable"
	// VoteUnstable はスコアを1増やす票。
	VoteUnstable VoteDirection = "unstable"
)

// Valid は投票リクエストとして有効な方向かを返す。
func (d VoteDirection) Valid() bool {
	return d == VoteStable || d == VoteUnstable
}

// Opposite は反対方向を返す。
func (d VoteDirection) Opposite() VoteDirection {
	switch d {
	case VoteStable:
		return VoteUnstable
	case VoteUnstable:
		return VoteStable
	default:
		return VoteNone
	}
}

// Weight はこの方向の票を1票追加した場合のスコア変化量。
func (d VoteDirection) Weight() int {
	switch d {
	case VoteStable:
		return -1
	case VoteUnstable:
		return 1
	default:
		return 0
	}
}

// IdeaStatus は投稿のライフサイクル状態。
type IdeaStatus string

const (
	StatusActive      IdeaStatus = "active"
	StatusImplemented IdeaStatus = "implemented"
	StatusRejected    IdeaStatus = "rejected"
	StatusMeme        IdeaStatus = "meme"
)

// Category は本文キーワードから自動判定される分類。
type Category string

const (
	CategoryCrypto  Category = "crypto"
	CategoryTech    Category = "tech"
	CategoryGeneral Category = "general"
)

// SortMode は一覧取得時の並び順。
type SortMode string

const (
	SortScore         SortMode = "score"
	SortHot           SortMode = "hot" // SortScore の旧名
	SortNew           SortMode = "new"
	SortControversial SortMode = "controversial"
	SortTrending      SortMode = "trending"
)

// Valid は既知の並び順かを返す。
func (s SortMode) Valid() bool {
	switch s {
	case SortScore, SortHot, SortNew, SortControversial, SortTrending:
		return true
	}
	return false
}
