package model

import "time"

// EventKind は通知イベントの種別。
type EventKind string

const (
	// EventVote は新規投票（トグル解除や反転は含まない）。
	EventVote EventKind = "vote"
	// EventReply は親投稿への返信。
	EventReply EventKind = "reply"
)

// Event は投票・返信の発生を外部の通知先に伝えるイベント。
// 配送の成否はコア処理に影響しない。
type Event struct {
	Kind       EventKind `json:"kind"`
	IdeaID     string    `json:"ideaId"`
	ParentID   string    `json:"parentId,omitempty"`
	ActorID    string    `json:"actorId"`
	ActorName  string    `json:"actorName"`
	Title      string    `json:"title"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
