package vote

import "github.com/hitoshi/unstabling/internal/model"

// Kind は投票による状態遷移の種別。
type Kind string

const (
	// Added は未投票からの新規投票。
	Added Kind = "added"
	// Removed は同方向の再投票による取り消し。
	Removed Kind = "removed"
	// Flipped は反対方向への付け替え。
	Flipped Kind = "flipped"
)

// Outcome は遷移の結果。Add/Removeは対象の集合、ScoreDeltaはスコアの変化量。
type Outcome struct {
	Kind       Kind
	Add        model.VoteDirection // VoteNoneの場合は追加なし
	Remove     model.VoteDirection // VoteNoneの場合は削除なし
	ScoreDelta int
}

// Transition は現在の投票状態と要求された方向から遷移を決める。
// requestedは有効な方向であること。
func Transition(current, requested model.VoteDirection) Outcome {
	switch current {
	case model.VoteNone:
		return Outcome{Kind: Added, Add: requested, ScoreDelta: requested.Weight()}
	case requested:
		return Outcome{Kind: Removed, Remove: requested, ScoreDelta: -requested.Weight()}
	default:
		return Outcome{
			Kind:       Flipped,
			Add:        requested,
			Remove:     current,
			ScoreDelta: requested.Weight() - current.Weight(),
		}
	}
}

// Apply は遷移を投票集合に適用した新しい集合を返す。元の集合は変更しない。
func (o Outcome) Apply(sets model.VoteSets, voterID string) model.VoteSets {
	next := model.VoteSets{
		Stable:   without(sets.Stable, voterID),
		Unstable: without(sets.Unstable, voterID),
	}
	switch o.Add {
	case model.VoteStable:
		next.Stable = append(next.Stable, voterID)
	case model.VoteUnstable:
		next.Unstable = append(next.Unstable, voterID)
	}
	return next
}

// without はvoterIDを除いたコピーを返す。
func without(ids []string, voterID string) []string {
	out := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		if id != voterID {
			out = append(out, id)
		}
	}
	return out
}
