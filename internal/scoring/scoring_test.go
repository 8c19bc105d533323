package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/hitoshi/unstabling/internal/model"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestHot_DecaysWithAge は同一の得票でも古い投稿ほどHotスコアが下がることを検証する。
func TestHot_DecaysWithAge(t *testing.T) {
	fresh := Snapshot{Score: 10, UnstableCount: 10, CreatedAt: baseTime.Add(-1 * time.Hour)}
	old := Snapshot{Score: 10, UnstableCount: 10, CreatedAt: baseTime.Add(-48 * time.Hour)}

	if Hot(fresh, baseTime) <= Hot(old, baseTime) {
		t.Errorf("Hot(fresh)=%v should be greater than Hot(old)=%v", Hot(fresh, baseTime), Hot(old, baseTime))
	}
}

// TestHot_Formula は既知の入力に対する計算値を検証する。
func TestHot_Formula(t *testing.T) {
	s := Snapshot{Score: 3, StableCount: 1, UnstableCount: 4, ReplyCount: 2, CreatedAt: baseTime.Add(-2 * time.Hour)}
	want := 3*math.Pow(4, -1.5) + math.Log(3)*0.5 + math.Log(6)*0.3
	if got := Hot(s, baseTime); !approxEqual(got, want) {
		t.Errorf("Hot() = %v, want %v", got, want)
	}
}

// TestHot_ZeroCreatedAt は作成日時がない場合に経過時間0として扱うことを検証する。
func TestHot_ZeroCreatedAt(t *testing.T) {
	s := Snapshot{Score: 8}
	want := 8 * math.Pow(2, -1.5)
	if got := Hot(s, baseTime); !approxEqual(got, want) {
		t.Errorf("Hot() = %v, want %v", got, want)
	}
}

func TestControversial(t *testing.T) {
	tests := []struct {
		name     string
		stable   int
		unstable int
		want     float64
	}{
		{"投票2件は0", 1, 1, 0},
		{"拮抗", 5, 5, 10},
		{"偏り", 1, 5, 6.0 / 5.0},
		{"下限ちょうど", 2, 1, 3.0 / 2.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Controversial(Snapshot{StableCount: tt.stable, UnstableCount: tt.unstable})
			if !approxEqual(got, tt.want) {
				t.Errorf("Controversial(%d,%d) = %v, want %v", tt.stable, tt.unstable, got, tt.want)
			}
		})
	}
}

func TestEngagement_RecencyBoost(t *testing.T) {
	s := Snapshot{StableCount: 1, UnstableCount: 1, ReplyCount: 2}
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{1 * time.Hour, 10 * 1.5},
		{48 * time.Hour, 10 * 1.2},
		{200 * time.Hour, 10},
	}
	for _, tt := range tests {
		s.CreatedAt = baseTime.Add(-tt.age)
		if got := Engagement(s, baseTime); !approxEqual(got, tt.want) {
			t.Errorf("Engagement(age=%v) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestTrending_RecencyBoostAndVelocity(t *testing.T) {
	tests := []struct {
		name string
		s    Snapshot
		want float64
	}{
		{
			name: "30分前の投稿は経過時間1時間として扱う",
			s:    Snapshot{UnstableCount: 4, ReplyCount: 2, CreatedAt: baseTime.Add(-30 * time.Minute)},
			want: (4.0 + 1.0) * 3,
		},
		{
			name: "12時間前",
			s:    Snapshot{UnstableCount: 12, CreatedAt: baseTime.Add(-12 * time.Hour)},
			want: 1.0 * 2,
		},
		{
			name: "48時間前",
			s:    Snapshot{StableCount: 48, CreatedAt: baseTime.Add(-48 * time.Hour)},
			want: 1.0 * 1.5,
		},
		{
			name: "100時間前",
			s:    Snapshot{ReplyCount: 4, CreatedAt: baseTime.Add(-100 * time.Hour)},
			want: 2.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Trending(tt.s, baseTime); !approxEqual(got, tt.want) {
				t.Errorf("Trending() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestQuality_UsesUnstableRatio は「良い」票（unstable）の比率で評価することを検証する。
func TestQuality_UsesUnstableRatio(t *testing.T) {
	if got := Quality(Snapshot{}); got != 0 {
		t.Errorf("Quality(no votes) = %v, want 0", got)
	}
	got := Quality(Snapshot{StableCount: 1, UnstableCount: 3})
	if !approxEqual(got, 3) {
		t.Errorf("Quality(1 stable, 3 unstable) = %v, want 3", got)
	}
}

func TestHackerNews_NegativePenalty(t *testing.T) {
	pos := Snapshot{Score: 3}
	neg := Snapshot{Score: -3}

	if got, want := HackerNews(pos, baseTime), 2/math.Pow(2, 1.8); !approxEqual(got, want) {
		t.Errorf("HackerNews(+3) = %v, want %v", got, want)
	}
	if got, want := HackerNews(neg, baseTime), (-4/math.Pow(2, 1.8))*0.5; !approxEqual(got, want) {
		t.Errorf("HackerNews(-3) = %v, want %v", got, want)
	}
}

func TestCompute_BundlesAllScores(t *testing.T) {
	s := Snapshot{Score: 2, StableCount: 1, UnstableCount: 3, ReplyCount: 1, CreatedAt: baseTime.Add(-3 * time.Hour)}
	got := Compute(s, baseTime)

	if !approxEqual(got.Hot, Hot(s, baseTime)) ||
		!approxEqual(got.Controversial, Controversial(s)) ||
		!approxEqual(got.Engagement, Engagement(s, baseTime)) ||
		!approxEqual(got.Trending, Trending(s, baseTime)) ||
		!approxEqual(got.Quality, Quality(s)) ||
		!approxEqual(got.HackerNews, HackerNews(s, baseTime)) {
		t.Errorf("Compute() = %+v, does not match individual functions", got)
	}
}

func TestFromIdea(t *testing.T) {
	idea := &model.Idea{
		Score:     1,
		Votes:     model.VoteSets{Stable: []string{"a"}, Unstable: []string{"b", "c"}},
		Replies:   []string{"r1"},
		CreatedAt: baseTime,
	}
	s := FromIdea(idea)
	if s.Score != 1 || s.StableCount != 1 || s.UnstableCount != 2 || s.ReplyCount != 1 || !s.CreatedAt.Equal(baseTime) {
		t.Errorf("FromIdea() = %+v", s)
	}
}
