// Package vote は投票の状態遷移と、条件付き更新による反映を提供する。
package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/hitoshi/unstabling/internal/metrics"
	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/repository"
)

// DefaultMaxAttempts は条件付き更新の既定の最大試行回数。
const DefaultMaxAttempts = 5

// Publisher は通知イベントの発行先。Publishはブロックしないこと。
type Publisher interface {
	Publish(event model.Event)
}

// Service は投票のサービス層。
// 永続化された投票集合から遷移を計算し、バージョン付きの条件付き更新で反映する。
// 競合時は読み直して再試行するため、同時投票による更新の消失は起きない。
type Service struct {
	repo        repository.IdeaRepository
	publisher   Publisher
	metrics     metrics.MetricsCollector
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithMaxAttempts は最大試行回数を設定する。
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff は再試行間の基準待機時間を設定する。実際の待機はこれにジッタを加えた値になる。
func WithBackoff(d time.Duration) Option {
	return func(s *Service) { s.backoff = d }
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService はServiceの新しいインスタンスを生成する。publisherはnilでもよい。
func NewService(repo repository.IdeaRepository, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		publisher:   publisher,
		metrics:     metrics.Nop{},
		maxAttempts: DefaultMaxAttempts,
		backoff:     10 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CastVote は投票者の投票を反映し、更新後の投稿を返す。
// 未投票なら追加、同方向なら取り消し、反対方向なら付け替えを行う。
func (s *Service) CastVote(ctx context.Context, ideaID, voterID, voterName string, direction model.VoteDirection) (*model.Idea, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" || !direction.Valid() {
		return nil, model.NewInvalidVoteError(string(direction))
	}

	for attempt := 1; ; attempt++ {
		idea, err := s.repo.FindByID(ctx, ideaID)
		if err != nil {
			return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
		}
		if idea == nil {
			return nil, model.NewIdeaNotFoundError(ideaID)
		}

		outcome := Transition(idea.Votes.Current(voterID), direction)
		next := outcome.Apply(idea.Votes, voterID)
		updated, err := s.repo.UpdateVotes(ctx, repository.VoteMutation{
			IdeaID:          ideaID,
			ExpectedVersion: idea.Version,
			Stable:          next.Stable,
			Unstable:        next.Unstable,
			ScoreDelta:      outcome.ScoreDelta,
			UpdatedAt:       s.now(),
		})
		switch {
		case err == nil && updated == nil:
			return nil, model.NewIdeaNotFoundError(ideaID)
		case err == nil:
			s.metrics.RecordVote(string(outcome.Kind))
			if outcome.Kind == Added {
				s.notify(updated, voterID, voterName, direction)
			}
			return updated, nil
		case !errors.Is(err, repository.ErrVersionConflict):
			return nil, fmt.Errorf("投票の反映に失敗しました: %w", err)
		}

		s.metrics.RecordVoteConflict()
		if attempt >= s.maxAttempts {
			s.metrics.RecordVoteExhausted()
			slog.Warn("投票の再試行上限に達しました",
				slog.String("idea_id", ideaID),
				slog.Int("attempts", attempt),
			)
			return nil, model.NewVoteConflictError(attempt)
		}

		if err := s.wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// wait は試行回数に応じたジッタ付きの待機を行う。
func (s *Service) wait(ctx context.Context, attempt int) error {
	if s.backoff <= 0 {
		return ctx.Err()
	}
	d := s.backoff*time.Duration(attempt) + rand.N(s.backoff)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) notify(idea *model.Idea, voterID, voterName string, direction model.VoteDirection) {
	if s.publisher == nil {
		return
	}
	if voterName == "" {
		voterName = voterID
	}
	s.publisher.Publish(model.Event{
		Kind:       model.EventVote,
		IdeaID:     idea.ID,
		ParentID:   idea.ParentID,
		ActorID:    voterID,
		ActorName:  voterName,
		Title:      idea.Title,
		Direction:  string(direction),
		OccurredAt: s.now(),
	})
}
