// Package idea は投稿の作成と取得のドメインロジックを提供する。
package idea

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/unstabling/internal/metrics"
	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/repository"
	"github.com/hitoshi/unstabling/internal/scoring"
	"github.com/hitoshi/unstabling/internal/security"
)

// Publisher は通知イベントの発行先。Publishはブロックしないこと。
type Publisher interface {
	Publish(event model.Event)
}

// CreateInput は投稿作成の入力。Authorがnilの場合は匿名投稿として扱う。
type CreateInput struct {
	Title    string
	Content  string
	Tags     []string
	ParentID string
	Author   *model.Author
}

// Service は投稿のサービス層。
type Service struct {
	repo      repository.IdeaRepository
	sanitizer *security.TextSanitizer
	publisher Publisher
	metrics   metrics.MetricsCollector
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。publisherとmはnilでもよい。
func NewService(repo repository.IdeaRepository, sanitizer *security.TextSanitizer, publisher Publisher, m metrics.MetricsCollector) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Create は投稿を検証・正規化して保存する。
// 親を指定した場合は親の返信リストに追加する。親が見つからない場合も投稿自体は作成し、エラーを記録する。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Idea, error) {
	title := s.sanitizer.Sanitize(strings.TrimSpace(in.Title))
	content := s.sanitizer.Sanitize(strings.TrimSpace(in.Content))
	if title == "" || content == "" {
		return nil, model.NewValidationError("タイトルと本文は必須です。")
	}
	if utf8.RuneCountInString(title) > model.MaxTitleLength {
		return nil, model.NewValidationError(fmt.Sprintf("タイトルが長すぎます（最大%d文字）。", model.MaxTitleLength))
	}
	if utf8.RuneCountInString(content) > model.MaxContentLength {
		return nil, model.NewValidationError(fmt.Sprintf("本文が長すぎます（最大%d文字）。", model.MaxContentLength))
	}

	tags := s.sanitizer.SanitizeTags(in.Tags)
	now := s.now()
	idea := &model.Idea{
		ID:        s.newID(),
		Title:     title,
		Content:   content,
		Tags:      tags,
		Author:    s.author(in.Author),
		Votes:     model.VoteSets{Stable: []string{}, Unstable: []string{}},
		Category:  scoring.Categorize(title, content, tags),
		Status:    model.StatusActive,
		ParentID:  strings.TrimSpace(in.ParentID),
		Replies:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, idea); err != nil {
		return nil, fmt.Errorf("投稿の保存に失敗しました: %w", err)
	}
	s.metrics.RecordIdeaCreated(idea.ParentID != "")

	if idea.ParentID != "" {
		s.attachToParent(ctx, idea)
	}
	return idea, nil
}

// attachToParent は親の返信リストに追加する。失敗しても投稿の作成は取り消さない。
func (s *Service) attachToParent(ctx context.Context, reply *model.Idea) {
	parent, err := s.repo.AppendReply(ctx, reply.ParentID, reply.ID)
	if err != nil {
		slog.Error("親投稿への返信追加に失敗しました",
			slog.String("parent_id", reply.ParentID),
			slog.String("reply_id", reply.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if parent == nil {
		slog.Error("親投稿が見つかりません。返信は親なしで作成されました",
			slog.String("parent_id", reply.ParentID),
			slog.String("reply_id", reply.ID),
		)
		return
	}

	if s.publisher != nil {
		s.publisher.Publish(model.Event{
			Kind:       model.EventReply,
			IdeaID:     reply.ID,
			ParentID:   parent.ID,
			ActorID:    reply.Author.UserID,
			ActorName:  reply.Author.Name,
			Title:      parent.Title,
			Excerpt:    excerpt(reply.Content, 140),
			OccurredAt: reply.CreatedAt,
		})
	}
}

func (s *Service) author(a *model.Author) model.Author {
	if a == nil {
		return model.AnonymousAuthor("")
	}
	out := model.Author{
		UserID: s.sanitizer.Sanitize(a.UserID),
		Name:   s.sanitizer.Sanitize(a.Name),
		Handle: s.sanitizer.Sanitize(a.Handle),
		Avatar: strings.TrimSpace(a.Avatar),
	}
	if out.UserID == "" {
		anon := model.AnonymousAuthor(out.Name)
		anon.Avatar = out.Avatar
		return anon
	}
	if out.Name == "" {
		out.Name = "DEGEN"
	}
	if out.Handle == "" {
		out.Handle = out.Name
	}
	return out
}

// Get は指定IDの投稿を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Idea, error) {
	idea, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if idea == nil {
		return nil, model.NewIdeaNotFoundError(id)
	}
	return idea, nil
}

// excerpt は先頭n文字を返す。切り詰めた場合は末尾に…を付ける。
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
