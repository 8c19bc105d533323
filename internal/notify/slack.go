package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/hitoshi/unstabling/internal/model"
)

// SlackPoster はSlackへのメッセージ投稿操作。*slack.Clientが満たす。
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier はイベントをSlackチャンネルに投稿する。
type SlackNotifier struct {
	api       SlackPoster
	channelID string
	baseURL   string
}

// NewSlackNotifier はボットトークンからSlackNotifierを生成する。
func NewSlackNotifier(token, channelID, baseURL string) *SlackNotifier {
	return newSlackNotifier(slack.New(token), channelID, baseURL)
}

func newSlackNotifier(api SlackPoster, channelID, baseURL string) *SlackNotifier {
	return &SlackNotifier{api: api, channelID: channelID, baseURL: baseURL}
}

func (s *SlackNotifier) Name() string { return "slack" }

// Notify はイベントを1件のメッセージとして投稿する。
func (s *SlackNotifier) Notify(ctx context.Context, event model.Event) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(formatSlackMessage(event, s.baseURL), false),
	)
	if err != nil {
		return fmt.Errorf("Slackへの投稿に失敗しました: %w", err)
	}
	return nil
}

func formatSlackMessage(event model.Event, baseURL string) string {
	link := ideaLink(baseURL, event)
	switch event.Kind {
	case model.EventReply:
		return fmt.Sprintf("*%s* replied to <%s|%s>\n> %s", event.ActorName, link, event.Title, event.Excerpt)
	default:
		return fmt.Sprintf("*%s* voted %s on <%s|%s>", event.ActorName, event.Direction, link, event.Title)
	}
}

// ideaLink は通知対象のスレッドURLを返す。返信の場合は親投稿を指す。
func ideaLink(baseURL string, event model.Event) string {
	id := event.IdeaID
	if event.Kind == model.EventReply && event.ParentID != "" {
		id = event.ParentID
	}
	return fmt.Sprintf("%s/api/ideas/%s", baseURL, id)
}
