package notify

import (
	"context"
	"log/slog"

	"github.com/hitoshi/unstabling/internal/model"
)

// LogNotifier はイベントを構造化ログに出力する。
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(ctx context.Context, event model.Event) error {
	slog.InfoContext(ctx, "通知イベント",
		slog.String("kind", string(event.Kind)),
		slog.String("idea_id", event.IdeaID),
		slog.String("parent_id", event.ParentID),
		slog.String("actor", event.ActorName),
		slog.String("direction", event.Direction),
	)
	return nil
}
