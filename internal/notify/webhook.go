package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/unstabling/internal/model"
)

// WebhookNotifier はイベントをJSONでPOSTする。
// クライアントには security.WebhookGuard.NewClient のSSRF防止付きクライアントを渡す。
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier はWebhookNotifierを生成する。
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify はイベントを送信する。2xx以外の応答はエラーとする。
func (w *WebhookNotifier) Notify(ctx context.Context, event model.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("通知ペイロードの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("通知リクエストの生成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "unstabling-notifier/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("Webhookへの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhookが異常なステータスを返しました: %d", resp.StatusCode)
	}
	return nil
}
