package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthPingTimeout はヘルスチェック時のストア疎通確認のタイムアウト。
const healthPingTimeout = 2 * time.Second

// Pinger はストアの疎通確認インターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
	Error     string  `json:"error,omitempty"`
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	store     Pinger
	startedAt time.Time
	now       func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。startedAtは稼働時間の起点。
func NewHealthHandler(store Pinger, startedAt time.Time) *HealthHandler {
	return &HealthHandler{store: store, startedAt: startedAt, now: time.Now}
}

// ServeHTTP はストアへの疎通を確認し、稼働状況を返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    now.Sub(h.startedAt).Seconds(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		slog.Error("ヘルスチェックでストアへの接続に失敗しました", slog.String("error", err.Error()))
		resp.Status = "unhealthy"
		resp.Error = "store connection failed"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
