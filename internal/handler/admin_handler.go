package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/hitoshi/unstabling/internal/middleware"
	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/worker/rescore"
)

// adminTokenHeader は管理用エンドポイントの認証ヘッダー。
const adminTokenHeader = "X-Admin-Token"

// RescoreRunner はスコア再計算の実行インターフェース。
type RescoreRunner interface {
	RunOnce(ctx context.Context) (rescore.Summary, error)
}

// AdminHandler は管理用のHTTPハンドラー。
type AdminHandler struct {
	rescorer RescoreRunner
	token    string
}

// NewAdminHandler はAdminHandlerを生成する。tokenは空であってはならない。
func NewAdminHandler(rescorer RescoreRunner, token string) *AdminHandler {
	return &AdminHandler{rescorer: rescorer, token: token}
}

// RequireToken はX-Admin-Tokenヘッダーを検証するミドルウェア。
func (h *AdminHandler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(adminTokenHeader)
		if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Rescore はスコア再計算を同期実行し、集計結果を返す。
// POST /api/admin/rescore
func (h *AdminHandler) Rescore(w http.ResponseWriter, r *http.Request) {
	summary, err := h.rescorer.RunOnce(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
