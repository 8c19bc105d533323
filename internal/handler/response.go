package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/unstabling/internal/middleware"
	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/scoring"
	"github.com/hitoshi/unstabling/internal/thread"
)

// voteConflictRetryAfter は投票の再試行上限到達時に返すRetry-After秒数。
const voteConflictRetryAfter = 1

// authorResponse は投稿者情報のAPIレスポンス。
type authorResponse struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Avatar string `json:"avatar"`
}

// votesResponse は投票者IDの集合のAPIレスポンス。
type votesResponse struct {
	Stable   []string `json:"stable"`
	Unstable []string `json:"unstable"`
}

// ideaResponse は投稿のAPIレスポンス。
// Repliesは返信ツリーを展開した場合のみ要素を持ち、ReplyIDsは常に返信IDを作成順で持つ。
type ideaResponse struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Content            string          `json:"content"`
	Tags               []string        `json:"tags"`
	Author             authorResponse  `json:"author"`
	Votes              votesResponse   `json:"votes"`
	Score              int             `json:"score"`
	Category           string          `json:"category"`
	Status             string          `json:"status"`
	ParentID           string          `json:"parentId,omitempty"`
	ReplyIDs           []string        `json:"replyIds"`
	Replies            []*ideaResponse `json:"replies"`
	ReplyCount         int             `json:"replyCount"`
	ControversialScore float64         `json:"controversialScore"`
	EngagementScore    float64         `json:"engagementScore"`
	Scores             *scoring.Scores `json:"scores,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// paginationResponse は一覧のページ情報。
type paginationResponse struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasMore bool `json:"hasMore"`
}

// ideaListResponse は投稿一覧のAPIレスポンス。
type ideaListResponse struct {
	Ideas      []*ideaResponse    `json:"ideas"`
	Pagination paginationResponse `json:"pagination"`
}

// toIdeaResponse はmodel.IdeaからAPIレスポンスに変換する。返信は展開しない。
func toIdeaResponse(idea *model.Idea) *ideaResponse {
	return &ideaResponse{
		ID:      idea.ID,
		Title:   idea.Title,
		Content: idea.Content,
		Tags:    nonNilStrings(idea.Tags),
		Author: authorResponse{
			UserID: idea.Author.UserID,
			Name:   idea.Author.Name,
			Handle: idea.Author.Handle,
			Avatar: idea.Author.Avatar,
		},
		Votes: votesResponse{
			Stable:   nonNilStrings(idea.Votes.Stable),
			Unstable: nonNilStrings(idea.Votes.Unstable),
		},
		Score:              idea.Score,
		Category:           string(idea.Category),
		Status:             string(idea.Status),
		ParentID:           idea.ParentID,
		ReplyIDs:           nonNilStrings(idea.Replies),
		Replies:            []*ideaResponse{},
		ReplyCount:         len(idea.Replies),
		ControversialScore: idea.ControversialScore,
		EngagementScore:    idea.EngagementScore,
		CreatedAt:          idea.CreatedAt,
		UpdatedAt:          idea.UpdatedAt,
	}
}

// toNodeResponse は返信ツリーを再帰的にAPIレスポンスに変換する。
func toNodeResponse(node *thread.Node) *ideaResponse {
	resp := toIdeaResponse(node.Idea)
	for _, child := range node.Children {
		resp.Replies = append(resp.Replies, toNodeResponse(child))
	}
	return resp
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", strconv.Itoa(voteConflictRetryAfter))
		}
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidRequest,
		model.ErrCodeInvalidVote, model.ErrCodeInvalidSort:
		return http.StatusBadRequest
	case model.ErrCodeIdeaNotFound:
		return http.StatusNotFound
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeVoteConflict:
		return http.StatusServiceUnavailable
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
