package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/unstabling/internal/feed"
	"github.com/hitoshi/unstabling/internal/idea"
	"github.com/hitoshi/unstabling/internal/middleware"
	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/scoring"
	"github.com/hitoshi/unstabling/internal/thread"
)

// maxRequestBodyBytes はリクエストボディの上限。
const maxRequestBodyBytes = 64 << 10

// IdeaServiceInterface は投稿作成・取得のサービスインターフェース。
type IdeaServiceInterface interface {
	Create(ctx context.Context, in idea.CreateInput) (*model.Idea, error)
	Get(ctx context.Context, id string) (*model.Idea, error)
}

// VoteServiceInterface は投票のサービスインターフェース。
type VoteServiceInterface interface {
	CastVote(ctx context.Context, ideaID, voterID, voterName string, direction model.VoteDirection) (*model.Idea, error)
}

// FeedServiceInterface は一覧組み立てのサービスインターフェース。
type FeedServiceInterface interface {
	ListTopLevel(ctx context.Context, q feed.Query) (*feed.Page, error)
}

// ThreadServiceInterface は返信ツリー展開のサービスインターフェース。
type ThreadServiceInterface interface {
	Materialize(ctx context.Context, idea *model.Idea) (*thread.Node, error)
}

// IdeaHandler は投稿・投票のHTTPハンドラー。
type IdeaHandler struct {
	ideas    IdeaServiceInterface
	votes    VoteServiceInterface
	feed     FeedServiceInterface
	threads  ThreadServiceInterface
	validate *validator.Validate
	now      func() time.Time
}

// NewIdeaHandler はIdeaHandlerを生成する。
func NewIdeaHandler(ideas IdeaServiceInterface, votes VoteServiceInterface, feedSvc FeedServiceInterface, threads ThreadServiceInterface) *IdeaHandler {
	return &IdeaHandler{
		ideas:    ideas,
		votes:    votes,
		feed:     feedSvc,
		threads:  threads,
		validate: validator.New(),
		now:      time.Now,
	}
}

// createIdeaRequest は投稿作成リクエストのボディ。
// 文字数の上限はサービス層でサニタイズ後の本文に対して検証する。
type createIdeaRequest struct {
	Title    string         `json:"title" validate:"required"`
	Content  string         `json:"content" validate:"required"`
	Tags     []string       `json:"tags" validate:"max=20,dive,max=50"`
	ParentID string         `json:"parentId" validate:"omitempty,uuid"`
	Author   *authorRequest `json:"author"`
}

type authorRequest struct {
	UserID string `json:"userId" validate:"max=100"`
	Name   string `json:"name" validate:"max=50"`
	Handle string `json:"handle" validate:"max=50"`
	Avatar string `json:"avatar" validate:"omitempty,url"`
}

// voteRequest は投票リクエストのボディ。
type voteRequest struct {
	Vote     string `json:"vote" validate:"required,oneof=stable unstable"`
	UserID   string `json:"userId" validate:"required,max=100"`
	UserName string `json:"userName" validate:"max=50"`
}

// Create は投稿または返信を作成する。
// POST /api/ideas
func (h *IdeaHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIdeaRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(validationMessage(err)))
		return
	}

	in := idea.CreateInput{
		Title:    req.Title,
		Content:  req.Content,
		Tags:     req.Tags,
		ParentID: req.ParentID,
	}
	if req.Author != nil {
		in.Author = &model.Author{
			UserID: req.Author.UserID,
			Name:   req.Author.Name,
			Handle: req.Author.Handle,
			Avatar: req.Author.Avatar,
		}
	}

	created, err := h.ideas.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toIdeaResponse(created))
}

// List は投稿一覧を返信ツリー付きで返す。
// GET /api/ideas?sort=&page=&limit=&parentId=
func (h *IdeaHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.feed.ListTopLevel(r.Context(), feed.Query{
		Sort:     model.SortMode(q.Get("sort")),
		Page:     queryInt(q.Get("page")),
		PageSize: queryInt(q.Get("limit")),
		ParentID: q.Get("parentId"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := ideaListResponse{
		Ideas: make([]*ideaResponse, 0, len(page.Items)),
		Pagination: paginationResponse{
			Page:    page.Page,
			Limit:   page.PageSize,
			Total:   page.Total,
			Pages:   page.Pages,
			HasMore: page.HasMore,
		},
	}
	for _, node := range page.Items {
		resp.Ideas = append(resp.Ideas, toNodeResponse(node))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は投稿1件を返信ツリーと現時点のスコア付きで返す。
// GET /api/ideas/{id}
func (h *IdeaHandler) Get(w http.ResponseWriter, r *http.Request) {
	found, err := h.ideas.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	node, err := h.threads.Materialize(r.Context(), found)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toNodeResponse(node)
	scores := scoring.Compute(scoring.FromIdea(found), h.now())
	resp.Scores = &scores
	writeJSON(w, http.StatusOK, resp)
}

// Vote は投票を反映し、更新後の投稿を返す。
// POST /api/ideas/{id}/vote
func (h *IdeaHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, voteValidationError(err, req.Vote))
		return
	}

	updated, err := h.votes.CastVote(r.Context(), chi.URLParam(r, "id"), req.UserID, req.UserName, model.VoteDirection(req.Vote))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIdeaResponse(updated))
}

// decode はJSONボディを解析する。失敗時は400を書き込みfalseを返す。
func (h *IdeaHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// validationMessage は検証エラーの最初の項目を利用者向けの文言にする。
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "入力内容が不正です"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " は必須です"
	case "uuid":
		return fe.Field() + " の形式が不正です"
	default:
		return fe.Field() + " が不正です"
	}
}

// voteValidationError は投票方向の誤りをINVALID_VOTE、それ以外の項目の誤りをVALIDATION_FAILEDにする。
func voteValidationError(err error, vote string) *model.APIError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Vote" {
				return model.NewInvalidVoteError(vote)
			}
		}
	}
	return model.NewValidationError(validationMessage(err))
}

// queryInt はクエリパラメータを整数として解釈する。不正値は0（既定値扱い）とする。
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
