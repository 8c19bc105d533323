package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/unstabling/internal/model"
)

const ideaColumns = `id, title, content, tags, author_user_id, author_name, author_handle, author_avatar,
	stable_voters, unstable_voters, score, controversial_score, engagement_score,
	category, status, parent_id, replies, version, created_at, updated_at`

// PostgresIdeaRepo はPostgreSQLを使用した投稿リポジトリ。
// 投票集合はTEXT[]で保持し、versionカラムで楽観的排他制御を行う。
type PostgresIdeaRepo struct {
	db *sql.DB
}

var (
	_ IdeaRepository  = (*PostgresIdeaRepo)(nil)
	_ ScoreRepository = (*PostgresIdeaRepo)(nil)
)

// NewPostgresIdeaRepo はPostgresIdeaRepoを生成する。
func NewPostgresIdeaRepo(db *sql.DB) *PostgresIdeaRepo {
	return &PostgresIdeaRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdea(row rowScanner) (*model.Idea, error) {
	idea := &model.Idea{}
	var tags, stable, unstable, replies pq.StringArray
	var parentID sql.NullString
	var category, status string

	err := row.Scan(
		&idea.ID, &idea.Title, &idea.Content, &tags,
		&idea.Author.UserID, &idea.Author.Name, &idea.Author.Handle, &idea.Author.Avatar,
		&stable, &unstable, &idea.Score, &idea.ControversialScore, &idea.EngagementScore,
		&category, &status, &parentID, &replies, &idea.Version,
		&idea.CreatedAt, &idea.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	idea.Tags = []string(tags)
	idea.Votes = model.VoteSets{Stable: []string(stable), Unstable: []string(unstable)}
	idea.Replies = []string(replies)
	idea.Category = model.Category(category)
	idea.Status = model.IdeaStatus(status)
	idea.ParentID = parentID.String
	return idea, nil
}

func scanIdeas(rows *sql.Rows) ([]*model.Idea, error) {
	defer rows.Close()

	var ideas []*model.Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿行の読み取りに失敗しました: %w", err)
		}
		ideas = append(ideas, idea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の走査に失敗しました: %w", err)
	}
	return ideas, nil
}

// validID はUUID形式のIDかを返す。UUIDカラムへの不正な値での問い合わせを避ける。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Create は投稿を作成する。
func (r *PostgresIdeaRepo) Create(ctx context.Context, idea *model.Idea) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ideas (id, title, content, tags, author_user_id, author_name, author_handle, author_avatar,
		                    stable_voters, unstable_voters, score, controversial_score, engagement_score,
		                    category, status, parent_id, replies, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		idea.ID, idea.Title, idea.Content, pq.Array(nonNil(idea.Tags)),
		idea.Author.UserID, idea.Author.Name, idea.Author.Handle, idea.Author.Avatar,
		pq.Array(nonNil(idea.Votes.Stable)), pq.Array(nonNil(idea.Votes.Unstable)),
		idea.Score, idea.ControversialScore, idea.EngagementScore,
		string(idea.Category), string(idea.Status), nullString(idea.ParentID),
		pq.Array(nonNil(idea.Replies)), idea.Version, idea.CreatedAt, idea.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresIdeaRepo) FindByID(ctx context.Context, id string) (*model.Idea, error) {
	if !validID(id) {
		return nil, nil
	}

	idea, err := scanIdea(r.db.QueryRowContext(ctx,
		`SELECT `+ideaColumns+` FROM ideas WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return idea, nil
}

// FindByIDs は指定IDの投稿をまとめて取得する。
func (r *PostgresIdeaRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Idea, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ideaColumns+` FROM ideas WHERE id = ANY($1::uuid[])`,
		pq.Array(valid),
	)
	if err != nil {
		return nil, fmt.Errorf("返信の取得に失敗しました: %w", err)
	}
	return scanIdeas(rows)
}

// AppendReply は親投稿の返信リスト末尾に返信IDを追加する。
func (r *PostgresIdeaRepo) AppendReply(ctx context.Context, parentID, replyID string) (*model.Idea, error) {
	if !validID(parentID) {
		return nil, nil
	}

	idea, err := scanIdea(r.db.QueryRowContext(ctx,
		`UPDATE ideas SET replies = array_append(replies, $2), updated_at = now()
		 WHERE id = $1
		 RETURNING `+ideaColumns,
		parentID, replyID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("返信の追加に失敗しました: %w", err)
	}
	return idea, nil
}

// UpdateVotes は投票集合とスコアを1文の条件付きUPDATEで更新する。
// 0行更新の場合、投稿が存在しなければnil、存在すればErrVersionConflictを返す。
func (r *PostgresIdeaRepo) UpdateVotes(ctx context.Context, m VoteMutation) (*model.Idea, error) {
	idea, err := scanIdea(r.db.QueryRowContext(ctx,
		`UPDATE ideas SET
		    stable_voters = $3, unstable_voters = $4,
		    score = score + $5, version = version + 1, updated_at = $6
		 WHERE id = $1 AND version = $2
		 RETURNING `+ideaColumns,
		m.IdeaID, m.ExpectedVersion,
		pq.Array(nonNil(m.Stable)), pq.Array(nonNil(m.Unstable)),
		m.ScoreDelta, m.UpdatedAt,
	))
	if err == nil {
		return idea, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("投票の更新に失敗しました: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ideas WHERE id = $1)`, m.IdeaID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("投稿の存在確認に失敗しました: %w", err)
	}
	if !exists {
		return nil, nil
	}
	return nil, ErrVersionConflict
}

// orderClause は並び順に対応するORDER BY句を返す。最後にidで順序を確定させる。
func orderClause(sort model.SortMode) string {
	switch sort {
	case model.SortNew:
		return "ORDER BY created_at DESC, id ASC"
	case model.SortControversial:
		return "ORDER BY controversial_score DESC, created_at DESC, id ASC"
	default:
		return "ORDER BY score DESC, created_at DESC, id ASC"
	}
}

// parentCondition はParentIDの絞り込み条件と引数を返す。
func parentCondition(parentID string, argIndex int) (string, []any) {
	if parentID == "" {
		return "parent_id IS NULL", nil
	}
	return fmt.Sprintf("parent_id = $%d", argIndex), []any{parentID}
}

// List は並び順に従って投稿一覧を取得する。
func (r *PostgresIdeaRepo) List(ctx context.Context, q ListQuery) ([]*model.Idea, error) {
	if q.ParentID != "" && !validID(q.ParentID) {
		return nil, nil
	}

	cond, args := parentCondition(q.ParentID, 1)
	argIndex := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM ideas WHERE %s %s LIMIT $%d OFFSET $%d`,
		ideaColumns, cond, orderClause(q.Sort), argIndex, argIndex+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return scanIdeas(rows)
}

// Count はParentIDに一致する投稿数を返す。
func (r *PostgresIdeaRepo) Count(ctx context.Context, parentID string) (int, error) {
	if parentID != "" && !validID(parentID) {
		return 0, nil
	}

	cond, args := parentCondition(parentID, 1)
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM ideas WHERE `+cond, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("投稿数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListTrendingCandidates はトレンド計算の候補を取得する。
func (r *PostgresIdeaRepo) ListTrendingCandidates(ctx context.Context, parentID string, since time.Time, limit int) ([]*model.Idea, error) {
	if parentID != "" && !validID(parentID) {
		return nil, nil
	}

	cond, args := parentCondition(parentID, 1)
	argIndex := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM ideas
		WHERE %s AND created_at >= $%d
		  AND (cardinality(stable_voters) + cardinality(unstable_voters) > 0 OR cardinality(replies) > 0)
		ORDER BY created_at DESC, id ASC
		LIMIT $%d`, ideaColumns, cond, argIndex, argIndex+1)
	args = append(args, since, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("トレンド候補の取得に失敗しました: %w", err)
	}
	return scanIdeas(rows)
}

// ListForRescore はキーセットページネーションで再計算対象を取得する。
func (r *PostgresIdeaRepo) ListForRescore(ctx context.Context, afterID string, limit int) ([]*model.Idea, error) {
	var rows *sql.Rows
	var err error
	if afterID == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+ideaColumns+` FROM ideas ORDER BY id ASC LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+ideaColumns+` FROM ideas WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("再計算対象の取得に失敗しました: %w", err)
	}
	return scanIdeas(rows)
}

// UpdateScores は再計算したスコアを書き込む。投票用のversionは変更しない。
func (r *PostgresIdeaRepo) UpdateScores(ctx context.Context, id string, controversial, engagement float64, category model.Category) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ideas SET
		    controversial_score = $2, engagement_score = $3,
		    category = COALESCE(NULLIF($4, ''), category)
		 WHERE id = $1`,
		id, controversial, engagement, string(category),
	)
	if err != nil {
		return fmt.Errorf("スコアの更新に失敗しました: %w", err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresIdeaRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nonNil はnilスライスを空スライスに変換する。pq.ArrayはnilをNULLとして書き込むため。
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
