// Package rescore は保存済みスコア（controversial / engagement）の定期再計算ジョブを提供する。
// 投稿をID昇順のキーセットページングで走査し、同一時刻を基準に再計算して書き戻す。
// カテゴリ未設定の投稿はこのタイミングで自動分類を補完する。
package rescore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/unstabling/internal/metrics"
	"github.com/hitoshi/unstabling/internal/model"
	"github.com/hitoshi/unstabling/internal/repository"
	"github.com/hitoshi/unstabling/internal/scoring"
)

// DefaultBatchSize は1回のページ取得件数。
const DefaultBatchSize = 500

// Summary は1回の再計算の結果。
type Summary struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Job はスコア再計算ジョブ。
type Job struct {
	repo      repository.ScoreRepository
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
	BatchSize int
}

// NewJob は新しいJobを生成する。metricsがnilの場合は記録しない。
func NewJob(repo repository.ScoreRepository, logger *slog.Logger, m metrics.MetricsCollector) *Job {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		repo:      repo,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		BatchSize: DefaultBatchSize,
	}
}

// Start は起動直後に1回実行し、その後interval間隔で再計算を繰り返す。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("スコア再計算ジョブを開始しました", slog.Duration("interval", interval))

	j.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("スコア再計算ジョブを停止しました")
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *Job) runAndLog(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("スコア再計算の実行に失敗しました", slog.String("error", err.Error()))
	}
}

// RunOnce は全投稿のスコアを再計算する。
// 個々の投稿の書き込み失敗は件数として数え、処理は継続する。
// ページ取得の失敗やキャンセル時はそれまでの集計とともにエラーを返す。
func (j *Job) RunOnce(ctx context.Context) (Summary, error) {
	start := j.now()
	now := start
	var sum Summary

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		batch, err := j.repo.ListForRescore(ctx, afterID, j.BatchSize)
		if err != nil {
			j.metrics.RecordRescore(sum.Updated, sum.Errors)
			return sum, fmt.Errorf("再計算対象の取得に失敗しました: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, idea := range batch {
			sum.Total++
			snap := scoring.FromIdea(idea)
			controversial := scoring.Controversial(snap)
			engagement := scoring.Engagement(snap, now)

			// 空文字列は既存カテゴリの維持を意味する
			var backfill model.Category
			if idea.Category == "" {
				backfill = scoring.Categorize(idea.Title, idea.Content, idea.Tags)
			}

			if err := j.repo.UpdateScores(ctx, idea.ID, controversial, engagement, backfill); err != nil {
				sum.Errors++
				j.logger.Warn("スコアの書き込みに失敗しました",
					slog.String("idea_id", idea.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			sum.Updated++
		}

		afterID = batch[len(batch)-1].ID
		if len(batch) < j.BatchSize {
			break
		}
	}

	j.metrics.RecordRescore(sum.Updated, sum.Errors)
	j.logger.Info("スコア再計算が完了しました",
		slog.Int("total", sum.Total),
		slog.Int("updated", sum.Updated),
		slog.Int("errors", sum.Errors),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return sum, nil
}
