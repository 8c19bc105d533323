package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// 起動時の接続リトライ設定。
const (
	DefaultPingRetries = 4
	DefaultPingDelay   = time.Second
)

// Open はPostgreSQLデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはPingWithRetryを使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベース接続のオープンに失敗しました: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Pinger は接続確認が可能な対象。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingWithRetry は一時的な接続失敗に備え、指数バックオフで接続確認を再試行する。
// 初回を含めて最大 retries+1 回試行する。
func PingWithRetry(ctx context.Context, p Pinger, retries int, delay time.Duration) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = p.PingContext(ctx); err == nil {
			return nil
		}
		if attempt >= retries {
			break
		}

		slog.Warn("データベース接続に失敗しました。再試行します",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("データベース接続の確認に失敗しました（%d回試行）: %w", retries+1, err)
}
