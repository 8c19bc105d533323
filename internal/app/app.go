package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/hitoshi/unstabling/internal/config"
	"github.com/hitoshi/unstabling/internal/database"
	"github.com/hitoshi/unstabling/internal/feed"
	"github.com/hitoshi/unstabling/internal/handler"
	"github.com/hitoshi/unstabling/internal/idea"
	"github.com/hitoshi/unstabling/internal/logger"
	"github.com/hitoshi/unstabling/internal/metrics"
	"github.com/hitoshi/unstabling/internal/middleware"
	"github.com/hitoshi/unstabling/internal/notify"
	"github.com/hitoshi/unstabling/internal/realtime"
	"github.com/hitoshi/unstabling/internal/repository"
	"github.com/hitoshi/unstabling/internal/security"
	"github.com/hitoshi/unstabling/internal/thread"
	"github.com/hitoshi/unstabling/internal/vote"
	"github.com/hitoshi/unstabling/internal/worker/rescore"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Store は投稿の永続化とスコア再計算の両方を提供するストア。
type Store interface {
	repository.IdeaRepository
	repository.ScoreRepository
}

// Init はアプリケーションの初期化を行う。
// 環境変数（および .env）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコマンドのcontextがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// withConfig は設定を読み込んでからサブコマンド本体を実行する。
func withConfig(cmd *cobra.Command, w io.Writer, name Command, fn func(context.Context, *config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(name)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("memory_store", cfg.UsesMemoryStore()),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, cfg)
}

// openStore は設定に応じたストアを開く。戻り値のcloseは必ず呼ぶこと。
func openStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	if cfg.UsesMemoryStore() {
		slog.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryIdeaRepo(), func() {}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.PingWithRetry(ctx, db, database.DefaultPingRetries, database.DefaultPingDelay); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return repository.NewPostgresIdeaRepo(db), func() { db.Close() }, nil
}

// buildNotifiers は設定された通知先を組み立てる。ログ出力とリアルタイム配信は常に有効。
func buildNotifiers(cfg *config.Config, hub *realtime.Hub) ([]notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.LogNotifier{}, hub}

	if cfg.NotifyWebhookURL != "" {
		guard := security.NewWebhookGuard()
		if err := guard.ValidateURL(cfg.NotifyWebhookURL); err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
		}
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.NotifyWebhookURL, guard.NewClient(cfg.NotifyTimeout)))
	}

	if cfg.SlackEnabled() {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannelID, cfg.BaseURL))
	}

	names := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		names = append(names, n.Name())
	}
	slog.Info("notification sinks configured", slog.Any("sinks", names))

	return notifiers, nil
}

// server はAPIサーバーモードで動作する全コンポーネントを保持する。
type server struct {
	http       *http.Server
	dispatcher *notify.Dispatcher
	hub        *realtime.Hub
	limiter    *middleware.RateLimiter
	rescorer   *rescore.Job
	maxConns   int

	// インメモリストアではworkerプロセスと状態を共有できないため、
	// スコア再計算をサーバー内で定期実行する。
	rescoreInterval time.Duration
}

// newServer は全依存関係をワイヤリングしたサーバーを構築する。
func newServer(cfg *config.Config, store Store) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. 通知
	hub := realtime.NewHub(cfg.CORSAllowedOrigin)
	notifiers, err := buildNotifiers(cfg, hub)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(notify.Config{
		QueueSize: cfg.NotifyQueueSize,
		Workers:   cfg.NotifyWorkers,
		Timeout:   cfg.NotifyTimeout,
	}, collector, notifiers...)

	// 3. ドメインサービス
	tree := thread.NewBuilder(store)
	ideaService := idea.NewService(store, security.NewTextSanitizer(), dispatcher, collector)
	voteService := vote.NewService(store, dispatcher,
		vote.WithMaxAttempts(cfg.VoteMaxAttempts),
		vote.WithMetrics(collector),
	)
	feedService := feed.NewAssembler(store, tree,
		feed.WithCandidateCap(cfg.TrendingCandidateCap),
		feed.WithTrendWindow(cfg.TrendingWindow),
		feed.WithMetrics(collector),
	)
	rescorer := rescore.NewJob(store, slog.Default(), collector)

	// 4. ルーター
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitPost))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,

		IdeaService:   ideaService,
		VoteService:   voteService,
		FeedService:   feedService,
		ThreadService: tree,
		BaseURL:       cfg.BaseURL,

		Store:          store,
		MetricsHandler: metrics.Handler(reg),
		Realtime:       hub,

		Rescorer:   rescorer,
		AdminToken: cfg.AdminToken,
	})

	s := &server{
		http: &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		dispatcher: dispatcher,
		hub:        hub,
		limiter:    limiter,
		rescorer:   rescorer,
		maxConns:   cfg.MaxConnections,
	}
	if cfg.UsesMemoryStore() {
		s.rescoreInterval = cfg.RescoreInterval
	}
	return s, nil
}

// run はlnで接続を受け付け、ctxがキャンセルされるとグレースフルシャットダウンする。
// 同時接続数はmaxConnsで制限する。
func (s *server) run(ctx context.Context, ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	// ディスパッチャはCloseで停止させ、受付済みのイベントを配送しきる
	dispatchCtx := context.WithoutCancel(ctx)
	rescoreCtx, cancelRescore := context.WithCancel(dispatchCtx)
	defer cancelRescore()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatcher.Run(dispatchCtx)
	}()
	if s.rescoreInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.rescorer.Start(rescoreCtx, s.rescoreInterval)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down API server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("server listen error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	s.dispatcher.Close()
	// WebSocketはhijack済みでShutdownの対象外のため、配送しきった後に明示的に閉じる
	s.hub.Close()
	s.limiter.Stop()
	cancelRescore()
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		slog.Warn("background workers did not stop before the shutdown deadline")
	}

	if runErr == nil {
		slog.Info("API server stopped gracefully")
	}
	return runErr
}

// runServe はAPIサーバーモードで起動する。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	srv, err := newServer(cfg, store)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", srv.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.http.Addr, err)
	}
	return srv.run(ctx, ln)
}

// runWorker はスコア再計算ワーカーとして常駐する。ctxがキャンセルされると終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.UsesMemoryStore() {
		return errors.New("worker requires a PostgreSQL DATABASE_URL; the in-memory store is rescored by serve")
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	job := rescore.NewJob(store, slog.Default(), nil)

	slog.Info("worker starting", slog.Duration("rescore_interval", cfg.RescoreInterval))
	job.Start(ctx, cfg.RescoreInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runRescore はスコア再計算を1回実行し、結果をJSONでoutに書き出す。
func runRescore(ctx context.Context, cfg *config.Config, out io.Writer) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := rescore.NewJob(store, slog.Default(), nil).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("rescore failed: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。インメモリストアでは何もしない。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.UsesMemoryStore() {
		slog.Info("in-memory store has no schema; skipping migrations")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
