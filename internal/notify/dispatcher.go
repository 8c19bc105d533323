// Package notify は投票・返信イベントを非同期に通知先へ配送する。
// 発行側は決してブロックせず、配送の失敗が投稿や投票の処理結果に影響することはない。
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/unstabling/internal/metrics"
	"github.com/hitoshi/unstabling/internal/model"
)

// 既定値
const (
	DefaultQueueSize = 256
	DefaultWorkers   = 2
	DefaultTimeout   = 10 * time.Second
)

// Notifier はイベントの配送先。
type Notifier interface {
	// Name はメトリクスとログで使う配送先の名前。
	Name() string
	// Notify はイベントを配送する。ctxには配送ごとのタイムアウトが設定される。
	Notify(ctx context.Context, event model.Event) error
}

// Config はDispatcherの設定。
type Config struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Dispatcher は有界キューとワーカーによるイベント配送を行う。
type Dispatcher struct {
	notifiers []Notifier
	queue     chan model.Event
	workers   int
	timeout   time.Duration
	metrics   metrics.MetricsCollector

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。mはnilでもよい。
func NewDispatcher(cfg Config, m metrics.MetricsCollector, notifiers ...Notifier) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan model.Event, cfg.QueueSize),
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		metrics:   m,
	}
}

// Publish はイベントをキューに積む。キューが満杯または停止済みの場合は破棄する。
func (d *Dispatcher) Publish(event model.Event) {
	d.TryPublish(event)
}

// TryPublish はイベントをキューに積み、積めたかを返す。
func (d *Dispatcher) TryPublish(event model.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- event:
		return true
	default:
		d.metrics.RecordNotificationDropped()
		slog.Warn("通知キューが満杯のためイベントを破棄しました",
			slog.String("kind", string(event.Kind)),
			slog.String("idea_id", event.IdeaID),
		)
		return false
	}
}

// Run はワーカーを起動し、ctxがキャンセルされるかCloseでキューが閉じられるまで配送する。
// キャンセル時にキューに残ったイベントは破棄する。
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-d.queue:
					if !ok {
						return
					}
					d.deliver(ctx, event)
				}
			}
		}()
	}
	d.wg.Wait()
}

// Close は新規イベントの受け付けを止め、キューを閉じる。
// Run中のワーカーは残りのイベントを配送してから終了する。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) deliver(ctx context.Context, event model.Event) {
	for _, n := range d.notifiers {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		err := n.Notify(dctx, event)
		cancel()

		d.metrics.RecordNotification(n.Name(), err == nil)
		if err != nil {
			slog.Error("通知の配送に失敗しました",
				slog.String("notifier", n.Name()),
				slog.String("kind", string(event.Kind)),
				slog.String("idea_id", event.IdeaID),
				slog.String("error", err.Error()),
			)
		}
	}
}
