package worker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-sync/internal/service"
)

type Syncer interface {
	Synchronize(ctx context.Context) (service.SyncResult, error)
}

// Connectivity проверяет, есть ли сеть. Без сети синхронизация пропускается.
type Connectivity func(ctx context.Context) error

// Run — итог последнего запуска синхронизации.
type Run struct {
	At      time.Time          `json:"at"`
	Result  service.SyncResult `json:"result,omitempty"`
	Skipped bool               `json:"skipped,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Pool запускает синхронизацию периодически и по запросу (RunOnce).
type Pool struct {
	syncer   Syncer
	logger   *zap.Logger
	count    int
	interval time.Duration
	online   Connectivity

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	trigger  chan struct{}

	mu   sync.Mutex
	last Run
}

func NewPool(syncer Syncer, logger *zap.Logger, count int, interval time.Duration, online Connectivity) *Pool {
	if count < 1 {
		count = 1
	}
	if online == nil {
		online = func(context.Context) error { return nil }
	}
	return &Pool{
		syncer:   syncer,
		logger:   logger,
		count:    count,
		interval: interval,
		online:   online,
		stop:     make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting sync workers",
		zap.Int("workers", p.count),
		zap.Duration("interval", p.interval),
	)

	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	if p.interval > 0 {
		p.wg.Add(1)
		go p.schedule(ctx)
	}
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping sync workers...")
		close(p.stop)
		p.wg.Wait()
		p.logger.Info("Sync workers stopped")
	})
}

// RunOnce ставит разовую синхронизацию в очередь. Повторные запросы,
// пока предыдущий не взят в работу, склеиваются.
func (p *Pool) RunOnce() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Pool) LastRun() Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Pool) schedule(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce()
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-p.trigger:
			p.process(ctx, id)
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int) {
	run := Run{At: time.Now()}
	defer func() {
		p.mu.Lock()
		p.last = run
		p.mu.Unlock()
	}()

	if err := p.online(ctx); err != nil {
		run.Skipped = true
		run.Error = err.Error()
		p.logger.Info("No network, sync skipped", zap.Int("worker", workerID), zap.Error(err))
		return
	}

	start := time.Now()
	result, err := p.syncer.Synchronize(ctx)
	if err != nil {
		run.Error = err.Error()
		p.logger.Error("sync failed", zap.Int("worker", workerID), zap.Error(err))
		return
	}

	run.Result = result
	p.logger.Info("Sync completed",
		zap.Int("worker", workerID),
		zap.String("result", string(result)),
		zap.Duration("took", time.Since(start)),
	)
}

// DialCheck считает сеть доступной, если до хоста бэкенда открывается TCP-соединение.
func DialCheck(baseURL string, timeout time.Duration) (Connectivity, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", baseURL)
	}

	addr := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}

	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}, nil
}
