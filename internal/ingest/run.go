package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/logger"
	"mailingest/backend/internal/retry"
)

// run 是一次运行的上下文，只在本次运行内有效
type run struct {
	id      string
	log     *zap.Logger
	summary *domain.RunSummary
	o       *Orchestrator

	mu         sync.Mutex
	refreshed  bool
	refreshErr error
	authFatal  atomic.Bool
	fatalErr   atomic.Value
}

func (o *Orchestrator) newRun() *run {
	id := uuid.NewString()
	return &run{
		id:  id,
		log: logger.ForRun(o.log, id),
		summary: &domain.RunSummary{
			RunID:     id,
			StartedAt: time.Now().UTC(),
		},
		o: o,
	}
}

// refresh 每次运行最多刷新一次凭证，之后的调用复用第一次的结果
func (r *run) refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refreshed {
		return r.refreshErr
	}
	r.refreshed = true

	if r.o.deps.Refresher == nil {
		r.refreshErr = domain.NewError(domain.KindAuthExpired, "refresh", errNoRefresher)
		return r.refreshErr
	}
	r.log.Info("access token rejected, refreshing")
	if _, err := r.o.deps.Refresher.Refresh(ctx); err != nil {
		r.refreshErr = err
		return err
	}
	return nil
}

// withAuth 执行 fn，遇到凭证过期时刷新一次后再执行一次。
// 刷新失败或刷新后仍然过期时，本次运行进入凭证失败状态。
func (r *run) withAuth(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if domain.KindOf(err) != domain.KindAuthExpired {
		return err
	}
	if rerr := r.refresh(ctx); rerr != nil {
		r.markAuthFatal(rerr)
		return domain.NewError(domain.KindAuthExpired, "refresh", rerr)
	}
	err = fn(ctx)
	if domain.KindOf(err) == domain.KindAuthExpired {
		r.markAuthFatal(err)
	}
	return err
}

func (r *run) markAuthFatal(err error) {
	if r.authFatal.CompareAndSwap(false, true) {
		r.fatalErr.Store(err)
		r.log.Error("credentials cannot be refreshed, stopping run", zap.Error(err))
	}
}

func (r *run) authFailed() bool {
	return r.authFatal.Load()
}

func (r *run) authErr() error {
	if err, ok := r.fatalErr.Load().(error); ok {
		return err
	}
	return domain.ErrAuthExpired
}

// call 以重试策略执行阻塞调用，并处理凭证过期
func (r *run) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return r.withAuth(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, r.o.cfg.Retry, fn, func(attempt int, err error) {
			if domain.IsRetryable(err) && attempt < r.o.cfg.Retry.MaxAttempts {
				r.o.deps.Metrics.RecordRetry(op)
				r.log.Debug("retrying call", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			}
		})
	})
}

// callValue 与 call 相同，但返回结果
func callValue[T any](ctx context.Context, r *run, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.call(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// shouldStop 判断是否应停止开始新的邮件
func (r *run) shouldStop(ctx context.Context) bool {
	if r.authFailed() || ctx.Err() != nil {
		return true
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < r.o.cfg.DeadlineMargin {
		return true
	}
	return false
}
