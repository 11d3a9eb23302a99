package cursor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/retry"
)

// Tracker 组合增量来源与检查点存储
type Tracker struct {
	store  Store
	source Source
	policy retry.Policy
	now    func() time.Time
	log    *zap.Logger
}

// NewTracker 创建游标跟踪器
func NewTracker(store Store, source Source, policy retry.Policy, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		source: source,
		policy: policy,
		now:    time.Now,
		log:    log,
	}
}

// Current 读取已提交的游标
func (t *Tracker) Current(ctx context.Context) (domain.Cursor, error) {
	return retry.Value(ctx, t.policy, func(ctx context.Context) (domain.Cursor, error) {
		c, err := t.store.Load(ctx)
		if err != nil {
			return domain.Cursor{}, domain.Transient("cursor.load", err)
		}
		return c, nil
	})
}

// Delta 返回 since 之后的增量。
// 对同一个 since 重复调用得到相同的邮件序列（历史未过期的前提下）。
// 历史窗口过期时返回 KindCursorExpired 错误。
func (t *Tracker) Delta(ctx context.Context, since uint64) (domain.Delta, error) {
	delta, err := retry.Value(ctx, t.policy, func(ctx context.Context) (domain.Delta, error) {
		return t.source.ListChangesSince(ctx, since)
	})
	if err != nil {
		return domain.Delta{}, err
	}
	if delta.NewCursor < since {
		delta.NewCursor = since
	}
	return delta, nil
}

// Commit 推进检查点。position 不大于当前值时不做任何事。
// 写入失败时返回错误，调用方应将本次运行视为失败。
func (t *Tracker) Commit(ctx context.Context, position uint64) (bool, error) {
	if position == 0 {
		return false, nil
	}
	at := t.now().UTC()
	advanced, err := retry.Value(ctx, t.policy, func(ctx context.Context) (bool, error) {
		ok, err := t.store.Advance(ctx, position, at)
		if err != nil {
			return false, domain.Transient("cursor.commit", err)
		}
		return ok, nil
	})
	if err != nil {
		return false, fmt.Errorf("commit cursor %d: %w", position, err)
	}
	if advanced {
		t.log.Info("cursor advanced", zap.Uint64("position", position))
	} else {
		t.log.Debug("cursor not advanced, stored position is newer", zap.Uint64("position", position))
	}
	return advanced, nil
}

// Locker 返回存储附带的运行锁，不支持时返回 nil
func (t *Tracker) Locker() Locker {
	if l, ok := t.store.(Locker); ok {
		return l
	}
	return nil
}
