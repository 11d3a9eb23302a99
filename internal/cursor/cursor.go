// Package cursor 维护邮箱变更历史的消费位置。
//
// Tracker 通过 Source 计算增量，通过 Store 持久化检查点。
// 检查点只会前进，提交一个不大于当前值的位置不会产生任何效果。
package cursor

import (
	"context"
	"errors"
	"time"

	"mailingest/backend/internal/domain"
)

// ErrLockHeld 表示运行锁已被其他实例持有
var ErrLockHeld = errors.New("cursor lock held by another run")

// Store 持久化游标检查点
type Store interface {
	// Load 读取当前检查点，未初始化时返回零值游标
	Load(ctx context.Context) (domain.Cursor, error)
	// Advance 仅当 position 大于已存储的值时写入，返回是否发生了写入
	Advance(ctx context.Context, position uint64, at time.Time) (bool, error)
	// Close 释放底层连接
	Close() error
}

// Locker 是可选的跨实例运行锁
type Locker interface {
	// Lock 尝试以 owner 身份获取锁，ttl 到期后自动释放
	Lock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	// Unlock 释放 owner 持有的锁，锁已易主时不做任何事
	Unlock(ctx context.Context, owner string) error
}

// Source 提供自某个位置之后的增量
type Source interface {
	ListChangesSince(ctx context.Context, since uint64) (domain.Delta, error)
}

// SafePosition 计算可以安全提交的位置。
//
// firstUnresolved 为增量中第一封未完成邮件的下标，-1 表示全部完成。
// 全部完成时返回 delta.NewCursor；否则返回该邮件所在位置的前一个位置，
// 保证不会越过未完成的邮件。返回 0 表示不应提交。
func SafePosition(delta domain.Delta, firstUnresolved int) uint64 {
	if firstUnresolved < 0 || firstUnresolved >= len(delta.Changes) {
		return delta.NewCursor
	}
	pos := delta.Changes[firstUnresolved].Position
	if pos == 0 {
		return 0
	}
	return pos - 1
}
