package cursor

import (
	"context"
	"sync"
	"time"

	"mailingest/backend/internal/domain"
)

// MemoryStore 是进程内的检查点存储，用于测试和单机开发
type MemoryStore struct {
	mu       sync.Mutex
	cursor   domain.Cursor
	owner    string
	lockedAt time.Time
	ttl      time.Duration
	// FailAdvance 非空时 Advance 返回该错误，用于模拟提交失败
	FailAdvance error
}

// NewMemoryStore 创建内存检查点存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load 读取当前检查点
func (m *MemoryStore) Load(_ context.Context) (domain.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

// Advance 单调推进检查点
func (m *MemoryStore) Advance(_ context.Context, position uint64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAdvance != nil {
		return false, m.FailAdvance
	}
	if position <= m.cursor.Position {
		return false, nil
	}
	m.cursor = domain.Cursor{Position: position, CommittedAt: at}
	return true, nil
}

// Lock 获取运行锁
func (m *MemoryStore) Lock(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != "" && m.owner != owner && time.Since(m.lockedAt) < m.ttl {
		return false, nil
	}
	m.owner, m.lockedAt, m.ttl = owner, time.Now(), ttl
	return true, nil
}

// Unlock 释放运行锁
func (m *MemoryStore) Unlock(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == owner {
		m.owner = ""
	}
	return nil
}

// Close 无操作
func (m *MemoryStore) Close() error { return nil }
