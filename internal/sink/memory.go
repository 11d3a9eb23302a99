package sink

import (
	"context"
	"sync"

	"mailingest/backend/internal/domain"
)

// MemoryWriter 在内存中保存记录，用于测试和本地运行
type MemoryWriter struct {
	mu      sync.Mutex
	records []domain.MessageRecord
	calls   int
	// Reject 返回非 nil 时对应记录写入失败
	Reject func(rec domain.MessageRecord, call int) error
}

// NewMemoryWriter 创建内存写入器
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// Write 逐条写入，Reject 拒绝的记录不保存
func (m *MemoryWriter) Write(_ context.Context, records []domain.MessageRecord) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	res := Result{Failed: make(map[int]error)}
	for i, rec := range records {
		if m.Reject != nil {
			if err := m.Reject(rec, m.calls); err != nil {
				res.Failed[i] = err
				continue
			}
		}
		m.records = append(m.records, rec)
		res.Inserted++
	}
	return res
}

// Records 返回已保存记录的副本
func (m *MemoryWriter) Records() []domain.MessageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MessageRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Count 返回指定 message_id 的行数
func (m *MemoryWriter) Count(messageID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.MessageID == messageID {
			n++
		}
	}
	return n
}

// Calls 返回 Write 被调用的次数
func (m *MemoryWriter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Ping 总是成功
func (m *MemoryWriter) Ping(context.Context) error { return nil }

// Close 无操作
func (m *MemoryWriter) Close() error { return nil }
