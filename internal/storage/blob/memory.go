package blob

import (
	"context"
	"sync"

	"mailingest/backend/internal/domain"
)

// Object 是内存后端保存的对象
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore 内存对象存储，用于本地开发和测试
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	puts    int
}

// NewMemoryStore 创建内存对象存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Put 写入对象，返回 "mem://" 定位符
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", domain.Permanent("blob put", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[key] = Object{Data: buf, ContentType: contentType}
	s.puts++
	s.mu.Unlock()

	return "mem://" + key, nil
}

// Get 读取对象
func (s *MemoryStore) Get(key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, ErrObjectNotFound
	}
	return obj, nil
}

// Len 返回对象数量
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Puts 返回写入调用次数（包括覆盖）
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Ping 总是可用
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close 无需释放资源
func (s *MemoryStore) Close() error { return nil }
