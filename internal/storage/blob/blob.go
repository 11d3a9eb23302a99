// Package blob 提供附件的对象存储后端。
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// Store 是对象存储的最小接口。
// 同一个 key 重复写入会覆盖原对象，不会产生副本。
type Store interface {
	// Put 写入对象并返回可持久引用的定位符
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Ping 检查后端是否可用
	Ping(ctx context.Context) error
	Close() error
}

// StatsReporter 由能统计已存对象的后端实现
type StatsReporter interface {
	// Stats 统计 prefix 下的对象数量与大小，按扩展名分组
	Stats(ctx context.Context, prefix string) (map[string]interface{}, error)
}

// objectStats 汇总对象数量、总大小与扩展名分布
type objectStats struct {
	count       int
	totalSize   int64
	byExtension map[string]int
}

func (s *objectStats) add(name string, size int64) {
	if s.byExtension == nil {
		s.byExtension = make(map[string]int)
	}
	s.count++
	s.totalSize += size

	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		ext = "(none)"
	}
	s.byExtension[ext]++
}

func (s *objectStats) report() map[string]interface{} {
	byExt := s.byExtension
	if byExt == nil {
		byExt = map[string]int{}
	}
	return map[string]interface{}{
		"total_size_bytes": s.totalSize,
		"total_size_mb":    float64(s.totalSize) / 1024 / 1024,
		"object_count":     s.count,
		"by_extension":     byExt,
	}
}

// ValidateKey 校验对象 key：非空、相对路径、不含 ".." 段
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("object key must be a relative slash path: %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid segment in object key: %q", key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("object key is not clean: %q", key)
	}
	return nil
}
