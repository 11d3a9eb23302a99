package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mailingest/backend/internal/domain"
)

const metaSuffix = ".meta.json"

// FileStore 文件系统对象存储
type FileStore struct {
	basePath string // 存储根目录（绝对路径）
}

// objectMeta 与对象并列保存的元数据
type objectMeta struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	SavedAt     string `json:"savedAt"`
}

// NewFileStore 创建文件系统对象存储
func NewFileStore(basePath string) (*FileStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("invalid base path: empty")
	}
	if len(basePath) > 2000 {
		return nil, fmt.Errorf("invalid base path: too long (%d characters)", len(basePath))
	}
	if strings.Contains(basePath, "..") {
		return nil, fmt.Errorf("invalid base path: path traversal detected: %s", basePath)
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	// 确保基础目录存在
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{basePath: absPath}, nil
}

// Put 写入对象，返回 "file://" 绝对路径定位符。
// 先写临时文件再重命名，重复写入同一 key 时原子覆盖。
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", domain.Permanent("blob put", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", domain.Transient("blob put", fmt.Errorf("failed to create object directory: %w", err))
	}
	if err := writeAtomic(target, data); err != nil {
		return "", domain.Transient("blob put", fmt.Errorf("failed to write object: %w", err))
	}

	meta, _ := json.MarshalIndent(objectMeta{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		SavedAt:     time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err := writeAtomic(target+metaSuffix, meta); err != nil {
		return "", domain.Transient("blob put", fmt.Errorf("failed to write object metadata: %w", err))
	}

	return "file://" + filepath.ToSlash(target), nil
}

// Get 读取对象内容及其 content type
func (s *FileStore) Get(key string) ([]byte, string, error) {
	if err := ValidateKey(key); err != nil {
		return nil, "", err
	}
	target := s.path(key)

	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("failed to read object: %w", err)
	}

	var meta objectMeta
	if raw, err := os.ReadFile(target + metaSuffix); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	return data, meta.ContentType, nil
}

// Stats 统计 prefix 下的对象数量与大小，按扩展名分组。prefix 目录不存在时结果为空。
func (s *FileStore) Stats(ctx context.Context, prefix string) (map[string]interface{}, error) {
	root := s.basePath
	if prefix != "" {
		root = filepath.Join(s.basePath, filepath.FromSlash(strings.Trim(prefix, "/")))
	}

	var st objectStats
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 跳过错误，继续遍历
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || strings.HasSuffix(p, metaSuffix) || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		st.add(info.Name(), info.Size())
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := st.report()
	out["base_path"] = s.basePath
	out["prefix"] = prefix
	return out, nil
}

// Ping 检查根目录可写
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.basePath)
	}
	return nil
}

// Close 无需释放资源
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, target)
}
