package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/googleerr"
)

// GCSStore Google Cloud Storage 对象存储
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicURLBase string // 非空时返回公开 URL 而不是 gs:// 定位符
}

// NewGCSStore 创建 GCS 对象存储
//
// 参数:
//   - ctx: 用于创建客户端
//   - bucket: 存储桶名称
//   - publicURLBase: 公开访问前缀，例如 https://storage.googleapis.com/my-bucket，可为空
//   - opts: 额外的客户端选项（凭据、endpoint）
func NewGCSStore(ctx context.Context, bucket, publicURLBase string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	return &GCSStore{
		client:        client,
		bucket:        bucket,
		publicURLBase: strings.TrimRight(publicURLBase, "/"),
	}, nil
}

// Put 上传对象。对象名由 key 决定，重复上传覆盖旧版本。
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", domain.Permanent("gcs put", err)
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(writeCtx)
	w.ContentType = contentType
	// 小对象一次性上传
	if len(data) < googleChunkSize {
		w.ChunkSize = 0
	}

	if _, err := w.Write(data); err != nil {
		cancel()
		_ = w.Close()
		return "", googleerr.Classify("gcs put", err)
	}
	if err := w.Close(); err != nil {
		return "", googleerr.Classify("gcs put", err)
	}

	return s.locator(key), nil
}

// Stats 列出 prefix 下的对象，统计数量与大小，按扩展名分组
func (s *GCSStore) Stats(ctx context.Context, prefix string) (map[string]interface{}, error) {
	var st objectStats
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, googleerr.Classify("gcs list", err)
		}
		st.add(attrs.Name, attrs.Size)
	}

	out := st.report()
	out["bucket"] = s.bucket
	out["prefix"] = prefix
	return out, nil
}

// Ping 读取存储桶属性
func (s *GCSStore) Ping(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

// Close 关闭客户端
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) locator(key string) string {
	if s.publicURLBase != "" {
		return s.publicURLBase + "/" + key
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}

// googleChunkSize 是 storage.Writer 的默认分块大小
const googleChunkSize = 16 * 1024 * 1024
