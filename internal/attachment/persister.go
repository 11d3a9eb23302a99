// Package attachment 把附件内容写入对象存储并生成 AttachmentInfo。
package attachment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/mime"
	"mailingest/backend/internal/retry"
	"mailingest/backend/internal/storage/blob"
)

// Source 获取远程附件内容（已解码）
type Source interface {
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// SourceFunc 把函数适配为 Source
type SourceFunc func(ctx context.Context, messageID, attachmentID string) ([]byte, error)

// FetchAttachment 实现 Source
func (f SourceFunc) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	return f(ctx, messageID, attachmentID)
}

// Config 持久化配置
type Config struct {
	KeyPrefix   string       // 对象 key 前缀，默认 "attachments"
	Concurrency int          // 单封邮件内并行上传数
	Retry       retry.Policy // 单个附件上传的重试策略
}

// Persister 附件持久化器
type Persister struct {
	store  blob.Store
	cfg    Config
	logger *zap.Logger
}

// NewPersister 创建附件持久化器
func NewPersister(store blob.Store, cfg Config, logger *zap.Logger) *Persister {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "attachments"
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{store: store, cfg: cfg, logger: logger}
}

// Key 返回附件的对象 key：{prefix}/{messageID}/{partID}_{filename}。
// 同一 (messageID, partID, filename) 总是得到同一个 key。
func (p *Persister) Key(messageID, partID, filename string) string {
	name := SanitizeFilename(filename)
	if partID != "" {
		name = SanitizeFilename(partID) + "_" + name
	}
	return strings.Join([]string{
		strings.Trim(p.cfg.KeyPrefix, "/"),
		SanitizeFilename(messageID),
		name,
	}, "/")
}

// Store 持久化单个附件。
//
// 参数:
//   - ctx: 上层 context
//   - messageID: 所属邮件ID
//   - d: 附件描述，远程附件需要 src 获取内容
//   - src: 远程附件来源，可为 nil（此时只接受内联附件）
//
// 返回值:
//   - domain.AttachmentInfo: 内容已持久化后的附件信息
//   - error: 内容解码失败为 KindExtraction，存储失败保持后端给出的分类
func (p *Persister) Store(ctx context.Context, messageID string, d mime.Descriptor, src Source) (domain.AttachmentInfo, error) {
	data := d.Data
	if d.Remote() {
		if src == nil {
			return domain.AttachmentInfo{}, domain.Permanent("store attachment", fmt.Errorf("part %s has no inline data and no source", d.PartID))
		}
		fetched, err := src.FetchAttachment(ctx, messageID, d.AttachmentID)
		if err != nil {
			return domain.AttachmentInfo{}, err
		}
		data = fetched
	}
	if data == nil {
		data = []byte{}
	}

	contentType := d.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := p.Key(messageID, d.PartID, d.Filename)

	locator, err := retry.Value(ctx, p.cfg.Retry, func(ctx context.Context) (string, error) {
		return p.store.Put(ctx, key, data, contentType)
	}, func(attempt int, err error) {
		p.logger.Warn("附件上传失败",
			zap.String("message_id", messageID),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
	if err != nil {
		return domain.AttachmentInfo{}, err
	}

	return domain.AttachmentInfo{
		PartID:   d.PartID,
		Filename: SanitizeFilename(d.Filename),
		MIMEType: contentType,
		Size:     int64(len(data)),
		Locator:  locator,
	}, nil
}

// Result 是一封邮件全部附件的持久化结果
type Result struct {
	Stored    []domain.AttachmentInfo
	Omissions []domain.Omission
}

// Partial 是否有附件未能保存
func (r *Result) Partial() bool {
	return len(r.Omissions) > 0
}

// StoreAll 并行持久化一封邮件的所有附件，全部结束后才返回。
//
// 单个附件失败不影响其它附件，失败项进入 Omissions。
// 如果有附件因凭证过期失败，返回该错误，由调用方刷新凭证后重试整个阶段。
// 上层 context 结束时返回 TransientIO 错误而不是 Omissions：
// 被中断的附件没有用完重试次数，整封邮件留待下次运行。
func (p *Persister) StoreAll(ctx context.Context, messageID string, ds []mime.Descriptor, src Source) (*Result, error) {
	infos := make([]*domain.AttachmentInfo, len(ds))
	errs := make([]error, len(ds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var authOnce sync.Once
	var authErr error
	for i, d := range ds {
		g.Go(func() error {
			info, err := p.Store(gctx, messageID, d, src)
			if err != nil {
				errs[i] = err
				if domain.KindOf(err) == domain.KindAuthExpired {
					authOnce.Do(func() { authErr = err })
				}
				return nil
			}
			infos[i] = &info
			return nil
		})
	}
	_ = g.Wait()

	if authErr != nil {
		return nil, authErr
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("store attachments", err)
	}
	for _, err := range errs {
		if errors.Is(err, context.Canceled) {
			return nil, domain.Transient("store attachments", err)
		}
	}

	res := &Result{}
	for i, d := range ds {
		if infos[i] != nil {
			res.Stored = append(res.Stored, *infos[i])
			continue
		}
		kind := domain.KindPartialStorage
		if errors.Is(errs[i], domain.ErrExtraction) {
			kind = domain.KindExtraction
		}
		res.Omissions = append(res.Omissions, domain.Omission{
			PartID:   d.PartID,
			Filename: d.Filename,
			Kind:     kind,
			Reason:   errs[i].Error(),
		})
		p.logger.Warn("附件未保存",
			zap.String("message_id", messageID),
			zap.String("part_id", d.PartID),
			zap.String("kind", kind.String()),
			zap.Error(errs[i]))
	}
	return res, nil
}
