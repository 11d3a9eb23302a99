// Package mailbox 定义邮箱接口，并提供基于 Gmail API 的实现。
package mailbox

import (
	"context"
	"time"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/mime"
)

// Message 是取回的一封完整邮件
type Message struct {
	Meta domain.MessageMeta
	Root *mime.Part
}

// WatchResult 是注册变更监听的结果
type WatchResult struct {
	HistoryID  uint64    // 注册时邮箱的历史位置
	Expiration time.Time // 监听过期时间
}

// Client 是流水线使用的邮箱接口。
// 返回的错误都带有 domain.Kind 分类。
type Client interface {
	// Watch 注册变更监听，通知发往 topic
	Watch(ctx context.Context, topic string, labelIDs []string) (WatchResult, error)
	// StopWatch 取消变更监听
	StopWatch(ctx context.Context) error
	// ListChangesSince 返回 since 之后新增的邮件。历史窗口过期时返回 KindCursorExpired。
	ListChangesSince(ctx context.Context, since uint64) (domain.Delta, error)
	// ListUnread 返回最多 max 封未读邮件的ID
	ListUnread(ctx context.Context, max int) ([]string, error)
	// CurrentPosition 返回邮箱当前的历史位置
	CurrentPosition(ctx context.Context) (uint64, error)
	// FetchMessage 取回完整邮件
	FetchMessage(ctx context.Context, id string) (*Message, error)
	// FetchAttachment 取回附件内容（已解码）
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	// RemoveLabel 移除邮件上的标签
	RemoveLabel(ctx context.Context, id, label string) error
}
