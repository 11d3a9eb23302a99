// Package record 把邮件元数据、正文和附件信息组合成结构化记录。
package record

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"mailingest/backend/internal/domain"
)

// DefaultMaxBodyLength 正文默认最大字节数
const DefaultMaxBodyLength = 1_000_000

// ErrMissingID 元数据缺少邮件ID
var ErrMissingID = errors.New("message metadata has no identifier")

// Builder 记录构建器，不做任何 IO。
type Builder struct {
	MaxBodyLength int              // 正文最大字节数，<=0 时使用默认值
	Now           func() time.Time // 时钟，测试时注入
}

// NewBuilder 创建记录构建器
func NewBuilder(maxBodyLength int) *Builder {
	return &Builder{MaxBodyLength: maxBodyLength, Now: time.Now}
}

// Build 组合一条记录。
//
// 参数:
//   - meta: 邮件元数据，ID 必须非空
//   - body: 提取出的正文
//   - infos: 已持久化的附件
//   - omissions: 提取或存储阶段被跳过的部件
//
// 返回值:
//   - domain.MessageRecord: 构建好的记录，AttachmentCount == len(Attachments)
//   - error: 只在 meta.ID 为空时返回 ErrMissingID
func (b *Builder) Build(meta domain.MessageMeta, body string, infos []domain.AttachmentInfo, omissions []domain.Omission) (domain.MessageRecord, error) {
	if meta.ID == "" {
		return domain.MessageRecord{}, ErrMissingID
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	processedAt := now().UTC()

	maxLen := b.MaxBodyLength
	if maxLen <= 0 {
		maxLen = DefaultMaxBodyLength
	}
	body, truncated := truncateUTF8(body, maxLen)

	attachments := make([]domain.AttachmentInfo, len(infos))
	copy(attachments, infos)
	var total int64
	for _, a := range attachments {
		total += a.Size
	}

	labels := make([]string, len(meta.LabelIDs))
	copy(labels, meta.LabelIDs)

	partial := false
	for _, o := range omissions {
		if o.Kind == domain.KindPartialStorage {
			partial = true
			break
		}
	}

	return domain.MessageRecord{
		MessageID:           meta.ID,
		ThreadID:            meta.ThreadID,
		Subject:             meta.Subject,
		Sender:              meta.From,
		Recipient:           meta.To,
		DateReceived:        meta.Date,
		ParsedDate:          ParseDate(meta.Date, meta.InternalDate, processedAt),
		BodyText:            body,
		BodyTruncated:       truncated,
		LabelIDs:            labels,
		Snippet:             meta.Snippet,
		MessageSize:         meta.SizeEstimate,
		AttachmentCount:     len(attachments),
		Attachments:         attachments,
		TotalAttachmentSize: total,
		PartialFailure:      partial,
		Omissions:           append([]domain.Omission(nil), omissions...),
		ProcessedAt:         processedAt,
	}, nil
}

// 部分客户端在时区后附加 "(UTC)" 之类的注释
var tzComment = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

var fallbackLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// ParseDate 解析 Date 头。
// 无法解析时依次退回到提供方的接收时间和处理时间。
func ParseDate(header string, internal, processed time.Time) time.Time {
	header = strings.TrimSpace(header)
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t.UTC()
		}
		cleaned := tzComment.ReplaceAllString(header, "")
		for _, layout := range fallbackLayouts {
			if t, err := time.Parse(layout, cleaned); err == nil {
				return t.UTC()
			}
		}
	}
	if !internal.IsZero() {
		return internal.UTC()
	}
	return processed.UTC()
}

func truncateUTF8(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n], true
}
