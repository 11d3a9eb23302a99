package domain

import "time"

// MessageRecord 表示一封邮件入库后的结构化记录。
//
// MessageID 是天然的幂等键：同一封邮件在正常流程中只会产生一条有效记录，
// 崩溃重放造成的重复行依靠 ProcessedAt 在下游按"最新处理时间"去重。
type MessageRecord struct {
	MessageID           string           `json:"message_id"`            // 邮件ID（提供方分配）
	ThreadID            string           `json:"thread_id"`             // 会话ID
	Subject             string           `json:"subject"`               // 主题
	Sender              string           `json:"sender"`                // 发件人
	Recipient           string           `json:"recipient"`             // 收件人
	DateReceived        string           `json:"date_received"`         // 原始 Date 头
	ParsedDate          time.Time        `json:"parsed_date"`           // 解析后的时间
	BodyText            string           `json:"body_text"`             // 纯文本正文
	BodyTruncated       bool             `json:"body_truncated"`        // 正文是否被截断
	LabelIDs            []string         `json:"label_ids"`             // 标签集合
	Snippet             string           `json:"snippet"`               // 预览摘要
	MessageSize         int64            `json:"message_size"`          // 字节大小
	AttachmentCount     int              `json:"attachment_count"`      // 附件数量，恒等于 len(Attachments)
	Attachments         []AttachmentInfo `json:"attachments"`           // 已持久化的附件
	TotalAttachmentSize int64            `json:"total_attachment_size"` // 附件总字节数
	PartialFailure      bool             `json:"partial_failure"`       // 部分附件未能保存
	Omissions           []Omission       `json:"omissions,omitempty"`   // 被跳过的部件及原因
	ProcessedAt         time.Time        `json:"processed_at"`          // 处理时间
}

// AttachmentInfo 表示一个已经写入对象存储的附件。
// 只有在字节持久化成功之后才会创建。
type AttachmentInfo struct {
	PartID   string `json:"part_id"`   // 部件ID
	Filename string `json:"filename"`  // 清理后的文件名
	MIMEType string `json:"mime_type"` // MIME类型
	Size     int64  `json:"size"`      // 字节数
	Locator  string `json:"locator"`   // 对象存储中的引用（URL或路径）
}

// Omission 记录一个未能进入记录的部件。
type Omission struct {
	PartID   string `json:"part_id"`
	Filename string `json:"filename,omitempty"`
	Kind     Kind   `json:"kind"`
	Reason   string `json:"reason"`
}

// MessageMeta 是从邮箱接口取得的邮件元数据，供记录构建使用。
type MessageMeta struct {
	ID           string
	ThreadID     string
	Subject      string
	From         string
	To           string
	Date         string
	InternalDate time.Time // 提供方接收时间，Date 头无法解析时的后备
	LabelIDs     []string
	Snippet      string
	SizeEstimate int64
}
