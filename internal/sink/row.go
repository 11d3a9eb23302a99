package sink

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"mailingest/backend/internal/domain"
)

// Row 是记录在表中的列布局，SQL 与 BigQuery 两种后端共用。
// 列表类字段以 JSON 字符串保存。
type Row struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement" bigquery:"-"`
	MessageID           string    `gorm:"column:message_id;size:255;not null;index" bigquery:"message_id"`
	ThreadID            string    `gorm:"column:thread_id;size:255" bigquery:"thread_id"`
	Subject             string    `gorm:"column:subject" bigquery:"subject"`
	Sender              string    `gorm:"column:sender" bigquery:"sender"`
	Recipient           string    `gorm:"column:recipient" bigquery:"recipient"`
	DateReceived        string    `gorm:"column:date_received;size:255" bigquery:"date_received"`
	ParsedDate          time.Time `gorm:"column:parsed_date" bigquery:"parsed_date"`
	BodyText            string    `gorm:"column:body_text" bigquery:"body_text"`
	BodyTruncated       bool      `gorm:"column:body_truncated" bigquery:"body_truncated"`
	LabelIDs            string    `gorm:"column:label_ids" bigquery:"label_ids"`
	Snippet             string    `gorm:"column:snippet" bigquery:"snippet"`
	MessageSize         int64     `gorm:"column:message_size" bigquery:"message_size"`
	AttachmentCount     int64     `gorm:"column:attachment_count" bigquery:"attachment_count"`
	AttachmentSummary   string    `gorm:"column:attachment_summary" bigquery:"attachment_summary"`
	TotalAttachmentSize int64     `gorm:"column:total_attachment_size" bigquery:"total_attachment_size"`
	SuccessfulUploads   int64     `gorm:"column:successful_uploads" bigquery:"successful_uploads"`
	PartialFailure      bool      `gorm:"column:partial_failure" bigquery:"partial_failure"`
	Omissions           string    `gorm:"column:omissions" bigquery:"omissions"`
	ProcessedAt         time.Time `gorm:"column:processed_at;index" bigquery:"processed_at"`
}

// NewRow 把记录转换为行
func NewRow(rec domain.MessageRecord) (Row, error) {
	labels, err := marshalList(rec.LabelIDs)
	if err != nil {
		return Row{}, fmt.Errorf("encode label_ids: %w", err)
	}
	attachments, err := marshalList(rec.Attachments)
	if err != nil {
		return Row{}, fmt.Errorf("encode attachment_summary: %w", err)
	}
	omissions, err := marshalList(rec.Omissions)
	if err != nil {
		return Row{}, fmt.Errorf("encode omissions: %w", err)
	}

	return Row{
		MessageID:           rec.MessageID,
		ThreadID:            rec.ThreadID,
		Subject:             rec.Subject,
		Sender:              rec.Sender,
		Recipient:           rec.Recipient,
		DateReceived:        rec.DateReceived,
		ParsedDate:          rec.ParsedDate.UTC(),
		BodyText:            rec.BodyText,
		BodyTruncated:       rec.BodyTruncated,
		LabelIDs:            labels,
		Snippet:             rec.Snippet,
		MessageSize:         rec.MessageSize,
		AttachmentCount:     int64(rec.AttachmentCount),
		AttachmentSummary:   attachments,
		TotalAttachmentSize: rec.TotalAttachmentSize,
		SuccessfulUploads:   int64(len(rec.Attachments)),
		PartialFailure:      rec.PartialFailure,
		Omissions:           omissions,
		ProcessedAt:         rec.ProcessedAt.UTC(),
	}, nil
}

// InsertID 是单条记录本次处理的插入标识。
// 同一次处理的重试得到相同的值，不同次处理（processed_at 不同）得到不同的值。
func InsertID(rec domain.MessageRecord) string {
	return fmt.Sprintf("%s:%d", rec.MessageID, rec.ProcessedAt.UnixNano())
}

// marshalList 把切片编码为 JSON 数组，nil 编码为 "[]"
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
