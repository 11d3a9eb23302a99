// Package notify 解码邮箱变更通知，并提供 Pub/Sub 拉取订阅者。
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"mailingest/backend/internal/domain"
)

// ErrEmptyEvent 通知既没有历史位置也没有邮件ID
var ErrEmptyEvent = errors.New("notification carries neither historyId nor messageId")

// PushMessage 是推送信封中的消息
type PushMessage struct {
	Data        []byte            `json:"data"` // 已 base64 解码的载荷
	ID          string            `json:"messageId"`
	PublishTime time.Time         `json:"publishTime"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// PushEnvelope 是 Pub/Sub 推送请求的请求体
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// DecodePush 解析推送请求体，返回其中的通知事件
func DecodePush(body []byte) (PushEnvelope, domain.Event, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, domain.Event{}, domain.Permanent("decode push envelope", err)
	}
	if len(env.Message.Data) == 0 {
		return env, domain.Event{}, domain.Permanent("decode push envelope", errors.New("message has no data"))
	}
	ev, err := DecodeEvent(env.Message.Data)
	return env, ev, err
}

// historyID 接受数字或字符串形式的历史位置
type historyID uint64

func (h *historyID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*h = 0
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid historyId %q: %w", b, err)
	}
	*h = historyID(v)
	return nil
}

type eventPayload struct {
	EmailAddress string    `json:"emailAddress"`
	HistoryID    historyID `json:"historyId"`
	MessageID    string    `json:"messageId"`
}

// DecodeEvent 解析通知载荷，例如 {"emailAddress":"a@b.c","historyId":"12345"}
func DecodeEvent(data []byte) (domain.Event, error) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Event{}, domain.Permanent("decode notification", err)
	}
	ev := domain.Event{
		MailboxAddress: p.EmailAddress,
		CursorHint:     uint64(p.HistoryID),
		MessageID:      p.MessageID,
	}
	if ev.CursorHint == 0 && ev.MessageID == "" {
		return ev, domain.Permanent("decode notification", ErrEmptyEvent)
	}
	return ev, nil
}
