package domain

// Event 是一次通知事件。
//
// 两种形态：只带 CursorHint（邮箱有变更），
// 或者带 MailboxAddress + MessageID（指定处理单封邮件）。
type Event struct {
	MailboxAddress string `json:"emailAddress,omitempty"`
	CursorHint     uint64 `json:"historyId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

// IsSingleMessage 判断事件是否指定了单封邮件
func (e Event) IsSingleMessage() bool {
	return e.MessageID != ""
}
