package domain

import "time"

// Cursor 表示邮箱变更历史的消费位置。
// Position 单调递增，CommittedAt 为最近一次成功推进的时间。
type Cursor struct {
	Position    uint64    `json:"position"`
	CommittedAt time.Time `json:"committed_at"`
}

// IsZero 判断游标是否尚未初始化
func (c Cursor) IsZero() bool {
	return c.Position == 0
}

// Change 是增量中的一项：邮件ID及其所在的历史位置。
type Change struct {
	MessageID string
	Position  uint64
}

// Delta 是一次增量查询的结果。
type Delta struct {
	Changes   []Change
	NewCursor uint64
	Fallback  bool // 历史窗口过期，改用未读扫描得到的结果
}

// MessageIDs 按顺序返回增量中的邮件ID
func (d Delta) MessageIDs() []string {
	ids := make([]string, 0, len(d.Changes))
	for _, c := range d.Changes {
		ids = append(ids, c.MessageID)
	}
	return ids
}
