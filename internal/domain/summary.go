package domain

import "time"

// FailedMessage 是失败台账中的一项。
type FailedMessage struct {
	MessageID string `json:"message_id"`
	Stage     Stage  `json:"stage"`
	Kind      Kind   `json:"kind"`
	Reason    string `json:"reason"`
}

// RunSummary 是一次运行对运维可见的汇总。
type RunSummary struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Fetched        int             `json:"fetched"`
	Stored         int             `json:"stored"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	Partial        int             `json:"partial"`         // 带部分失败标记写入的记录数
	AckFailed      int             `json:"ack_failed"`      // 已入库但未能移除标签
	Deferred       int             `json:"deferred"`        // 截止时间前未开始的邮件
	Fallback       bool            `json:"fallback"`        // 是否使用了未读扫描
	Busy           bool            `json:"busy"`            // 另一实例持有运行锁
	CursorBefore   uint64          `json:"cursor_before"`   // 运行开始时的游标
	CursorAfter    uint64          `json:"cursor_after"`    // 运行结束后的游标
	FailedMessages []FailedMessage `json:"failed_messages"` // 失败邮件及原因
}

// AddFailure 记录一封失败的邮件。
// 结构非法的邮件计入 Skipped，其余计入 Failed，两者都进入失败台账。
func (s *RunSummary) AddFailure(state *ProcessingState) {
	reason := ""
	if state.Reason != nil {
		reason = state.Reason.Error()
	}
	kind := KindOf(state.Reason)
	if kind == KindPermanentValidation {
		s.Skipped++
	} else {
		s.Failed++
	}
	s.FailedMessages = append(s.FailedMessages, FailedMessage{
		MessageID: state.MessageID,
		Stage:     state.FailedAt,
		Kind:      kind,
		Reason:    reason,
	})
}
