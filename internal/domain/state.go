package domain

import "fmt"

// Stage 是单封邮件处理状态机中的阶段。
// 状态只会前进，失败是吸收态。
type Stage int

const (
	StagePending Stage = iota
	StageFetched
	StageExtracted
	StageAttachmentsStored
	StageRecordStored
	StageAcknowledged
)

var stageNames = [...]string{
	StagePending:           "pending",
	StageFetched:           "fetched",
	StageExtracted:         "extracted",
	StageAttachmentsStored: "attachments_stored",
	StageRecordStored:      "record_stored",
	StageAcknowledged:      "acknowledged",
}

func (s Stage) String() string {
	if int(s) >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// MarshalText 以名称序列化
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Next 返回下一个阶段
func (s Stage) Next() Stage {
	if s >= StageAcknowledged {
		return StageAcknowledged
	}
	return s + 1
}

// ProcessingState 是单封邮件在一次运行中的瞬时状态，不做持久化。
type ProcessingState struct {
	MessageID string
	Stage     Stage
	Failed    bool
	FailedAt  Stage // 失败发生时正在尝试进入的阶段
	Reason    error
}

// NewProcessingState 创建处于初始阶段的状态
func NewProcessingState(messageID string) *ProcessingState {
	return &ProcessingState{MessageID: messageID, Stage: StagePending}
}

// Advance 前进到指定阶段。只允许逐级前进，失败后不可再前进。
func (p *ProcessingState) Advance(to Stage) error {
	if p.Failed {
		return fmt.Errorf("message %s already failed at %s", p.MessageID, p.FailedAt)
	}
	if to != p.Stage.Next() || to == p.Stage {
		return fmt.Errorf("message %s: illegal transition %s -> %s", p.MessageID, p.Stage, to)
	}
	p.Stage = to
	return nil
}

// Fail 进入失败态，at 为未能完成的阶段
func (p *ProcessingState) Fail(at Stage, reason error) {
	if p.Failed || p.Stage == StageAcknowledged {
		return
	}
	p.Failed = true
	p.FailedAt = at
	p.Reason = reason
}

// Terminal 判断状态是否已经终结（确认或失败）
func (p *ProcessingState) Terminal() bool {
	return p.Failed || p.Stage == StageAcknowledged
}
