package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingStateForwardOnly(t *testing.T) {
	s := NewProcessingState("m1")

	require.NoError(t, s.Advance(StageFetched))
	require.NoError(t, s.Advance(StageExtracted))

	// 不能跳级，也不能回退
	assert.Error(t, s.Advance(StageRecordStored))
	assert.Error(t, s.Advance(StageFetched))
	assert.Error(t, s.Advance(StageExtracted))

	require.NoError(t, s.Advance(StageAttachmentsStored))
	require.NoError(t, s.Advance(StageRecordStored))
	require.NoError(t, s.Advance(StageAcknowledged))
	assert.True(t, s.Terminal())
	assert.False(t, s.Failed)
}

func TestProcessingStateFailIsAbsorbing(t *testing.T) {
	s := NewProcessingState("m1")
	require.NoError(t, s.Advance(StageFetched))

	s.Fail(StageExtracted, Permanent("extract", errors.New("no payload")))
	assert.True(t, s.Terminal())
	assert.Equal(t, StageExtracted, s.FailedAt)
	assert.Error(t, s.Advance(StageExtracted))

	// 第二次失败不覆盖第一次的原因
	s.Fail(StageRecordStored, errors.New("other"))
	assert.Equal(t, StageExtracted, s.FailedAt)
}

func TestRunSummaryAddFailure(t *testing.T) {
	var sum RunSummary

	bad := NewProcessingState("bad")
	bad.Fail(StageFetched, Permanent("fetch", errors.New("not found")))
	sum.AddFailure(bad)

	slow := NewProcessingState("slow")
	slow.Fail(StageRecordStored, Transient("insert", errors.New("timeout")))
	sum.AddFailure(slow)

	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.FailedMessages, 2)
	assert.Equal(t, KindPermanentValidation, sum.FailedMessages[0].Kind)
	assert.Equal(t, StageRecordStored, sum.FailedMessages[1].Stage)
}
