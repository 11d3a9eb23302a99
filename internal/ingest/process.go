package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailingest/backend/internal/attachment"
	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/logger"
	"mailingest/backend/internal/mailbox"
	"mailingest/backend/internal/mime"
	"mailingest/backend/internal/pool"
	"mailingest/backend/internal/sink"
)

var errNoRefresher = errors.New("no credential refresher configured")

// item 是一封邮件在本次运行中的处理单元
type item struct {
	state   *domain.ProcessingState
	load    func(ctx context.Context) (*mailbox.Message, error)
	ack     bool
	started bool
	// interrupted 表示失败发生在运行时限结束之后，不算终态
	interrupted bool
	record  *domain.MessageRecord
	began   time.Time
}

// resolved 判断邮件是否已经终结，可以被游标越过。
// 凭证失败不算终结，下次运行会重新处理。
func (it *item) resolved() bool {
	if !it.started {
		return false
	}
	st := it.state
	if st.Failed {
		return !it.interrupted && domain.KindOf(st.Reason) != domain.KindAuthExpired
	}
	return st.Stage >= domain.StageRecordStored
}

// fetchItem 创建从邮箱取回的处理单元
func (o *Orchestrator) fetchItem(r *run, id string) *item {
	return &item{
		state: domain.NewProcessingState(id),
		ack:   true,
		load: func(ctx context.Context) (*mailbox.Message, error) {
			return callValue(ctx, r, "messages.get", func(ctx context.Context) (*mailbox.Message, error) {
				return o.deps.Mailbox.FetchMessage(ctx, id)
			})
		},
	}
}

// process 依次执行准备（并行）、写入、确认三个阶段，最后汇总
func (o *Orchestrator) process(ctx context.Context, r *run, items []*item) {
	if len(items) == 0 {
		return
	}

	wp := pool.NewWorkerPool(o.cfg.Workers, 0, r.log)
	wp.OnPanic(func(interface{}) { o.deps.Metrics.RecordPanic() })
	wp.Start(ctx)
	for _, it := range items {
		if r.shouldStop(ctx) {
			break
		}
		if err := wp.Submit(ctx, func(ctx context.Context) { o.prepare(ctx, r, it) }); err != nil {
			break
		}
	}
	wp.Stop()

	flushCtx, cancel := o.flushContext(ctx)
	defer cancel()
	o.write(flushCtx, r, items)
	o.acknowledge(flushCtx, r, items)
	o.tally(r, items)
}

// flushContext 返回写入和确认阶段使用的 context。
// 运行时限到达后，已准备好的记录仍有 DeadlineMargin 的时间落盘并确认。
func (o *Orchestrator) flushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	grace := o.cfg.DeadlineMargin
	if grace <= 0 {
		grace = o.commitTimeout()
	}
	if ctx.Err() != nil {
		return context.WithTimeout(context.WithoutCancel(ctx), grace)
	}
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(context.WithoutCancel(ctx), deadline.Add(grace))
	}
	return context.WithCancel(ctx)
}

// prepare 执行取回、提取、附件持久化并构建记录
func (o *Orchestrator) prepare(ctx context.Context, r *run, it *item) {
	if r.shouldStop(ctx) {
		return
	}
	it.started = true
	it.began = time.Now()
	st := it.state
	log := logger.ForMessage(o.log, r.id, st.MessageID)
	fail := func(at domain.Stage, err error) { o.fail(ctx, log, it, at, err) }

	defer func() {
		if rec := recover(); rec != nil {
			st.Fail(st.Stage.Next(), fmt.Errorf("panic: %v", rec))
			panic(rec)
		}
	}()

	msg, err := it.load(ctx)
	if err != nil {
		fail(domain.StageFetched, err)
		return
	}
	_ = st.Advance(domain.StageFetched)

	ext, err := mime.Extract(msg.Root)
	if err != nil {
		fail(domain.StageExtracted, err)
		return
	}
	_ = st.Advance(domain.StageExtracted)

	src := attachment.SourceFunc(func(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
		return callValue(ctx, r, "attachments.get", func(ctx context.Context) ([]byte, error) {
			return o.deps.Mailbox.FetchAttachment(ctx, messageID, attachmentID)
		})
	})
	res, err := o.deps.Persister.StoreAll(ctx, st.MessageID, ext.Attachments, src)
	if err != nil {
		fail(domain.StageAttachmentsStored, err)
		return
	}
	for _, info := range res.Stored {
		o.deps.Metrics.RecordAttachment(info.Size)
	}
	_ = st.Advance(domain.StageAttachmentsStored)

	omissions := append(append([]domain.Omission{}, ext.Omissions...), res.Omissions...)
	rec, err := o.deps.Builder.Build(msg.Meta, ext.Body, res.Stored, omissions)
	if err != nil {
		fail(domain.StageRecordStored, domain.Permanent("build record", err))
		return
	}
	it.record = &rec
	log.Debug("message prepared",
		zap.Int("attachments", rec.AttachmentCount),
		zap.Int("omissions", len(rec.Omissions)))
}

// write 把所有准备好的记录写入结构化存储，只重试失败的子集
func (o *Orchestrator) write(ctx context.Context, r *run, items []*item) {
	var (
		records []domain.MessageRecord
		byID    = make(map[string][]*item)
	)
	for _, it := range items {
		if it.record == nil || it.state.Failed {
			continue
		}
		records = append(records, *it.record)
		byID[it.record.MessageID] = append(byID[it.record.MessageID], it)
	}
	if len(records) == 0 {
		return
	}

	out := sink.WriteAll(ctx, o.deps.Writer, records, o.cfg.BatchSize, o.cfg.Retry, r.log)
	o.deps.Metrics.RecordInserted(out.Inserted)

	for id, its := range byID {
		for _, it := range its {
			if err, failed := out.Failed[id]; failed {
				o.fail(ctx, logger.ForMessage(o.log, r.id, id), it, domain.StageRecordStored, err)
				continue
			}
			_ = it.state.Advance(domain.StageRecordStored)
			o.deps.Metrics.RecordMessageProcessed(time.Since(it.began))
		}
	}
}

// acknowledge 对已入库的邮件移除确认标签，这是每封邮件的最后一步。
// 确认失败只计数，邮件仍视为已完成，下次可能被重复投递。
func (o *Orchestrator) acknowledge(ctx context.Context, r *run, items []*item) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, it := range items {
		st := it.state
		if st.Failed || st.Stage != domain.StageRecordStored {
			continue
		}
		if !it.ack || o.cfg.AckLabel == "" {
			_ = st.Advance(domain.StageAcknowledged)
			continue
		}
		g.Go(func() error {
			err := r.call(gctx, "messages.modify", func(ctx context.Context) error {
				return o.deps.Mailbox.RemoveLabel(ctx, st.MessageID, o.cfg.AckLabel)
			})
			if err != nil {
				mu.Lock()
				r.summary.AckFailed++
				mu.Unlock()
				logger.ForMessage(o.log, r.id, st.MessageID).Warn("acknowledge failed, record already stored",
					zap.String("label", o.cfg.AckLabel), zap.Error(err))
				return nil
			}
			_ = st.Advance(domain.StageAcknowledged)
			return nil
		})
	}
	_ = g.Wait()
}

// tally 把每封邮件的最终状态计入运行汇总
func (o *Orchestrator) tally(r *run, items []*item) {
	s := r.summary
	for _, it := range items {
		switch {
		case !it.started, it.interrupted:
			s.Deferred++
		case it.state.Failed:
			s.AddFailure(it.state)
		case it.state.Stage >= domain.StageRecordStored:
			s.Stored++
			if it.record != nil && it.record.PartialFailure {
				s.Partial++
			}
		}
	}
	if s.Deferred > 0 {
		r.log.Warn("messages deferred to the next run", zap.Int("deferred", s.Deferred))
	}
}

// fail 使邮件进入失败态并记录日志
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, it *item, at domain.Stage, err error) {
	it.state.Fail(at, err)
	if ctx.Err() != nil {
		it.interrupted = true
	}
	log.Warn("message failed",
		zap.String("stage", at.String()),
		zap.String("kind", domain.KindOf(err).String()),
		zap.Error(err))
}
