// Package ingest 编排单次运行：取增量、逐封处理邮件、写入记录、确认并提交游标。
//
// 每封邮件经过 Fetched -> Extracted -> AttachmentsStored -> RecordStored -> Acknowledged，
// 任一阶段重试耗尽或遇到不可重试错误即进入失败态。游标只在一次运行结束后推进，
// 并且不会越过任何尚未完成的邮件。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"mailingest/backend/internal/attachment"
	"mailingest/backend/internal/cursor"
	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/mailbox"
	"mailingest/backend/internal/mime"
	"mailingest/backend/internal/monitoring"
	"mailingest/backend/internal/record"
	"mailingest/backend/internal/retry"
	"mailingest/backend/internal/sink"
)

// ErrMailboxUnavailable 本次运行中所有邮件都因 IO 错误失败
var ErrMailboxUnavailable = errors.New("mailbox unavailable: every message failed with an io error")

// Refresher 强制刷新访问令牌
type Refresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// Config 编排参数
type Config struct {
	Workers            int           // 并行处理的邮件数
	Deadline           time.Duration // 单次运行的总时限，0 表示只使用上层 context 的时限
	DeadlineMargin     time.Duration // 距时限不足该值时不再开始新的邮件
	AckLabel           string        // 确认时移除的标签，空表示不修改邮箱
	FallbackMaxResults int           // 未读扫描的上限
	BatchSize          int           // 写入结构化存储的批大小
	LockTTL            time.Duration // 运行锁有效期，0 表示不加锁
	Retry              retry.Policy  // 所有阻塞调用的重试策略
}

func (c *Config) setDefaults() {
	if c.Workers < 1 {
		c.Workers = 5
	}
	if c.FallbackMaxResults < 1 {
		c.FallbackMaxResults = 50
	}
	if c.BatchSize < 1 {
		c.BatchSize = 100
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry = retry.DefaultPolicy()
	}
}

// Deps 编排器依赖的组件
type Deps struct {
	Mailbox   mailbox.Client
	Tracker   *cursor.Tracker
	Persister *attachment.Persister
	Builder   *record.Builder
	Writer    sink.Writer
	Refresher Refresher           // 可为 nil，此时凭证过期直接使运行失败
	Metrics   *monitoring.Metrics // 可为 nil
}

// Orchestrator 摄取编排器
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

// New 创建编排器
func New(deps Deps, cfg Config, log *zap.Logger) *Orchestrator {
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	if deps.Builder == nil {
		deps.Builder = record.NewBuilder(record.DefaultMaxBodyLength)
	}
	return &Orchestrator{deps: deps, cfg: cfg, log: log}
}

// HandleEvent 处理一条通知事件。
// 指定了邮件ID的事件只处理该邮件，不涉及游标；否则按游标提示执行增量运行。
func (o *Orchestrator) HandleEvent(ctx context.Context, ev domain.Event) (*domain.RunSummary, error) {
	if ev.IsSingleMessage() {
		return o.ProcessMessage(ctx, ev.MessageID)
	}
	return o.Run(ctx, ev.CursorHint)
}

// Run 执行一次增量运行。
//
// 参数:
//   - ctx: 宿主环境给出的 context，其截止时间与 Config.Deadline 取较早者
//   - hint: 通知携带的历史位置，不大于已提交游标时本次运行不做任何事；0 表示无提示
//
// 返回值:
//   - *domain.RunSummary: 运行汇总，出错时也会返回
//   - error: 只有游标读取或提交失败、增量查询失败、凭证刷新失败或邮箱整体不可用时返回
func (o *Orchestrator) Run(ctx context.Context, hint uint64) (*domain.RunSummary, error) {
	r := o.newRun()
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	summary, err := o.run(ctx, r, hint)
	o.finish(r, err)
	return summary, err
}

func (o *Orchestrator) run(ctx context.Context, r *run, hint uint64) (*domain.RunSummary, error) {
	s := r.summary

	if locker := o.deps.Tracker.Locker(); locker != nil && o.cfg.LockTTL > 0 {
		ok, err := locker.Lock(ctx, r.id, o.cfg.LockTTL)
		switch {
		case err != nil:
			r.log.Warn("run lock unavailable, continuing without it", zap.Error(err))
		case !ok:
			s.Busy = true
			r.log.Info("another run holds the lock")
			return s, nil
		default:
			defer func() {
				unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := locker.Unlock(unlockCtx, r.id); err != nil {
					r.log.Warn("release run lock", zap.Error(err))
				}
			}()
		}
	}

	cur, err := o.deps.Tracker.Current(ctx)
	if err != nil {
		return s, fmt.Errorf("load cursor: %w", err)
	}
	s.CursorBefore = cur.Position
	s.CursorAfter = cur.Position

	if hint != 0 && !cur.IsZero() && hint <= cur.Position {
		r.log.Info("event already covered by cursor",
			zap.Uint64("hint", hint), zap.Uint64("cursor", cur.Position))
		return s, nil
	}

	delta, err := o.delta(ctx, r, cur)
	if err != nil {
		return s, err
	}
	s.Fallback = delta.Fallback
	s.Fetched = len(delta.Changes)

	items := make([]*item, len(delta.Changes))
	for i, c := range delta.Changes {
		items[i] = o.fetchItem(r, c.MessageID)
	}
	o.process(ctx, r, items)

	unresolved := -1
	for i, it := range items {
		if !it.resolved() {
			unresolved = i
			break
		}
	}

	if o.unavailable(items) {
		return s, domain.Transient("ingest", ErrMailboxUnavailable)
	}

	if pos := cursor.SafePosition(delta, unresolved); pos > cur.Position {
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.commitTimeout())
		defer cancel()
		if _, err := o.deps.Tracker.Commit(commitCtx, pos); err != nil {
			return s, err
		}
		s.CursorAfter = pos
	} else if unresolved >= 0 {
		r.log.Info("cursor held back by unresolved message",
			zap.String("message_id", items[unresolved].state.MessageID))
	}

	if r.authFailed() {
		return s, fmt.Errorf("credential refresh failed: %w", r.authErr())
	}
	return s, nil
}

// delta 计算本次运行要处理的邮件。
// 没有游标或历史窗口过期时改用有界的未读扫描，并以扫描前的邮箱位置作为新游标。
func (o *Orchestrator) delta(ctx context.Context, r *run, cur domain.Cursor) (domain.Delta, error) {
	if !cur.IsZero() {
		var delta domain.Delta
		err := r.withAuth(ctx, func(ctx context.Context) error {
			var err error
			delta, err = o.deps.Tracker.Delta(ctx, cur.Position)
			return err
		})
		if err == nil {
			return delta, nil
		}
		if !errors.Is(err, domain.ErrCursorExpired) {
			return domain.Delta{}, fmt.Errorf("list changes since %d: %w", cur.Position, err)
		}
		r.log.Warn("history window expired, falling back to unread scan",
			zap.Uint64("cursor", cur.Position), zap.Int("max", o.cfg.FallbackMaxResults))
	} else {
		r.log.Info("no cursor stored, bootstrapping from unread scan",
			zap.Int("max", o.cfg.FallbackMaxResults))
	}

	pos, err := callValue(ctx, r, "users.getProfile", func(ctx context.Context) (uint64, error) {
		return o.deps.Mailbox.CurrentPosition(ctx)
	})
	if err != nil {
		return domain.Delta{}, fmt.Errorf("read mailbox position: %w", err)
	}
	ids, err := callValue(ctx, r, "messages.list", func(ctx context.Context) ([]string, error) {
		return o.deps.Mailbox.ListUnread(ctx, o.cfg.FallbackMaxResults)
	})
	if err != nil {
		return domain.Delta{}, fmt.Errorf("list unread: %w", err)
	}

	delta := domain.Delta{NewCursor: pos, Fallback: true}
	for _, id := range ids {
		delta.Changes = append(delta.Changes, domain.Change{MessageID: id})
	}
	return delta, nil
}

// ProcessMessage 处理单封邮件，不读取也不提交游标
func (o *Orchestrator) ProcessMessage(ctx context.Context, messageID string) (*domain.RunSummary, error) {
	r := o.newRun()
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	r.summary.Fetched = 1
	o.process(ctx, r, []*item{o.fetchItem(r, messageID)})

	var err error
	if r.authFailed() {
		err = fmt.Errorf("credential refresh failed: %w", r.authErr())
	}
	o.finish(r, err)
	return r.summary, err
}

// ProcessRaw 处理一封原始 RFC 822 邮件，记录ID取自 Message-ID 头。
// 邮件不在邮箱中，因此没有确认步骤。
func (o *Orchestrator) ProcessRaw(ctx context.Context, raw []byte) (*domain.RunSummary, error) {
	root, meta, err := mime.ParseRaw(raw)
	if err != nil {
		return nil, err
	}
	if meta.ID == "" {
		return nil, domain.Permanent("parse raw", errors.New("message has no Message-ID header"))
	}

	r := o.newRun()
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	r.summary.Fetched = 1
	msg := &mailbox.Message{Meta: meta, Root: root}
	it := &item{
		state: domain.NewProcessingState(meta.ID),
		load:  func(context.Context) (*mailbox.Message, error) { return msg, nil },
	}
	o.process(ctx, r, []*item{it})
	o.finish(r, nil)
	return r.summary, nil
}

// withDeadline 为运行设置总时限
func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.Deadline > 0 {
		return context.WithTimeout(ctx, o.cfg.Deadline)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) commitTimeout() time.Duration {
	if o.cfg.Retry.CallTimeout > 0 {
		return time.Duration(o.cfg.Retry.MaxAttempts) * o.cfg.Retry.CallTimeout
	}
	return 30 * time.Second
}

// unavailable 判断是否所有已开始的邮件都在取回阶段因 IO 错误失败
func (o *Orchestrator) unavailable(items []*item) bool {
	started := 0
	for _, it := range items {
		if !it.started {
			continue
		}
		if it.interrupted {
			return false
		}
		started++
		st := it.state
		if !st.Failed || st.FailedAt != domain.StageFetched || domain.KindOf(st.Reason) != domain.KindTransientIO {
			return false
		}
	}
	return started > 0
}

// finish 记录运行结束的日志和指标
func (o *Orchestrator) finish(r *run, err error) {
	s := r.summary
	s.FinishedAt = time.Now().UTC()
	fields := []zap.Field{
		zap.Int("fetched", s.Fetched),
		zap.Int("stored", s.Stored),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("partial", s.Partial),
		zap.Int("deferred", s.Deferred),
		zap.Int("ack_failed", s.AckFailed),
		zap.Bool("fallback", s.Fallback),
		zap.Uint64("cursor_before", s.CursorBefore),
		zap.Uint64("cursor_after", s.CursorAfter),
		zap.Duration("duration", s.FinishedAt.Sub(s.StartedAt)),
	}
	if err != nil {
		r.log.Error("run failed", append(fields, zap.Error(err))...)
	} else {
		r.log.Info("run finished", fields...)
	}
	o.deps.Metrics.ObserveRun(s, err)
}
