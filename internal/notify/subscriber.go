package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"mailingest/backend/internal/domain"
)

// Handler 处理一条通知事件
type Handler interface {
	HandleEvent(ctx context.Context, ev domain.Event) (*domain.RunSummary, error)
}

// Settings 拉取订阅参数
type Settings struct {
	MaxOutstanding int           // 同时处理的消息数
	Timeout        time.Duration // 单条消息的处理时限
	Mailbox        string        // 只处理该邮箱的通知，空或 "me" 表示不过滤
}

// Subscriber 从 Pub/Sub 拉取订阅接收通知并交给 Handler。
// 处理成功或载荷无效时 Ack；运行失败或另一实例正在运行时 Nack 以便重新投递。
type Subscriber struct {
	client   *pubsub.Client
	sub      *pubsub.Subscription
	handler  Handler
	settings Settings
	log      *zap.Logger
}

// NewSubscriber 创建拉取订阅者
func NewSubscriber(ctx context.Context, project, subscription string, handler Handler, settings Settings, log *zap.Logger) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, err
	}
	return newSubscriber(client, subscription, handler, settings, log), nil
}

func newSubscriber(client *pubsub.Client, subscription string, handler Handler, settings Settings, log *zap.Logger) *Subscriber {
	if settings.MaxOutstanding < 1 {
		settings.MaxOutstanding = 1
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 9 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	sub := client.Subscription(subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = settings.MaxOutstanding
	sub.ReceiveSettings.NumGoroutines = 1
	return &Subscriber{
		client:   client,
		sub:      sub,
		handler:  handler,
		settings: settings,
		log:      log.With(zap.String("subscription", subscription)),
	}
}

// Run 持续接收消息直到 ctx 结束
func (s *Subscriber) Run(ctx context.Context) error {
	s.log.Info("pull subscriber started")
	err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.Handle(ctx, msg.ID, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.log.Info("pull subscriber stopped")
	return nil
}

// Handle 处理一条消息的载荷，返回是否应该 Ack
func (s *Subscriber) Handle(ctx context.Context, id string, data []byte) bool {
	log := s.log.With(zap.String("pubsub_message_id", id))

	ev, err := DecodeEvent(data)
	if err != nil {
		log.Warn("dropping malformed notification", zap.Error(err))
		return true
	}
	if !s.forThisMailbox(ev) {
		log.Info("ignoring notification for another mailbox", zap.String("mailbox", ev.MailboxAddress))
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()

	summary, err := s.handler.HandleEvent(ctx, ev)
	if err != nil {
		log.Error("notification handling failed", zap.Uint64("history_id", ev.CursorHint), zap.Error(err))
		return false
	}
	if summary != nil && summary.Busy {
		log.Info("another run in progress, redelivering later")
		return false
	}
	return true
}

func (s *Subscriber) forThisMailbox(ev domain.Event) bool {
	return MatchesMailbox(s.settings.Mailbox, ev.MailboxAddress)
}

// MatchesMailbox 判断通知是否属于配置的邮箱，configured 为空或 "me" 时总是匹配
func MatchesMailbox(configured, address string) bool {
	if configured == "" || configured == "me" || address == "" {
		return true
	}
	return strings.EqualFold(configured, address)
}

// Close 关闭 Pub/Sub 客户端
func (s *Subscriber) Close() error {
	return s.client.Close()
}
