package mailbox

import (
	"context"
	"errors"
	"fmt"
	stdmime "mime"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/googleerr"
	"mailingest/backend/internal/mime"
)

// Config Gmail 客户端配置
type Config struct {
	User              string        `mapstructure:"user"`                // 邮箱用户，默认 "me"
	Label             string        `mapstructure:"label"`               // 增量与未读扫描限定的标签，默认 INBOX
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // 请求速率上限
	Burst             int           `mapstructure:"burst"`               // 突发请求数
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`     // 熔断打开后多久进入半开
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`    // 连续失败多少次后熔断
}

func (c *Config) setDefaults() {
	if c.User == "" {
		c.User = "me"
	}
	if c.Label == "" {
		c.Label = "INBOX"
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst < 1 {
		c.Burst = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
}

// GmailClient 基于 Gmail API 的邮箱实现。
// 每次调用先经过速率限制，再经过熔断器。
type GmailClient struct {
	svc     *gmail.Service
	cfg     Config
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewGmailClient 创建 Gmail 客户端
//
// 参数:
//   - ctx: 创建服务用的 context
//   - cfg: 客户端配置
//   - logger: 日志记录器
//   - opts: 凭据等客户端选项，通常为 option.WithTokenSource
func NewGmailClient(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*GmailClient, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// 只有可重试的错误才计入熔断，4xx 是请求本身的问题
		IsSuccessful: func(err error) bool {
			return err == nil || googleerr.KindOf(err) != domain.KindTransientIO
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("熔断器状态变化",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &GmailClient{
		svc:     svc,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:      gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}, nil
}

// do 经过限速和熔断执行一次 API 调用，返回未分类的原始错误
func (c *GmailClient) do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.Transient("gmail circuit breaker", err)
	}
	return out, err
}

// Watch 注册变更监听
func (c *GmailClient) Watch(ctx context.Context, topic string, labelIDs []string) (WatchResult, error) {
	req := &gmail.WatchRequest{
		TopicName:           topic,
		LabelIds:            labelIDs,
		LabelFilterBehavior: "include",
	}
	out, err := c.do(ctx, func() (interface{}, error) {
		return c.svc.Users.Watch(c.cfg.User, req).Context(ctx).Do()
	})
	if err != nil {
		return WatchResult{}, googleerr.Classify("users.watch", err)
	}
	resp := out.(*gmail.WatchResponse)
	return WatchResult{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopWatch 取消变更监听
func (c *GmailClient) StopWatch(ctx context.Context) error {
	_, err := c.do(ctx, func() (interface{}, error) {
		return nil, c.svc.Users.Stop(c.cfg.User).Context(ctx).Do()
	})
	return googleerr.Classify("users.stop", err)
}

// ListChangesSince 按页读取历史记录，收集新增邮件。
// 同一邮件只出现一次，顺序为第一次出现的顺序。
func (c *GmailClient) ListChangesSince(ctx context.Context, since uint64) (domain.Delta, error) {
	delta := domain.Delta{NewCursor: since}
	seen := make(map[string]bool)
	pageToken := ""

	for {
		call := c.svc.Users.History.List(c.cfg.User).
			StartHistoryId(since).
			HistoryTypes("messageAdded").
			LabelId(c.cfg.Label).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		out, err := c.do(ctx, func() (interface{}, error) { return call.Do() })
		if err != nil {
			if googleerr.IsNotFound(err) {
				return domain.Delta{}, domain.NewError(domain.KindCursorExpired, "history.list", err)
			}
			return domain.Delta{}, googleerr.Classify("history.list", err)
		}
		resp := out.(*gmail.ListHistoryResponse)

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || added.Message.Id == "" || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				delta.Changes = append(delta.Changes, domain.Change{
					MessageID: added.Message.Id,
					Position:  h.Id,
				})
			}
		}
		if resp.HistoryId > delta.NewCursor {
			delta.NewCursor = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	c.logger.Debug("增量查询完成",
		zap.Uint64("since", since),
		zap.Uint64("new_cursor", delta.NewCursor),
		zap.Int("changes", len(delta.Changes)))
	return delta, nil
}

// ListUnread 返回最多 max 封未读邮件
func (c *GmailClient) ListUnread(ctx context.Context, max int) ([]string, error) {
	if max < 1 {
		max = 1
	}
	var ids []string
	pageToken := ""

	for len(ids) < max {
		call := c.svc.Users.Messages.List(c.cfg.User).
			Q("is:unread").
			LabelIds(c.cfg.Label).
			MaxResults(int64(max - len(ids))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		out, err := c.do(ctx, func() (interface{}, error) { return call.Do() })
		if err != nil {
			return nil, googleerr.Classify("messages.list", err)
		}
		resp := out.(*gmail.ListMessagesResponse)
		for _, m := range resp.Messages {
			if len(ids) == max {
				break
			}
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// CurrentPosition 读取邮箱当前的历史位置
func (c *GmailClient) CurrentPosition(ctx context.Context) (uint64, error) {
	out, err := c.do(ctx, func() (interface{}, error) {
		return c.svc.Users.GetProfile(c.cfg.User).Context(ctx).Do()
	})
	if err != nil {
		return 0, googleerr.Classify("users.getProfile", err)
	}
	return out.(*gmail.Profile).HistoryId, nil
}

// FetchMessage 以 full 格式取回邮件。邮件已被删除时返回 KindPermanentValidation。
func (c *GmailClient) FetchMessage(ctx context.Context, id string) (*Message, error) {
	out, err := c.do(ctx, func() (interface{}, error) {
		return c.svc.Users.Messages.Get(c.cfg.User, id).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, googleerr.Classify("messages.get", err)
	}
	msg := out.(*gmail.Message)
	if msg.Payload == nil {
		return nil, domain.Permanent("messages.get", fmt.Errorf("message %s has no payload", id))
	}
	return convertMessage(msg), nil
}

// FetchAttachment 取回附件并解码
func (c *GmailClient) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	out, err := c.do(ctx, func() (interface{}, error) {
		return c.svc.Users.Messages.Attachments.Get(c.cfg.User, messageID, attachmentID).Context(ctx).Do()
	})
	if err != nil {
		return nil, googleerr.Classify("attachments.get", err)
	}
	return mime.DecodeBase64URL(out.(*gmail.MessagePartBody).Data)
}

// RemoveLabel 移除邮件上的标签
func (c *GmailClient) RemoveLabel(ctx context.Context, id, label string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{label}}
	_, err := c.do(ctx, func() (interface{}, error) {
		return c.svc.Users.Messages.Modify(c.cfg.User, id, req).Context(ctx).Do()
	})
	return googleerr.Classify("messages.modify", err)
}

func convertMessage(msg *gmail.Message) *Message {
	headers := headerMap(msg.Payload.Headers)
	meta := domain.MessageMeta{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Subject:      decodeHeader(headers["subject"]),
		From:         decodeHeader(headers["from"]),
		To:           decodeHeader(headers["to"]),
		Date:         headers["date"],
		LabelIDs:     msg.LabelIds,
		Snippet:      msg.Snippet,
		SizeEstimate: msg.SizeEstimate,
	}
	if msg.InternalDate > 0 {
		meta.InternalDate = time.UnixMilli(msg.InternalDate).UTC()
	}
	return &Message{Meta: meta, Root: convertPart(msg.Payload)}
}

// convertPart 把 API 返回的部件转换为类型化的部件树
func convertPart(p *gmail.MessagePart) *mime.Part {
	if p == nil {
		return nil
	}
	headers := headerMap(p.Headers)
	part := &mime.Part{
		ID:       p.PartId,
		MIMEType: strings.ToLower(p.MimeType),
		Filename: p.Filename,
	}

	if ct := headers["content-type"]; ct != "" {
		if _, params, err := stdmime.ParseMediaType(ct); err == nil {
			part.Charset = params["charset"]
		}
	}
	if cd := headers["content-disposition"]; cd != "" {
		if disp, _, err := stdmime.ParseMediaType(cd); err == nil {
			part.Disposition = strings.ToLower(disp)
		} else {
			// 一些客户端写出的 disposition 参数不合规，只取类型
			part.Disposition = strings.ToLower(strings.TrimSpace(strings.SplitN(cd, ";", 2)[0]))
		}
	}
	if p.Body != nil {
		part.Data = p.Body.Data
		part.AttachmentID = p.Body.AttachmentId
		part.Size = p.Body.Size
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

// headerMap 以小写名称索引头部，同名只保留第一个
func headerMap(hs []*gmail.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(hs))
	for _, h := range hs {
		key := strings.ToLower(h.Name)
		if _, ok := m[key]; !ok {
			m[key] = h.Value
		}
	}
	return m
}

var wordDecoder = stdmime.WordDecoder{CharsetReader: mime.CharsetReader}

func decodeHeader(v string) string {
	if s, err := wordDecoder.DecodeHeader(v); err == nil {
		return s
	}
	return v
}
