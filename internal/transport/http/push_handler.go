package httptransport

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailingest/backend/internal/notify"
)

// PushHandler 处理 Pub/Sub 推送的邮箱变更通知。
//
// 返回 2xx 表示确认；其它状态码会让 Pub/Sub 稍后重新投递。
// 无效载荷也会被确认，避免一条坏消息被无限重投。
type PushHandler struct {
	ingestor Ingestor
	mailbox  string
	log      *zap.Logger
}

// NewPushHandler 创建推送处理器
func NewPushHandler(ingestor Ingestor, mailbox string, log *zap.Logger) *PushHandler {
	return &PushHandler{ingestor: ingestor, mailbox: mailbox, log: log}
}

// Handle 处理一次推送
func (h *PushHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn("read push body", zap.Error(err))
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	env, ev, err := notify.DecodePush(body)
	log := h.log.With(zap.String("pubsub_message_id", env.Message.ID))
	if err != nil {
		log.Warn("dropping malformed push", zap.Error(err))
		c.Status(http.StatusNoContent)
		return
	}
	if !notify.MatchesMailbox(h.mailbox, ev.MailboxAddress) {
		log.Info("ignoring push for another mailbox", zap.String("mailbox", ev.MailboxAddress))
		c.Status(http.StatusNoContent)
		return
	}

	summary, err := h.ingestor.HandleEvent(c.Request.Context(), ev)
	switch {
	case err != nil:
		status, _ := errorStatus(err)
		log.Error("push handling failed", zap.Uint64("history_id", ev.CursorHint), zap.Error(err))
		_ = c.Error(err)
		c.Status(status)
	case summary != nil && summary.Busy:
		c.Status(http.StatusServiceUnavailable)
	default:
		c.Status(http.StatusNoContent)
	}
}
