package httptransport

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/middleware"
	"mailingest/backend/internal/mime"
)

// IngestHandler 处理运维人员的手动触发
type IngestHandler struct {
	ingestor Ingestor
	log      *zap.Logger
}

// NewIngestHandler 创建手动触发处理器
func NewIngestHandler(ingestor Ingestor, log *zap.Logger) *IngestHandler {
	return &IngestHandler{ingestor: ingestor, log: log}
}

// TriggerRequest 手动触发请求。
// 带 MessageIdentifier 时只处理该邮件，否则执行一次增量运行。
type TriggerRequest struct {
	MailboxAddress    string `json:"mailboxAddress"`
	MessageIdentifier string `json:"messageIdentifier"`
	HistoryID         uint64 `json:"historyId"`
}

// RawRequest 原始邮件上传请求
type RawRequest struct {
	RawEmail string `json:"raw_email" binding:"required"` // base64 编码的 RFC 822 邮件
}

// Trigger 手动触发
func (h *IngestHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			BadRequest(c, MsgInvalidJSON)
			return
		}
	}
	if err := domain.ValidateMailboxAddress(req.MailboxAddress); err != nil {
		BadRequest(c, MsgInvalidMailbox)
		return
	}

	h.log.Info("manual ingestion requested",
		zap.Any("operator", c.Value(middleware.ContextOperator)),
		zap.String("message_id", req.MessageIdentifier),
		zap.Uint64("history_id", req.HistoryID))

	var (
		summary *domain.RunSummary
		err     error
	)
	if req.MessageIdentifier != "" {
		summary, err = h.ingestor.ProcessMessage(c.Request.Context(), req.MessageIdentifier)
	} else {
		summary, err = h.ingestor.Run(c.Request.Context(), req.HistoryID)
	}
	h.respond(c, summary, err)
}

// Raw 处理上传的原始邮件。
// 请求体可以是 JSON {"raw_email": "<base64>"}，也可以直接是 message/rfc822 内容。
func (h *IngestHandler) Raw(c *gin.Context) {
	var raw []byte
	if strings.HasPrefix(c.ContentType(), "message/") {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			Error(c, http.StatusRequestEntityTooLarge, "邮件过大")
			return
		}
		raw = b
	} else {
		var req RawRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		b, err := mime.DecodeBase64URL(req.RawEmail)
		if err != nil {
			BadRequest(c, "raw_email 不是有效的 base64")
			return
		}
		raw = b
	}
	if len(raw) == 0 {
		BadRequest(c, MsgRequestBodyEmpty)
		return
	}

	summary, err := h.ingestor.ProcessRaw(c.Request.Context(), raw)
	h.respond(c, summary, err)
}

func (h *IngestHandler) respond(c *gin.Context, summary *domain.RunSummary, err error) {
	if err != nil {
		status, msg := errorStatus(err)
		h.log.Warn("manual ingestion failed", zap.Int("status", status), zap.Error(err))
		ErrorWithData(c, status, msg, summary)
		return
	}
	if summary != nil && summary.Busy {
		Accepted(c, MsgRunBusy, summary)
		return
	}
	Success(c, summary)
}
