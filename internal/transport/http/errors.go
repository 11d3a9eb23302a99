package httptransport

import (
	"errors"
	"net/http"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/ingest"
)

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidJSON      = "JSON格式错误"
	MsgRequestBodyEmpty = "请求体不能为空"
	MsgInvalidMailbox   = "邮箱地址格式错误"
	MsgRunBusy          = "另一次运行正在进行"
	MsgRunFailed        = "运行失败"
)

// errorStatus 把运行错误映射为 HTTP 状态码和提示信息
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrMailboxUnavailable):
		return http.StatusServiceUnavailable, "邮箱服务暂不可用"
	case errors.Is(err, domain.ErrAuthExpired):
		return http.StatusBadGateway, "邮箱凭证已失效，需要重新授权"
	case errors.Is(err, domain.ErrPermanentValidation):
		return http.StatusUnprocessableEntity, "邮件结构无效"
	case errors.Is(err, domain.ErrTransientIO):
		return http.StatusServiceUnavailable, "存储或邮箱暂时不可用"
	default:
		return http.StatusInternalServerError, MsgRunFailed
	}
}
