// Package googleerr 把 Google API（REST 与 gRPC）返回的错误归入统一的错误分类。
package googleerr

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mailingest/backend/internal/domain"
)

// Classify 为 err 标注分类。已经分类的错误原样返回。
//
// 规则:
//   - 401 / Unauthenticated、刷新令牌被拒绝 -> KindAuthExpired
//   - 408、429、5xx、限流类 403、网络错误 -> KindTransientIO
//   - 其它 4xx -> KindPermanentValidation
//   - context.Canceled 不做分类，保持不可重试
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewError(KindOf(err), op, err)
}

// KindOf 只判断分类，不包装
func KindOf(err error) domain.Kind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return kindForHTTP(gerr)
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return domain.KindTransientIO
		}
		return domain.KindAuthExpired
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown && s.Code() != codes.OK {
		return kindForGRPC(s.Code())
	}

	// 其余错误来自网络层或超时
	return domain.KindTransientIO
}

// IsNotFound 判断是否为 404 / NotFound
func IsNotFound(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.NotFound
	}
	return false
}

// IsConflict 判断是否为 409 / AlreadyExists
func IsConflict(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusConflict
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.AlreadyExists
	}
	return false
}

func kindForHTTP(gerr *googleapi.Error) domain.Kind {
	switch {
	case gerr.Code == http.StatusUnauthorized:
		return domain.KindAuthExpired
	case gerr.Code == http.StatusForbidden && isRateLimit(gerr):
		return domain.KindTransientIO
	case gerr.Code == http.StatusRequestTimeout, gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
		return domain.KindTransientIO
	case gerr.Code >= 400:
		return domain.KindPermanentValidation
	}
	return domain.KindTransientIO
}

func isRateLimit(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "backendError":
			return true
		}
	}
	return false
}

func kindForGRPC(code codes.Code) domain.Kind {
	switch code {
	case codes.Unauthenticated:
		return domain.KindAuthExpired
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return domain.KindTransientIO
	}
	return domain.KindPermanentValidation
}
