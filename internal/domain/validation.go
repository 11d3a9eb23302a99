package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 邮箱地址校验错误
var (
	ErrInvalidAddress = errors.New("invalid mailbox address")
	ErrAddressTooLong = errors.New("mailbox address too long")
)

// RFC 5321 长度限制
const (
	MaxAddressLength   = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

// 域名至少两段，每段不以连字符开头或结尾
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// SelfMailbox 表示 API 中当前授权用户自己的邮箱
const SelfMailbox = "me"

// ValidateMailboxAddress 校验配置或请求里的邮箱地址。
// "me" 和空字符串表示当前授权用户，直接通过；其余必须是不带显示名的裸地址。
func ValidateMailboxAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" || address == SelfMailbox {
		return nil
	}
	if len(address) > MaxAddressLength {
		return ErrAddressTooLong
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Name != "" || parsed.Address != address {
		return ErrInvalidAddress
	}

	at := strings.LastIndex(address, "@")
	local, host := address[:at], address[at+1:]
	if len(local) > MaxLocalPartLength || len(host) > MaxDomainLength {
		return ErrAddressTooLong
	}
	if !domainRegex.MatchString(host) {
		return ErrInvalidAddress
	}
	return nil
}
