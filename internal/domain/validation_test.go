package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMailboxAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr error
	}{
		{"当前用户", "me", nil},
		{"空地址", "", nil},
		{"普通地址", "ops@example.com", nil},
		{"子域名", "a.b+tag@mail.example.co.uk", nil},
		{"带显示名", "Ops <ops@example.com>", ErrInvalidAddress},
		{"缺少@", "example.com", ErrInvalidAddress},
		{"单段域名", "ops@localhost", ErrInvalidAddress},
		{"域名以连字符结尾", "ops@example-.com", ErrInvalidAddress},
		{"本地部分过长", strings.Repeat("a", 65) + "@example.com", ErrAddressTooLong},
		{"整体过长", strings.Repeat("a", 60) + "@" + strings.Repeat("b", 200) + ".com", ErrAddressTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMailboxAddress(tt.address)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
