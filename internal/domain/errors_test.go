package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"transient", Transient("fetch", errors.New("reset")), KindTransientIO},
		{"wrapped", fmt.Errorf("outer: %w", NewError(KindAuthExpired, "list", nil)), KindAuthExpired},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTransientIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("delta: %w", NewError(KindCursorExpired, "history.list", errors.New("404")))

	assert.True(t, errors.Is(err, ErrCursorExpired))
	assert.False(t, errors.Is(err, ErrAuthExpired))
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(Transient("put", errors.New("timeout"))))
}

func TestKindTextRoundTrip(t *testing.T) {
	var k Kind
	assert.NoError(t, k.UnmarshalText([]byte("partial_storage")))
	assert.Equal(t, KindPartialStorage, k)
	assert.Error(t, k.UnmarshalText([]byte("nope")))
}
