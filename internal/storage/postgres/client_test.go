package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"mailingest/backend/internal/config"
	"mailingest/backend/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{"唯一约束冲突", &pgconn.PgError{Code: "23505"}, domain.KindPermanentValidation},
		{"数值越界", &pgconn.PgError{Code: "22003"}, domain.KindPermanentValidation},
		{"表不存在", &pgconn.PgError{Code: "42P01"}, domain.KindPermanentValidation},
		{"序列化冲突", &pgconn.PgError{Code: "40001"}, domain.KindTransientIO},
		{"连接中断", errors.New("unexpected EOF"), domain.KindTransientIO},
		{"已分类的错误保持不变", domain.NewError(domain.KindAuthExpired, "x", errors.New("y")), domain.KindAuthExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.KindOf(Classify("op", tt.err)))
		})
	}
	assert.NoError(t, Classify("op", nil))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), &config.DatabaseConfig{}, nil)
	assert.Error(t, err)
}
