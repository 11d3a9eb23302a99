package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/storage/postgres"
)

// PostgresSchema 是检查点表结构，cmd/migrate 的迁移文件包含同样的定义
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS ingest_cursors (
	name         TEXT PRIMARY KEY,
	position     BIGINT NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore 把检查点保存在 PostgreSQL 中
type PostgresStore struct {
	client *postgres.Client
	name   string
}

// NewPostgresStore 创建 PostgreSQL 检查点存储，并确保表存在
func NewPostgresStore(ctx context.Context, client *postgres.Client, name string) (*PostgresStore, error) {
	if err := client.EnsureSchema(ctx, PostgresSchema); err != nil {
		return nil, fmt.Errorf("ensure cursor table: %w", err)
	}
	return &PostgresStore{client: client, name: name}, nil
}

// Load 读取当前检查点
func (s *PostgresStore) Load(ctx context.Context) (domain.Cursor, error) {
	var (
		pos int64
		at  time.Time
	)
	err := s.client.Pool().QueryRow(ctx,
		`SELECT position, committed_at FROM ingest_cursors WHERE name = $1`, s.name).Scan(&pos, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cursor{}, nil
	}
	if err != nil {
		return domain.Cursor{}, postgres.Classify("postgres load cursor", err)
	}
	return domain.Cursor{Position: uint64(pos), CommittedAt: at.UTC()}, nil
}

// Advance 单调推进检查点，条件更新由数据库保证
func (s *PostgresStore) Advance(ctx context.Context, position uint64, at time.Time) (bool, error) {
	tag, err := s.client.Pool().Exec(ctx, `
		INSERT INTO ingest_cursors (name, position, committed_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET position = EXCLUDED.position, committed_at = EXCLUDED.committed_at
		WHERE ingest_cursors.position < EXCLUDED.position`,
		s.name, int64(position), at.UTC())
	if err != nil {
		return false, postgres.Classify("postgres advance cursor", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.client.Close()
	return nil
}
