package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mailingest/backend/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ingest_cursors (
	name         TEXT PRIMARY KEY,
	position     INTEGER NOT NULL,
	committed_at INTEGER NOT NULL
)`

// SQLiteStore 把检查点保存在本地 SQLite 文件中
type SQLiteStore struct {
	db   *sqlx.DB
	name string
}

type cursorRow struct {
	Position    int64 `db:"position"`
	CommittedAt int64 `db:"committed_at"`
}

// NewSQLiteStore 打开（或创建）path 处的数据库并建表
func NewSQLiteStore(path, name string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cursor dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// 单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cursor table: %w", err)
	}
	return &SQLiteStore{db: db, name: name}, nil
}

// Load 读取当前检查点
func (s *SQLiteStore) Load(ctx context.Context) (domain.Cursor, error) {
	var row cursorRow
	err := s.db.GetContext(ctx, &row,
		`SELECT position, committed_at FROM ingest_cursors WHERE name = ?`, s.name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cursor{}, nil
	}
	if err != nil {
		return domain.Cursor{}, fmt.Errorf("sqlite load cursor: %w", err)
	}
	return domain.Cursor{
		Position:    uint64(row.Position),
		CommittedAt: time.Unix(0, row.CommittedAt).UTC(),
	}, nil
}

// Advance 单调推进检查点
func (s *SQLiteStore) Advance(ctx context.Context, position uint64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_cursors (name, position, committed_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET position = excluded.position, committed_at = excluded.committed_at
		WHERE ingest_cursors.position < excluded.position`,
		s.name, int64(position), at.UnixNano())
	if err != nil {
		return false, fmt.Errorf("sqlite advance cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite advance cursor: %w", err)
	}
	return n == 1, nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
