package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailingest/backend/internal/domain"
)

// SQLWriter 通过 GORM 把记录写入 PostgreSQL 或 MySQL
type SQLWriter struct {
	db    *gorm.DB
	table string
	log   *zap.Logger
}

// NewPostgresWriter 创建 PostgreSQL 写入器
func NewPostgresWriter(dsn, table string, log *zap.Logger) (*SQLWriter, error) {
	return NewSQLWriter(postgres.Open(dsn), table, log)
}

// NewMySQLWriter 创建 MySQL 写入器
func NewMySQLWriter(dsn, table string, log *zap.Logger) (*SQLWriter, error) {
	return NewSQLWriter(mysql.Open(dsn), table, log)
}

// NewSQLWriter 使用指定的 GORM dialector 创建写入器并迁移表结构
func NewSQLWriter(dialector gorm.Dialector, table string, log *zap.Logger) (*SQLWriter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	// message_id 上只建普通索引，不加唯一约束
	if err := db.Table(table).AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s: %w", table, err)
	}
	return &SQLWriter{db: db, table: table, log: log}, nil
}

// Write 先在一个事务里整批插入；整批失败时退回逐条插入，得到逐条结果
func (w *SQLWriter) Write(ctx context.Context, records []domain.MessageRecord) Result {
	rows := make([]Row, 0, len(records))
	res := Result{Failed: make(map[int]error)}
	index := make([]int, 0, len(records))
	for i, rec := range records {
		row, err := NewRow(rec)
		if err != nil {
			res.Failed[i] = domain.Permanent("sink.encode", err)
			continue
		}
		rows = append(rows, row)
		index = append(index, i)
	}
	if len(rows) == 0 {
		return res
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(w.table).Create(&rows).Error
	})
	if err == nil {
		res.Inserted = len(rows)
		return res
	}
	w.log.Warn("batch insert failed, falling back to per-record inserts",
		zap.Int("rows", len(rows)), zap.Error(err))

	for j := range rows {
		row := rows[j]
		row.ID = 0
		if err := w.db.WithContext(ctx).Table(w.table).Create(&row).Error; err != nil {
			res.Failed[index[j]] = classifySQL(err)
			continue
		}
		res.Inserted++
	}
	return res
}

// Ping 检查数据库连接
func (w *SQLWriter) Ping(ctx context.Context) error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (w *SQLWriter) Close() error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classifySQL 把数据错误和约束错误归为不可重试，其余视为 IO 错误
func classifySQL(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		// 22: 数据异常，23: 约束冲突，42: 语法或权限
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return domain.Permanent("sink.insert", err)
		}
		return domain.Transient("sink.insert", err)
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1048, 1062, 1264, 1366, 1406, 1452:
			return domain.Permanent("sink.insert", err)
		}
		return domain.Transient("sink.insert", err)
	}
	return domain.Transient("sink.insert", err)
}
