package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	xerrors "TopEquations/internal/errors"
)

// Dialect 区分 SQL 方言。
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// SQLConfig 描述 SQL 文档存储的连接参数。
type SQLConfig struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore 将文档保存在 documents 表中，每次写入同时追加一条历史记录。
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore 打开数据库并执行内嵌迁移。
func NewSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, dialect: cfg.Dialect, now: time.Now}
	if err := runMigrations(ctx, db, cfg.Dialect); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openDatabase(ctx context.Context, cfg SQLConfig) (*sql.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库 DSN 不能为空")
	}

	var driverName string
	switch cfg.Dialect {
	case DialectMySQL:
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "MySQL DSN 无效")
		}
		parsed.MultiStatements = false
		dsn = parsed.FormatDSN()
		driverName = "mysql"
	case DialectSQLite:
		driverName = "sqlite"
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "不支持的 SQL 方言: %s", cfg.Dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接数据库失败")
	}

	if cfg.Dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到数据库")
	}
	return db, nil
}

// SetClock 替换写入时间戳使用的时钟。
func (s *SQLStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Read 读取文档主体与更新时间。
func (s *SQLStore) Read(ctx context.Context, doc Document) ([]byte, time.Time, error) {
	if err := doc.Validate(); err != nil {
		return nil, time.Time{}, err
	}
	var (
		body    string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT body, updated_at FROM documents WHERE name = ?`, string(doc)).Scan(&body, &updated)
	if err != nil {
		return nil, time.Time{}, s.mapErr(doc, err)
	}
	return []byte(body), time.Unix(0, updated), nil
}

// Write 在事务中覆盖文档并追加历史。
func (s *SQLStore) Write(ctx context.Context, doc Document, data []byte) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	stamp := s.now().UnixNano()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.mapErr(doc, err)
	}
	if _, err := tx.ExecContext(ctx, s.upsertStatement(), string(doc), string(data), stamp); err != nil {
		tx.Rollback()
		return s.mapErr(doc, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO document_history (name, body, written_at) VALUES (?, ?, ?)`, string(doc), string(data), stamp); err != nil {
		tx.Rollback()
		return s.mapErr(doc, err)
	}
	if err := tx.Commit(); err != nil {
		return s.mapErr(doc, err)
	}
	return nil
}

// Stat 返回文档更新时间。
func (s *SQLStore) Stat(ctx context.Context, doc Document) (time.Time, error) {
	if err := doc.Validate(); err != nil {
		return time.Time{}, err
	}
	var updated int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM documents WHERE name = ?`, string(doc)).Scan(&updated)
	if err != nil {
		return time.Time{}, s.mapErr(doc, err)
	}
	return time.Unix(0, updated), nil
}

// History 返回文档的历史版本数量。
func (s *SQLStore) History(ctx context.Context, doc Document) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_history WHERE name = ?`, string(doc)).Scan(&count); err != nil {
		return 0, s.mapErr(doc, err)
	}
	return count, nil
}

// Close 关闭数据库连接池。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) upsertStatement() string {
	if s.dialect == DialectMySQL {
		return `INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE body = VALUES(body), updated_at = VALUES(updated_at)`
	}
	return `INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
}

func (s *SQLStore) mapErr(doc Document, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return xerrors.Wrap(xerrors.CodeNotFound, err, "文档不存在", xerrors.WithMetadata("document", string(doc)))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "数据库操作超时")
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1205 {
		return xerrors.Wrap(xerrors.CodeLockFailure, err, "等待数据库行锁超时")
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("访问文档 %s 失败", doc))
}

var _ Store = (*SQLStore)(nil)
