package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// driverName 是 modernc.org/sqlite 注册的纯 Go 驱动名，无需 cgo。
const driverName = "sqlite"

var (
	// ErrSchemaMissing 表示读取时发现表不存在（新文件或损坏后重建）。
	// 调用方应执行 EnsureSchema 并把结果视为空集合。
	ErrSchemaMissing = errors.New("database schema missing")
	// ErrNotFound 表示更新没有命中任何行。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 表示插入违反主键或唯一约束。
	ErrDuplicate = errors.New("record already exists")
	// ErrForeignKey 表示引用的账号或故事不存在。
	ErrForeignKey = errors.New("referenced record does not exist")
)

// Store 是绑定到单个 SQLite 文件的本地关系存储。
// 每次调用独立打开并关闭连接，便于同步层在两次调用之间整体替换或上传文件。
type Store struct {
	path   string
	logger *slog.Logger
}

// Open 返回绑定到 path 的 Store，不会立即建立连接。
func Open(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{path: path, logger: log}
}

// Path 返回数据库文件路径。
func (s *Store) Path() string {
	return s.path
}

func dsn(path string) string {
	// journal_mode=DELETE 保证提交后所有数据都在主文件里，上传单个文件即完整副本。
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(DELETE)"
}

func openGorm(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Dialector{DriverName: driverName, DSN: dsn(path)}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// withDB 为一次调用打开连接，并保证所有路径（包括 panic）上都会释放。
func (s *Store) withDB(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db, err := openGorm(s.path)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrap db: %w", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			s.logger.Warn("close database failed", slog.String("path", s.path), slog.Any("error", cerr))
		}
	}()

	return fn(db.WithContext(ctx))
}

// EnsureSchema 以 create-if-not-exists 语义创建全部四张表，可重复调用。
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.withDB(ctx, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&Account{}, &Character{}, &Story{}, &StoryImage{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	})
}

func isMissingRelation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() != sqlite3.SQLITE_ERROR {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}

// classify 把驱动的约束错误映射为包内哨兵错误。
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isMissingRelation(err) {
		return fmt.Errorf("%w: %v", ErrSchemaMissing, err)
	}
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", ErrForeignKey, err)
		}
	}
	return err
}
