package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gorm.io/gorm"
)

// ErrCorrupt 表示文件未通过结构完整性校验。
var ErrCorrupt = errors.New("database file is corrupt")

var sqliteHeader = []byte("SQLite format 3\x00")

// CheckIntegrity 在信任下载的文件之前做格式级自检：
// 非空、SQLite 文件头正确、PRAGMA integrity_check 返回 ok。
func CheckIntegrity(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %q is empty", ErrCorrupt, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	header := make([]byte, len(sqliteHeader))
	_, err = io.ReadFull(f, header)
	f.Close()
	if err != nil {
		return fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(header, sqliteHeader) {
		return fmt.Errorf("%w: bad header", ErrCorrupt)
	}

	var results []string
	err = Open(path, nil).withDB(ctx, func(tx *gorm.DB) error {
		return tx.Raw("PRAGMA integrity_check").Scan(&results).Error
	})
	if err != nil {
		return fmt.Errorf("%w: integrity_check: %v", ErrCorrupt, err)
	}
	if len(results) != 1 || !strings.EqualFold(results[0], "ok") {
		return fmt.Errorf("%w: integrity_check: %s", ErrCorrupt, strings.Join(results, "; "))
	}
	return nil
}
