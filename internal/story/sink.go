package story

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
)

// ImageSink 保存下载好的插图并返回写入 story_images.ref 的引用。
type ImageSink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// LocalSink 把插图写到本地目录，引用为相对路径（如 images/story_x_paragraph_1_<id>.png）。
type LocalSink struct {
	Dir string
}

func (s LocalSink) Save(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	p := filepath.Join(s.Dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return p, nil
}

// Uploader 由 *storage.Client 实现。
type Uploader interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
}

// BucketSink 把插图上传到对象存储 Prefix 之下，引用为对象 key。
type BucketSink struct {
	Client Uploader
	Prefix string
}

func (s BucketSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(s.Prefix, name)
	if _, err := s.Client.UploadFile(ctx, key, bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
		return "", fmt.Errorf("upload image %s: %w", key, err)
	}
	return key, nil
}
