package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"taleBook/internal/config"
)

// ErrEmptyKey is returned when an object key is blank.
var ErrEmptyKey = errors.New("object key is empty")

// Client 封装 MinIO 客户端，提供数据库文件与插图的上传下载接口。
type Client struct {
	internalClient *minio.Client
	bucketName     string
}

// ObjectMeta 描述 Bucket 中对象的关键信息。
type ObjectMeta struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// NewClient 根据配置初始化 MinIO 客户端，并确保目标 Bucket 存在。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	bucketLookup := minio.BucketLookupAuto
	switch strings.ToLower(strings.TrimSpace(cfg.BucketLookup)) {
	case "", "auto":
		bucketLookup = minio.BucketLookupAuto
	case "dns":
		bucketLookup = minio.BucketLookupDNS
	case "path":
		bucketLookup = minio.BucketLookupPath
	default:
		return nil, fmt.Errorf("invalid minio bucket lookup %q", cfg.BucketLookup)
	}

	internalClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := internalClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.AutoCreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist (auto create disabled)", cfg.Bucket)
		}
		if err := internalClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Client{
		internalClient: internalClient,
		bucketName:     cfg.Bucket,
	}, nil
}

// Bucket 返回当前绑定的 Bucket 名称。
func (c *Client) Bucket() string {
	return c.bucketName
}

// BucketExists 探测 Bucket 是否可达。
func (c *Client) BucketExists(ctx context.Context) (bool, error) {
	exists, err := c.internalClient.BucketExists(ctx, c.bucketName)
	if err != nil {
		return false, fmt.Errorf("check bucket %q: %w", c.bucketName, err)
	}
	return exists, nil
}

// UploadFile 将对象上传到 Bucket，并返回上传结果。
func (c *Client) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := c.internalClient.PutObject(ctx, c.bucketName, objectName, reader, size, opts)
	if err != nil {
		return nil, fmt.Errorf("put object %q: %w", objectName, err)
	}
	return &info, nil
}

// Upload 将本地文件整体上传到指定 key，返回新的对象版本标识（ETag）。
func (c *Client) Upload(ctx context.Context, objectKey, srcPath string) (string, error) {
	if strings.TrimSpace(objectKey) == "" {
		return "", ErrEmptyKey
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", srcPath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", srcPath, err)
	}

	info, err := c.UploadFile(ctx, objectKey, f, stat.Size(), "application/octet-stream")
	if err != nil {
		return "", err
	}
	return info.ETag, nil
}

// Download 把对象写入 dstPath，返回对象版本标识（ETag）。
// 调用方负责在校验通过前不要信任 dstPath 的内容。
func (c *Client) Download(ctx context.Context, objectKey, dstPath string) (string, error) {
	if strings.TrimSpace(objectKey) == "" {
		return "", ErrEmptyKey
	}
	obj, err := c.internalClient.GetObject(ctx, c.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", objectKey, err)
	}
	defer obj.Close()

	// GetObject 是惰性的，Stat 才会真正触发请求并暴露 NoSuchKey。
	info, err := obj.Stat()
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", objectKey, err)
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", dstPath, err)
	}
	if _, err := io.Copy(out, obj); err != nil {
		out.Close()
		return "", fmt.Errorf("read object %q: %w", objectKey, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", fmt.Errorf("sync %q: %w", dstPath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %q: %w", dstPath, err)
	}
	return info.ETag, nil
}

// Stat 返回对象元数据；对象不存在时返回的错误满足 IsNoSuchKey。
func (c *Client) Stat(ctx context.Context, objectKey string) (ObjectMeta, error) {
	info, err := c.internalClient.StatObject(ctx, c.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("stat object %q: %w", objectKey, err)
	}
	return ObjectMeta{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// Revision 返回远端对象当前的 ETag；对象不存在时返回空字符串。
func (c *Client) Revision(ctx context.Context, objectKey string) (string, error) {
	meta, err := c.Stat(ctx, objectKey)
	if err != nil {
		if IsNoSuchKey(err) {
			return "", nil
		}
		return "", err
	}
	return meta.ETag, nil
}

// DeleteObject 删除指定对象。
// 若对象不存在会被视为成功（幂等）。
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil
	}
	if err := c.internalClient.RemoveObject(ctx, c.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		if IsNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("remove object %q: %w", objectKey, err)
	}
	return nil
}
