package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestIsNoSuchKey(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"minio code", minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{"wrapped not found", fmt.Errorf("download: %w", minio.ErrorResponse{Code: "NotFound"}), true},
		{"plain message", errors.New("The specified key does not exist."), true},
		{"bucket missing", minio.ErrorResponse{Code: "NoSuchBucket", Message: "bucket gone"}, false},
		{"network", errors.New("connection reset by peer"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsNoSuchKey(tc.err))
		})
	}
}

func TestIsNoSuchBucket(t *testing.T) {
	assert.False(t, IsNoSuchBucket(nil))
	assert.True(t, IsNoSuchBucket(minio.ErrorResponse{Code: "NoSuchBucket"}))
	assert.True(t, IsNoSuchBucket(fmt.Errorf("stat: %w", errors.New("The specified bucket does not exist"))))
	assert.False(t, IsNoSuchBucket(minio.ErrorResponse{Code: "NoSuchKey"}))
}

func TestIsAccessDenied(t *testing.T) {
	assert.False(t, IsAccessDenied(nil))
	assert.True(t, IsAccessDenied(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.True(t, IsAccessDenied(fmt.Errorf("upload: %w", minio.ErrorResponse{Code: "ExpiredToken"})))
	assert.True(t, IsAccessDenied(errors.New("Access Denied")))
	assert.False(t, IsAccessDenied(minio.ErrorResponse{Code: "SlowDown"}))
}
