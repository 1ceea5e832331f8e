package service

import (
	"context"

	"llamacoder-go/pkg/storage"
)

// minioScreenshotStore 是 ScreenshotStore 的 MinIO 实现。
type minioScreenshotStore struct{}

// NewMinioScreenshotStore 返回基于全局 MinIO 客户端的截图存储。
func NewMinioScreenshotStore() ScreenshotStore {
	return &minioScreenshotStore{}
}

func (minioScreenshotStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	return storage.PutScreenshot(ctx, key, contentType, data)
}

func (minioScreenshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	return storage.GetScreenshot(ctx, key)
}
