package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"leomail/backend/internal/storage"
)

var _ storage.ObjectStore = (*Store)(nil)

// ErrObjectTooLarge 上传内容超过单个对象上限
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// Store 基于本地文件系统的附件对象存储
//
// 目录结构: {basePath}/attachments/{key}，旁边保存 {key}.meta.json
type Store struct {
	basePath      string
	maxObjectSize int64
}

// objectMeta 对象的附属元数据
type objectMeta struct {
	Key         string    `json:"key"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	SavedAt     time.Time `json:"savedAt"`
}

// NewStore 创建文件系统存储实例，maxObjectSize <= 0 表示不限制
func NewStore(basePath string, maxObjectSize int64) (*Store, error) {
	normalizedPath, err := resolveBasePath(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(normalizedPath, "attachments"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{
		basePath:      normalizedPath,
		maxObjectSize: maxObjectSize,
	}, nil
}

// Upload 保存附件内容并返回对象键
func (s *Store) Upload(ctx context.Context, r io.Reader, name, contentType string, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.maxObjectSize > 0 && size > s.maxObjectSize {
		return "", ErrObjectTooLarge
	}

	fileName := sanitizeFileName(name)
	key := storage.ObjectKey(fileName)
	objectFile := s.objectPath(key)

	f, err := os.OpenFile(objectFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create object: %w", err)
	}

	reader := r
	if s.maxObjectSize > 0 {
		reader = io.LimitReader(r, s.maxObjectSize+1)
	}
	written, err := io.Copy(f, reader)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && s.maxObjectSize > 0 && written > s.maxObjectSize {
		err = ErrObjectTooLarge
	}
	if err != nil {
		_ = os.Remove(objectFile)
		if errors.Is(err, ErrObjectTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("failed to write object: %w", err)
	}

	meta := objectMeta{
		Key:         key,
		FileName:    fileName,
		ContentType: contentType,
		Size:        written,
		SavedAt:     time.Now().UTC(),
	}
	metaData, _ := json.MarshalIndent(meta, "", "  ")
	if err := os.WriteFile(objectFile+".meta.json", metaData, 0644); err != nil {
		_ = os.Remove(objectFile)
		return "", fmt.Errorf("failed to write object metadata: %w", err)
	}

	return key, nil
}

// Download 打开对象内容，调用方负责关闭
func (s *Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(key) {
		return nil, storage.ErrObjectNotFound
	}

	f, err := os.Open(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Delete 删除对象及其元数据，对象不存在时不报错
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return storage.ErrObjectNotFound
	}

	objectFile := s.objectPath(key)
	if err := os.Remove(objectFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if err := os.Remove(objectFile + ".meta.json"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object metadata: %w", err)
	}
	return nil
}

// GetStorageStats 获取存储统计信息
func (s *Store) GetStorageStats() (map[string]interface{}, error) {
	var totalSize int64
	var objectCount int

	err := filepath.Walk(filepath.Join(s.basePath, "attachments"), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 跳过错误，继续遍历
		}
		if !info.IsDir() && filepath.Ext(path) != ".json" {
			totalSize += info.Size()
			objectCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"total_size_bytes": totalSize,
		"total_size_mb":    float64(totalSize) / 1024 / 1024,
		"object_count":     objectCount,
		"base_path":        s.basePath,
	}, nil
}

func (s *Store) objectPath(key string) string {
	return filepath.Join(s.basePath, "attachments", key)
}
