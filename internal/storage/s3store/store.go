// Package s3store 把附件保存到 S3 兼容的对象存储（AWS S3、MinIO）。
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"leomail/backend/internal/config"
	"leomail/backend/internal/storage"
)

var _ storage.ObjectStore = (*Store)(nil)

var (
	// ErrInvalidConfig 存储配置不完整
	ErrInvalidConfig = errors.New("invalid s3 storage config")
	// ErrObjectTooLarge 上传内容超过单个对象上限
	ErrObjectTooLarge = errors.New("object exceeds size limit")
)

const defaultRegion = "us-east-1"

// Store 基于 S3 的附件对象存储
type Store struct {
	client        *s3.Client
	bucket        string
	maxObjectSize int64
}

// NewStore 根据存储配置创建 S3 客户端
func NewStore(cfg config.StorageConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: access key and secret key are required", ErrInvalidConfig)
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = region
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		},
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &Store{
		client:        s3.New(s3.Options{}, opts...),
		bucket:        cfg.Bucket,
		maxObjectSize: cfg.MaxObjectSize,
	}, nil
}

// EnsureBucket 存储桶不存在时创建
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !errors.Is(wrapS3Error(err, err), storage.ErrObjectNotFound) {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload 上传附件内容，返回对象键
func (s *Store) Upload(ctx context.Context, r io.Reader, name, contentType string, size int64) (string, error) {
	if s.maxObjectSize > 0 && size > s.maxObjectSize {
		return "", ErrObjectTooLarge
	}

	body, length, err := s.seekable(r, size)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := storage.ObjectKey(name)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(length),
		ContentType:   aws.String(contentType),
		ACL:           types.ObjectCannedACLPrivate,
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// Download 读取对象内容，调用方负责关闭
func (s *Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapS3Error(err, fmt.Errorf("get object %s", key))
	}
	return output.Body, nil
}

// Delete 删除对象
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapS3Error(err, fmt.Errorf("delete object %s", key))
	}
	return nil
}

// seekable 签名需要可重读的请求体，长度未知时先读入内存
func (s *Store) seekable(r io.Reader, size int64) (io.ReadSeeker, int64, error) {
	if rs, ok := r.(io.ReadSeeker); ok && size >= 0 {
		return rs, size, nil
	}
	reader := r
	if s.maxObjectSize > 0 {
		reader = io.LimitReader(r, s.maxObjectSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read input: %w", err)
	}
	if s.maxObjectSize > 0 && int64(len(data)) > s.maxObjectSize {
		return nil, 0, ErrObjectTooLarge
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// wrapS3Error 把不存在类错误映射为 storage.ErrObjectNotFound
func wrapS3Error(err error, fallback error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %v", storage.ErrObjectNotFound, err)
		}
	}
	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", storage.ErrObjectNotFound, err)
	}
	return fmt.Errorf("%v: %w", fallback, err)
}
