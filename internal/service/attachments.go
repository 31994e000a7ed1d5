package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/monitoring"
	"leomail/backend/internal/security"
	"leomail/backend/internal/storage"
)

// UploadInput 上传的附件
type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64 // 小于 0 表示未知
	Content     io.Reader
}

// AttachmentService 附件上传、下载与删除
type AttachmentService struct {
	store       storage.AttachmentRepository
	objects     storage.ObjectStore
	policy      *security.AttachmentPolicy
	permissions *PermissionService
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// NewAttachmentService 创建附件服务，metrics 可为 nil
func NewAttachmentService(store storage.AttachmentRepository, objects storage.ObjectStore, policy *security.AttachmentPolicy,
	permissions *PermissionService, metrics *monitoring.Metrics, logger *zap.Logger) *AttachmentService {
	if policy == nil {
		policy = security.NewAttachmentPolicy(security.DefaultMaxAttachmentSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentService{
		store:       store,
		objects:     objects,
		policy:      policy,
		permissions: permissions,
		metrics:     metrics,
		logger:      logger,
	}
}

// Upload 检查文件内容后保存到对象存储，并记录附件元数据
func (s *AttachmentService) Upload(ctx context.Context, ownerID string, in UploadInput) (*domain.Attachment, error) {
	br := bufio.NewReaderSize(in.Content, security.HeaderSize)
	header, err := br.Peek(security.HeaderSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read attachment header: %w", err)
	}
	if err := s.policy.Check(in.FileName, in.ContentType, header, in.Size); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}

	counter := &countingReader{r: br}
	key, err := s.objects.Upload(ctx, counter, in.FileName, in.ContentType, in.Size)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	att := &domain.Attachment{
		ID:          uuid.NewString(),
		FileName:    in.FileName,
		StorageKey:  key,
		ContentType: in.ContentType,
		Size:        counter.n,
		OwnerID:     ownerID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveAttachment(att); err != nil {
		_ = s.objects.Delete(ctx, key)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordAttachmentSize(att.Size)
	}
	return att, nil
}

// Open 校验权限后打开附件内容，调用方负责关闭
func (s *AttachmentService) Open(ctx context.Context, attachmentID, userID string) (*domain.Attachment, io.ReadCloser, error) {
	att, err := s.store.GetAttachment(attachmentID)
	if err != nil {
		return nil, nil, err
	}
	ok, err := s.permissions.HasPermissionForAttachment(attachmentID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, domain.ErrPermissionDenied
	}

	rc, err := s.objects.Download(ctx, att.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, domain.ErrAttachmentNotFound
		}
		return nil, nil, err
	}
	return att, rc, nil
}

// Delete 删除附件记录及其对象
func (s *AttachmentService) Delete(ctx context.Context, attachmentID string) error {
	att, err := s.store.DeleteAttachment(attachmentID)
	if err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, att.StorageKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Warn("删除附件对象失败", zap.String("attachment_id", att.ID), zap.Error(err))
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// DeleteUnbound 删除尚未关联到发送任务的附件，用于创建任务失败后的清理
func (s *AttachmentService) DeleteUnbound(ctx context.Context, attachmentID string) error {
	att, err := s.store.GetAttachment(attachmentID)
	if err != nil {
		return err
	}
	if att.SendJobID != nil {
		return nil
	}
	return s.Delete(ctx, attachmentID)
}
