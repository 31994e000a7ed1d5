package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/storage"
)

// SendJobService 发送历史与待发送任务的查询和删除
type SendJobService struct {
	store   storage.Store
	objects storage.ObjectStore
	logger  *zap.Logger
}

// NewSendJobService 创建发送任务服务
func NewSendJobService(store storage.Store, objects storage.ObjectStore, logger *zap.Logger) *SendJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendJobService{store: store, objects: objects, logger: logger}
}

// List 列出项目下的任务，scheduled 为 true 时只返回未完成的
func (s *SendJobService) List(projectID string, scheduled bool) ([]domain.SendJob, error) {
	if projectID == "" {
		return nil, domain.ErrMissingProjectID
	}
	return s.store.ListSendJobsByProject(projectID, scheduled)
}

// Search 按模板名称查找项目下的任务
func (s *SendJobService) Search(projectID, query string) ([]domain.SendJob, error) {
	if projectID == "" {
		return nil, domain.ErrMissingProjectID
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return s.store.ListSendJobsByProject(projectID, false)
	}
	return s.store.SearchSendJobs(projectID, query)
}

// Get 获取任务详情
func (s *SendJobService) Get(id string) (*domain.SendJob, error) {
	return s.store.GetSendJob(id)
}

// Delete 删除任务及其邮件和附件，附件对象一并从对象存储删除
func (s *SendJobService) Delete(ctx context.Context, id string) error {
	removed, err := s.store.DeleteSendJob(id)
	if err != nil {
		return err
	}
	for _, att := range removed {
		if err := s.objects.Delete(ctx, att.StorageKey); err != nil {
			s.logger.Warn("删除附件对象失败",
				zap.String("attachment_id", att.ID),
				zap.String("storage_key", att.StorageKey),
				zap.Error(err))
		}
	}
	return nil
}
