package service

import (
	"errors"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/storage"
)

// PermissionService 判断用户对项目和附件的访问权限
type PermissionService struct {
	projects    storage.ProjectRepository
	sendJobs    storage.SendJobRepository
	attachments storage.AttachmentRepository
}

// NewPermissionService 创建权限服务
func NewPermissionService(store storage.Store) *PermissionService {
	return &PermissionService{projects: store, sendJobs: store, attachments: store}
}

// HasPermission 用户是否为项目成员或创建者
func (s *PermissionService) HasPermission(projectID, userID string) (bool, error) {
	if projectID == "" || userID == "" {
		return false, nil
	}
	project, err := s.projects.GetProject(projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return project.HasMember(userID), nil
}

// HasPermissionForAttachment 上传者本人，或对附件所属任务的项目有权限
func (s *PermissionService) HasPermissionForAttachment(attachmentID, userID string) (bool, error) {
	att, err := s.attachments.GetAttachment(attachmentID)
	if err != nil {
		return false, err
	}
	if att.OwnerID != "" && att.OwnerID == userID {
		return true, nil
	}
	if att.SendJobID == nil {
		return false, nil
	}
	job, err := s.sendJobs.GetSendJob(*att.SendJobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.HasPermission(job.ProjectID, userID)
}

// RequireProject 没有项目权限时返回 ErrPermissionDenied
func (s *PermissionService) RequireProject(projectID, userID string) error {
	ok, err := s.HasPermission(projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrPermissionDenied
	}
	return nil
}
