package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"leomail/backend/internal/domain"
)

var (
	// ErrObjectNotFound 对象存储中不存在该对象
	ErrObjectNotFound = errors.New("object not found")
)

// TemplateRepository 定义模板与问候语的数据存取操作。
type TemplateRepository interface {
	SaveTemplate(tpl *domain.Template) error
	UpdateTemplate(tpl *domain.Template) error
	GetTemplate(id string) (*domain.Template, error)
	GetTemplateByName(name string) (*domain.Template, error)
	ListTemplatesByProject(projectID string) ([]domain.Template, error)
	DeleteTemplate(id string) error

	SaveGreeting(greeting *domain.Greeting) error
	GetGreeting(id string) (*domain.Greeting, error)
	ListGreetings() ([]domain.Greeting, error)
}

// ContactRepository 定义联系人数据存取操作。
type ContactRepository interface {
	SaveContact(contact *domain.Contact) error // 按 ID 插入或更新
	GetContact(id string) (*domain.Contact, error)
	GetContacts(ids []string) ([]domain.Contact, error) // 只返回存在的联系人，顺序与 ids 一致
}

// GroupRepository 定义分组数据存取操作。
type GroupRepository interface {
	SaveGroup(group *domain.Group) error
	GetGroup(id string) (*domain.Group, error) // 包含 MemberIDs
}

// ProjectRepository 定义项目数据存取操作。
type ProjectRepository interface {
	SaveProject(project *domain.Project) error
	GetProject(id string) (*domain.Project, error) // 包含 MemberIDs
}

// SendJobRepository 定义发送任务的数据存取操作。
type SendJobRepository interface {
	// CreateSendJob 保存任务及其邮件，并把附件关联到任务。
	// 附件已属于其他任务时返回 domain.ErrAttachmentInUse，整个写入回滚。
	CreateSendJob(job *domain.SendJob) error
	// GetSendJob 返回任务及其邮件（按解析顺序）和附件
	GetSendJob(id string) (*domain.SendJob, error)
	ListSendJobsByProject(projectID string, pendingOnly bool) ([]domain.SendJob, error)
	// SearchSendJobs 按模板名称子串查找项目下的任务
	SearchSendJobs(projectID, query string) ([]domain.SendJob, error)
	// DeleteSendJob 级联删除任务、邮件与附件记录，返回被删除的附件
	DeleteSendJob(id string) ([]domain.Attachment, error)

	// ClaimSendJob 原子地获取发送租约：任务未完成，且没有租约或租约已超过 ttl。
	// token 标识租约持有者。
	ClaimSendJob(id, token string, now time.Time, ttl time.Duration) (bool, error)
	// RenewSendJobClaim 仅当租约仍属于 token 且任务未完成时刷新租约时间
	RenewSendJobClaim(id, token string, now time.Time) (bool, error)
	// ReleaseSendJob 释放 token 持有的租约，不改变任务状态
	ReleaseSendJob(id, token string) error
	// ClaimMessage 仅当邮件未发送且未被占用时标记为投递中
	ClaimMessage(messageID string, now time.Time) (bool, error)
	// ReleaseMessage 投递失败后清除投递中标记，已发送的邮件不受影响
	ReleaseMessage(messageID string) error
	MarkMessageSent(messageID string) error
	// CompleteSendJob 仅当 sent_at 为空且租约属于 token 时写入完成时间
	CompleteSendJob(id, token string, sentAt time.Time) (bool, error)
	// DueSendJobs 返回 scheduled_at <= now、未完成且没有有效租约的任务（不含邮件）
	DueSendJobs(now time.Time, claimTTL time.Duration) ([]domain.SendJob, error)
}

// AttachmentRepository 定义附件元数据存取操作。
type AttachmentRepository interface {
	SaveAttachment(att *domain.Attachment) error
	GetAttachment(id string) (*domain.Attachment, error)
	DeleteAttachment(id string) (*domain.Attachment, error)
}

// Store 定义完整的存储接口。
type Store interface {
	TemplateRepository
	ContactRepository
	GroupRepository
	ProjectRepository
	SendJobRepository
	AttachmentRepository

	// 工具方法
	Close() error
	Health() error
}

// ObjectStore 附件文件的对象存储。
type ObjectStore interface {
	Upload(ctx context.Context, r io.Reader, name, contentType string, size int64) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ObjectKey 生成对象存储键：uuid_文件名
func ObjectKey(fileName string) string {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return uuid.NewString() + "_" + name
}
