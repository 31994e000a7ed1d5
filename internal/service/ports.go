package service

import (
	"context"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/identity"
)

// MailTransport 发信通道
type MailTransport interface {
	// Authenticate 只做登录握手，用于校验凭据
	Authenticate(ctx context.Context, creds domain.MailCredentials) error
	Send(ctx context.Context, creds domain.MailCredentials, mail *domain.OutgoingMail) error
}

// CredentialCipher 解密存储的邮箱密码
type CredentialCipher interface {
	Decrypt(ciphertext string) (string, error)
}

// IdentityProvider 身份提供方的用户查询
type IdentityProvider interface {
	FindUser(ctx context.Context, id string) (*identity.User, error)
}

// UserDirectory 可分页列出用户的身份提供方，用于批量导入
type UserDirectory interface {
	ListUsers(ctx context.Context, first, max int) ([]identity.User, error)
}

// EventPublisher 发布发送任务事件
type EventPublisher interface {
	PublishSendJobCompleted(ctx context.Context, job *domain.SendJob) error
}
