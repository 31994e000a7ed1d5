package domain

import (
	"errors"
	"fmt"
)

// 错误分类，具体错误通过 %w 包装分类错误，调用方用 errors.Is 判断类别。
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
	// ErrConfiguration 不可由用户修正的配置错误（如密钥错误导致解密失败）
	ErrConfiguration = errors.New("configuration error")
)

// 具体业务错误
var (
	ErrTemplateNotFound   = fmt.Errorf("template %w", ErrNotFound)
	ErrGreetingNotFound   = fmt.Errorf("greeting %w", ErrNotFound)
	ErrSendJobNotFound    = fmt.Errorf("send job %w", ErrNotFound)
	ErrAttachmentNotFound = fmt.Errorf("attachment %w", ErrNotFound)
	ErrContactNotFound    = fmt.Errorf("contact %w", ErrNotFound)
	ErrGroupNotFound      = fmt.Errorf("group %w", ErrNotFound)
	ErrProjectNotFound    = fmt.Errorf("project %w", ErrNotFound)

	ErrMissingProjectID   = fmt.Errorf("%w: project id is required", ErrInvalidArgument)
	ErrMissingAccountID   = fmt.Errorf("%w: account id is required", ErrInvalidArgument)
	ErrNoReceivers        = fmt.Errorf("%w: no valid receivers", ErrInvalidArgument)
	ErrNoMailsToSend      = fmt.Errorf("%w: no mails to send", ErrInvalidArgument)
	ErrAlreadySent        = fmt.Errorf("%w: template already sent", ErrInvalidArgument)
	ErrSendInProgress     = fmt.Errorf("%w: send in progress", ErrInvalidArgument)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrInvalidArgument)
	ErrMissingCredentials = fmt.Errorf("%w: sender mail address or password missing", ErrInvalidArgument)
	ErrInvalidSender      = fmt.Errorf("%w: unknown sender kind", ErrInvalidArgument)
	ErrFilesRequired      = fmt.Errorf("%w: template requires attachments", ErrInvalidArgument)
	ErrAttachmentInUse    = fmt.Errorf("%w: attachment already belongs to a send job", ErrInvalidArgument)

	ErrTemplateNameExists = fmt.Errorf("%w: template name already exists", ErrConflict)
	ErrImportRunning      = fmt.Errorf("%w: user import already running", ErrConflict)

	ErrCredentialDecrypt = fmt.Errorf("%w: credential decryption failed", ErrConfiguration)
)

// InvalidArgument 构造一个参数错误
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
