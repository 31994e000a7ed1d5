package httptransport

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/security"
)

// 错误消息映射表（业务错误 -> 中文消息），按顺序匹配
var errorMessages = []struct {
	err error
	msg string
}{
	// 资源不存在
	{domain.ErrTemplateNotFound, "模板不存在"},
	{domain.ErrGreetingNotFound, "问候语不存在"},
	{domain.ErrSendJobNotFound, "发送任务不存在"},
	{domain.ErrAttachmentNotFound, "附件不存在"},
	{domain.ErrContactNotFound, "联系人不存在"},
	{domain.ErrGroupNotFound, "分组不存在"},
	{domain.ErrProjectNotFound, "项目不存在"},

	// 发送相关
	{domain.ErrMissingProjectID, "缺少项目 ID"},
	{domain.ErrMissingAccountID, "缺少用户 ID"},
	{domain.ErrNoReceivers, "没有有效的收件人"},
	{domain.ErrNoMailsToSend, "没有可发送的邮件"},
	{domain.ErrAlreadySent, "该任务已经发送"},
	{domain.ErrSendInProgress, "该任务正在发送中"},
	{domain.ErrInvalidCredentials, "发件邮箱登录失败，请检查邮箱密码"},
	{domain.ErrMissingCredentials, "发件邮箱地址或密码未设置"},
	{domain.ErrInvalidSender, "发件身份类型无效"},
	{domain.ErrFilesRequired, "该模板需要附件"},
	{domain.ErrAttachmentInUse, "附件已属于其他发送任务"},

	// 附件校验
	{security.ErrDangerousExtension, "不允许上传该类型的文件"},
	{security.ErrFileTooLarge, "附件超过大小上限"},
	{security.ErrDisallowedMimeType, "不允许上传该类型的文件"},
	{security.ErrExecutableContent, "文件包含可执行内容"},
	{security.ErrScriptContent, "文本文件中包含脚本"},

	// 冲突
	{domain.ErrTemplateNameExists, "模板名称已存在"},
	{domain.ErrImportRunning, "用户导入正在进行"},

	// 服务端配置
	{domain.ErrCredentialDecrypt, "邮箱密码解密失败，请联系管理员"},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for _, e := range errorMessages {
		if errors.Is(err, e.err) {
			return e.msg
		}
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return MsgNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return MsgPermissionDenied
	case errors.Is(err, domain.ErrInvalidArgument):
		return MsgInvalidRequest
	case errors.Is(err, domain.ErrConflict):
		return MsgConflict
	}
	return MsgInternalError
}

// StatusOf 把错误分类映射为 HTTP 状态码
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError 按错误类别写入统一响应，5xx 记录日志
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusOf(err)
	msg := GetErrorMessage(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
	} else if errors.Is(err, domain.ErrInvalidArgument) && msg == MsgInvalidRequest {
		// 参数错误没有专门的提示时返回具体原因
		msg = err.Error()
	}

	switch status {
	case http.StatusBadRequest:
		BadRequest(c, msg)
	case http.StatusForbidden:
		Forbidden(c, msg)
	case http.StatusNotFound:
		NotFound(c, msg)
	case http.StatusConflict:
		Conflict(c, msg)
	case http.StatusInternalServerError:
		InternalError(c, msg)
	default:
		Error(c, status, msg)
	}
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidJSON      = "JSON格式错误"
	MsgRequestTooLarge  = "请求体过大"
	MsgMissingRequest   = "缺少 request 字段"
	MsgNotFound         = "资源不存在"
	MsgConflict         = "资源冲突"
	MsgPermissionDenied = "权限不足"

	// 认证相关
	MsgAuthRequired = "需要登录认证"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
