package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/middleware"
	"leomail/backend/internal/service"
)

// 任务状态
const (
	statusSent      = "sent"
	statusScheduled = "scheduled"
	statusPending   = "pending"
)

// sendJobResponse 发送任务及投递统计
type sendJobResponse struct {
	*domain.SendJob
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Delivered int    `json:"delivered"`
}

func newSendJobResponse(job *domain.SendJob, withMessages bool) sendJobResponse {
	resp := sendJobResponse{
		Total:     len(job.Messages),
		Delivered: job.SentCount(),
	}
	switch {
	case job.IsSent():
		resp.Status = statusSent
	case job.ScheduledAt != nil && job.ScheduledAt.After(time.Now()):
		resp.Status = statusScheduled
	default:
		resp.Status = statusPending
	}
	if !withMessages {
		head := *job
		head.Messages = nil
		job = &head
	}
	resp.SendJob = job
	return resp
}

func newSendJobList(jobs []domain.SendJob) []sendJobResponse {
	out := make([]sendJobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, newSendJobResponse(&jobs[i], false))
	}
	return out
}

// ========== Mail Handlers ==========

// sendByTemplate 创建发送任务。
// multipart 请求的 request 字段为 JSON，attachments 为附件；也接受纯 JSON 请求体。
func (h *Handler) sendByTemplate(c *gin.Context) {
	userID := middleware.UserID(c)
	projectID := c.Param("projectId")
	if err := h.permissions.RequireProject(projectID, userID); err != nil {
		writeError(c, h.logger, err)
		return
	}

	var req service.SendRequest
	var uploaded []string

	if c.ContentType() == "multipart/form-data" {
		form, err := c.MultipartForm()
		if err != nil {
			if middleware.IsBodyTooLarge(err) {
				RequestTooLarge(c)
				return
			}
			BadRequest(c, MsgInvalidRequest)
			return
		}
		raw := form.Value["request"]
		if len(raw) == 0 {
			BadRequest(c, MsgMissingRequest)
			return
		}
		if err := json.Unmarshal([]byte(raw[0]), &req); err != nil {
			BadRequest(c, MsgInvalidJSON)
			return
		}

		for _, fh := range form.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				h.cleanupAttachments(uploaded)
				BadRequest(c, MsgInvalidRequest)
				return
			}
			att, err := h.attachments.Upload(c.Request.Context(), userID, service.UploadInput{
				FileName:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Content:     f,
			})
			f.Close()
			if err != nil {
				h.cleanupAttachments(uploaded)
				writeError(c, h.logger, err)
				return
			}
			uploaded = append(uploaded, att.ID)
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			RequestTooLarge(c)
			return
		}
		BadRequest(c, MsgInvalidJSON)
		return
	}

	// 客户端断开不应中断已经开始的投递
	ctx := context.WithoutCancel(c.Request.Context())
	job, err := h.send.SendByTemplate(ctx, projectID, userID, req, uploaded)
	if err != nil {
		h.cleanupAttachments(uploaded)
		writeError(c, h.logger, err)
		return
	}

	Created(c, newSendJobResponse(job, true))
}

// cleanupAttachments 删除本次请求上传、但未关联到任务的附件
func (h *Handler) cleanupAttachments(ids []string) {
	for _, id := range ids {
		if err := h.attachments.DeleteUnbound(context.Background(), id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("清理附件失败", zap.String("attachment_id", id), zap.Error(err))
		}
	}
}

// sendMail 手动投递一个未完成的任务
func (h *Handler) sendMail(c *gin.Context) {
	job, ok := h.authorizedJob(c)
	if !ok {
		return
	}

	sent, err := h.send.SendMail(context.WithoutCancel(c.Request.Context()), job.ID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	Success(c, newSendJobResponse(sent, true))
}

// listSendJobs 列出项目的发送任务，scheduled=true 时只返回未完成的
func (h *Handler) listSendJobs(c *gin.Context) {
	projectID := c.Param("projectId")
	if err := h.permissions.RequireProject(projectID, middleware.UserID(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}

	scheduled, _ := strconv.ParseBool(c.DefaultQuery("scheduled", "false"))
	jobs, err := h.sendJobs.List(projectID, scheduled)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	Success(c, newSendJobList(jobs))
}

// searchSendJobs 按模板名称搜索
func (h *Handler) searchSendJobs(c *gin.Context) {
	projectID := c.Param("projectId")
	if err := h.permissions.RequireProject(projectID, middleware.UserID(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}

	jobs, err := h.sendJobs.Search(projectID, c.Query("q"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	Success(c, newSendJobList(jobs))
}

func (h *Handler) getSendJob(c *gin.Context) {
	job, ok := h.authorizedJob(c)
	if !ok {
		return
	}
	Success(c, newSendJobResponse(job, true))
}

func (h *Handler) deleteSendJob(c *gin.Context) {
	job, ok := h.authorizedJob(c)
	if !ok {
		return
	}
	if err := h.sendJobs.Delete(c.Request.Context(), job.ID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	NoContent(c)
}

// authorizedJob 加载任务并检查当前用户是否属于任务所在项目
func (h *Handler) authorizedJob(c *gin.Context) (*domain.SendJob, bool) {
	job, err := h.sendJobs.Get(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return nil, false
	}
	if err := h.permissions.RequireProject(job.ProjectID, middleware.UserID(c)); err != nil {
		writeError(c, h.logger, err)
		return nil, false
	}
	return job, true
}

// ========== Attachment Handlers ==========

// downloadAttachment 下载附件原始内容
func (h *Handler) downloadAttachment(c *gin.Context) {
	att, rc, err := h.attachments.Open(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	defer rc.Close()

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": att.FileName})
	c.DataFromReader(http.StatusOK, att.Size, contentType, rc, map[string]string{
		"Content-Disposition": disposition,
	})
}

// importStatus 返回用户导入是否正在进行
func (h *Handler) importStatus(c *gin.Context) {
	Success(c, gin.H{"running": h.imports.Get()})
}
