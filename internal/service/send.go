package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leomail/backend/internal/domain"
	"leomail/backend/internal/mailmerge"
	"leomail/backend/internal/monitoring"
	"leomail/backend/internal/storage"
)

// DefaultClaimTTL 发送租约的默认有效期
const DefaultClaimTTL = 10 * time.Minute

// Receivers 发送目标
type Receivers struct {
	Contacts []string `json:"contacts"`
	Groups   []string `json:"groups"`
}

// Sender 发件身份：个人邮箱或项目邮箱
type Sender struct {
	MailType domain.SenderKind `json:"mailType"`
	ID       string            `json:"id"` // 项目邮箱时为项目 ID，个人邮箱时忽略
}

// SendRequest 按模板发送的请求
type SendRequest struct {
	Receiver     Receivers  `json:"receiver"`
	TemplateID   string     `json:"templateId"`
	Personalized bool       `json:"personalized"`
	ScheduledAt  *time.Time `json:"scheduledAt,omitempty"`
	From         Sender     `json:"from"`
}

// SendServiceDeps 发送服务的依赖
type SendServiceDeps struct {
	Store     storage.Store
	Engine    *mailmerge.Engine
	Resolver  *Resolver
	Transport MailTransport
	Cipher    CredentialCipher
	Objects   storage.ObjectStore
	Events    EventPublisher      // 可选
	Metrics   *monitoring.Metrics // 可选
	ClaimTTL  time.Duration
	Logger    *zap.Logger
}

// SendService 构建并投递发送任务
type SendService struct {
	store       storage.Store
	engine      *mailmerge.Engine
	resolver    *Resolver
	permissions *PermissionService
	transport   MailTransport
	cipher      CredentialCipher
	objects     storage.ObjectStore
	events      EventPublisher
	metrics     *monitoring.Metrics
	claimTTL    time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewSendService 创建发送服务
func NewSendService(deps SendServiceDeps) *SendService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.ClaimTTL
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	engine := deps.Engine
	if engine == nil {
		engine = mailmerge.NewEngine(deps.Store, logger)
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = NewResolver(deps.Store, deps.Store, nil, logger)
	}
	return &SendService{
		store:       deps.Store,
		engine:      engine,
		resolver:    resolver,
		permissions: NewPermissionService(deps.Store),
		transport:   deps.Transport,
		cipher:      deps.Cipher,
		objects:     deps.Objects,
		events:      deps.Events,
		metrics:     deps.Metrics,
		claimTTL:    ttl,
		logger:      logger.Named("send"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SendByTemplate 渲染模板、校验发件凭据并保存发送任务。
// 未指定发送时间或时间已到时立即投递，否则留给定时任务。
func (s *SendService) SendByTemplate(ctx context.Context, projectID, accountID string, req SendRequest, attachmentIDs []string) (*domain.SendJob, error) {
	if projectID == "" {
		return nil, domain.ErrMissingProjectID
	}
	if accountID == "" {
		return nil, domain.ErrMissingAccountID
	}

	tpl, err := s.store.GetTemplate(req.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl.FilesRequired && len(attachmentIDs) == 0 {
		return nil, domain.ErrFilesRequired
	}

	recipients, err := s.resolver.Resolve(ctx, req.Receiver.Groups, req.Receiver.Contacts)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, domain.ErrNoReceivers
	}

	rendered, err := s.engine.RenderAll(ctx, tpl.ID, recipients, req.Personalized)
	if err != nil {
		return nil, err
	}
	if skipped := len(recipients) - len(rendered); skipped > 0 && s.metrics != nil {
		s.metrics.RecordRenderSkipped(skipped)
	}
	if len(rendered) == 0 {
		return nil, domain.ErrNoMailsToSend
	}

	kind, senderID, err := senderOf(req.From, projectID, accountID)
	if err != nil {
		return nil, err
	}
	// 使用其他项目的邮箱发件时，同样需要该项目的权限
	if kind == domain.SenderProject && senderID != projectID {
		if err := s.permissions.RequireProject(senderID, accountID); err != nil {
			return nil, err
		}
	}
	creds, err := s.verifiedCredentials(ctx, kind, senderID)
	if err != nil {
		return nil, err
	}

	attachments, err := s.loadAttachments(attachmentIDs, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := &domain.SendJob{
		ID:          uuid.NewString(),
		TemplateID:  tpl.ID,
		Subject:     tpl.Headline,
		ProjectID:   projectID,
		SenderKind:  kind,
		SenderID:    senderID,
		CreatedBy:   accountID,
		CreatedAt:   now,
		Attachments: attachments,
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		job.ScheduledAt = &at
	}
	for i, r := range rendered {
		job.Messages = append(job.Messages, domain.Message{
			ID:        uuid.NewString(),
			SendJobID: job.ID,
			ContactID: r.Contact.ID,
			Recipient: r.Contact.MailAddress,
			Body:      r.Body,
			Position:  i,
		})
	}

	if err := s.store.CreateSendJob(job); err != nil {
		return nil, fmt.Errorf("save send job: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordSendJobCreated()
	}
	s.logger.Info("发送任务已创建",
		zap.String("job_id", job.ID),
		zap.String("template_id", tpl.ID),
		zap.Int("messages", len(job.Messages)),
		zap.Bool("scheduled", !job.IsDue(now)))

	if !job.IsDue(now) {
		return job, nil
	}

	token := uuid.NewString()
	claimed, err := s.store.ClaimSendJob(job.ID, token, now, s.claimTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// 定时任务已经接手
		return job, nil
	}
	if err := s.deliver(ctx, job, token, creds); err != nil {
		return nil, err
	}
	return s.store.GetSendJob(job.ID)
}

// SendMail 投递一个已保存的任务，定时任务和手动触发共用。
// 任务已完成返回 ErrAlreadySent，正在被其他调用投递时返回 ErrSendInProgress。
func (s *SendService) SendMail(ctx context.Context, jobID string) (*domain.SendJob, error) {
	job, err := s.store.GetSendJob(jobID)
	if err != nil {
		return nil, err
	}
	if len(job.Messages) == 0 {
		return nil, domain.ErrNoMailsToSend
	}
	if job.IsSent() {
		return nil, domain.ErrAlreadySent
	}

	token := uuid.NewString()
	claimed, err := s.store.ClaimSendJob(job.ID, token, s.now(), s.claimTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.store.GetSendJob(jobID)
		if err == nil && current.IsSent() {
			return nil, domain.ErrAlreadySent
		}
		return nil, domain.ErrSendInProgress
	}

	creds, err := s.verifiedCredentials(ctx, job.SenderKind, job.SenderID)
	if err != nil {
		s.release(job.ID, token)
		return nil, err
	}
	if err := s.deliver(ctx, job, token, creds); err != nil {
		return nil, err
	}
	return s.store.GetSendJob(job.ID)
}

// deliver 逐封投递尚未发送的邮件，单封失败只记录日志。
// 调用方必须已持有 token 对应的租约。每封邮件投递前续约并占用该邮件，
// 续约失败说明租约已被接管，立即停止；循环结束后写入完成时间。
func (s *SendService) deliver(ctx context.Context, job *domain.SendJob, token string, creds domain.MailCredentials) error {
	start := time.Now()

	files, err := s.fetchAttachments(ctx, job.Attachments)
	if err != nil {
		s.release(job.ID, token)
		return err
	}

	sent, failed := 0, 0
	for i := range job.Messages {
		msg := &job.Messages[i]
		if msg.Sent {
			continue
		}
		if err := ctx.Err(); err != nil {
			s.release(job.ID, token)
			return err
		}
		renewed, err := s.store.RenewSendJobClaim(job.ID, token, s.now())
		if err != nil {
			s.release(job.ID, token)
			return fmt.Errorf("renew send claim: %w", err)
		}
		if !renewed {
			s.logger.Warn("发送租约已被接管，停止投递",
				zap.String("job_id", job.ID),
				zap.Int("sent", sent))
			return nil
		}
		if msg.Recipient == "" {
			s.logger.Error("收件人缺少邮件地址", zap.String("job_id", job.ID), zap.String("contact_id", msg.ContactID))
			failed++
			continue
		}
		owned, err := s.store.ClaimMessage(msg.ID, s.now())
		if err != nil {
			s.release(job.ID, token)
			return fmt.Errorf("claim message: %w", err)
		}
		if !owned {
			// 已由其他发送者投递或正在投递
			continue
		}

		mail := &domain.OutgoingMail{
			From:        creds.Address,
			To:          msg.Recipient,
			Subject:     job.Subject,
			HTMLBody:    msg.Body,
			Attachments: files,
		}
		if err := s.transport.Send(ctx, creds, mail); err != nil {
			s.logger.Error("邮件投递失败",
				zap.String("job_id", job.ID),
				zap.String("contact_id", msg.ContactID),
				zap.Error(err))
			if err := s.store.ReleaseMessage(msg.ID); err != nil {
				s.logger.Error("释放邮件失败", zap.String("message_id", msg.ID), zap.Error(err))
			}
			failed++
			s.recordDelivery(false)
			continue
		}
		if err := s.store.MarkMessageSent(msg.ID); err != nil {
			s.logger.Error("更新邮件状态失败", zap.String("message_id", msg.ID), zap.Error(err))
		}
		msg.Sent = true
		sent++
		s.recordDelivery(true)
	}

	completedAt := s.now()
	completed, err := s.store.CompleteSendJob(job.ID, token, completedAt)
	if err != nil {
		return fmt.Errorf("complete send job: %w", err)
	}
	if !completed {
		s.logger.Warn("发送任务已完成或租约已被接管", zap.String("job_id", job.ID))
		return nil
	}
	job.SentAt = &completedAt

	s.logger.Info("发送任务完成",
		zap.String("job_id", job.ID),
		zap.Int("sent", sent),
		zap.Int("failed", failed))
	if s.metrics != nil {
		s.metrics.RecordSendJobCompleted(time.Since(start))
	}
	if s.events != nil {
		if err := s.events.PublishSendJobCompleted(ctx, job); err != nil {
			s.logger.Warn("发布发送完成事件失败", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

// verifiedCredentials 解析发件凭据并通过登录握手验证
func (s *SendService) verifiedCredentials(ctx context.Context, kind domain.SenderKind, senderID string) (domain.MailCredentials, error) {
	creds, err := s.senderCredentials(kind, senderID)
	if err != nil {
		return domain.MailCredentials{}, err
	}
	if err := s.transport.Authenticate(ctx, creds); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MailCredentials{}, ctxErr
		}
		s.logger.Warn("发件凭据验证失败", zap.String("sender_id", senderID), zap.Error(err))
		return domain.MailCredentials{}, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}
	return creds, nil
}

// senderCredentials 读取项目邮箱或个人邮箱的地址与密码并解密
func (s *SendService) senderCredentials(kind domain.SenderKind, senderID string) (domain.MailCredentials, error) {
	var address, encrypted string
	switch kind {
	case domain.SenderProject:
		project, err := s.store.GetProject(senderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.MailCredentials{}, domain.InvalidArgument("sender project %s not found", senderID)
			}
			return domain.MailCredentials{}, err
		}
		address, encrypted = project.MailAddress, project.EncryptedPassword
	case domain.SenderPersonal:
		contact, err := s.store.GetContact(senderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.MailCredentials{}, domain.InvalidArgument("sender %s not found", senderID)
			}
			return domain.MailCredentials{}, err
		}
		address, encrypted = contact.MailAddress, contact.Natural.EncryptedPassword
	default:
		return domain.MailCredentials{}, domain.ErrInvalidSender
	}

	if address == "" || encrypted == "" {
		return domain.MailCredentials{}, domain.ErrMissingCredentials
	}
	secret, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		s.logger.Error("邮箱密码解密失败", zap.String("sender_id", senderID), zap.Error(err))
		return domain.MailCredentials{}, fmt.Errorf("%w: %v", domain.ErrCredentialDecrypt, err)
	}
	return domain.MailCredentials{Address: address, Secret: secret}, nil
}

// loadAttachments 读取待关联的附件，只能使用本人上传且尚未关联任务的附件
func (s *SendService) loadAttachments(ids []string, accountID string) ([]domain.Attachment, error) {
	out := make([]domain.Attachment, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		att, err := s.store.GetAttachment(id)
		if err != nil {
			return nil, err
		}
		if att.OwnerID != accountID {
			return nil, domain.ErrPermissionDenied
		}
		if att.SendJobID != nil {
			return nil, domain.ErrAttachmentInUse
		}
		out = append(out, *att)
	}
	return out, nil
}

// fetchAttachments 一次性读取任务附件内容，供所有收件人复用
func (s *SendService) fetchAttachments(ctx context.Context, atts []domain.Attachment) ([]domain.OutgoingAttachment, error) {
	files := make([]domain.OutgoingAttachment, 0, len(atts))
	for _, att := range atts {
		rc, err := s.objects.Download(ctx, att.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("download attachment %s: %w", att.ID, err)
		}
		var buf bytes.Buffer
		_, err = io.Copy(&buf, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", att.ID, err)
		}
		files = append(files, domain.OutgoingAttachment{
			FileName:    att.FileName,
			ContentType: att.ContentType,
			Data:        buf.Bytes(),
		})
	}
	return files, nil
}

func (s *SendService) release(jobID, token string) {
	if err := s.store.ReleaseSendJob(jobID, token); err != nil {
		s.logger.Error("释放发送租约失败", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *SendService) recordDelivery(ok bool) {
	if s.metrics != nil {
		s.metrics.RecordDelivery(ok)
	}
}

// senderOf 根据请求确定发件身份：个人邮箱使用当前账号，项目邮箱默认使用当前项目
func senderOf(from Sender, projectID, accountID string) (domain.SenderKind, string, error) {
	kind := domain.SenderKind(strings.ToLower(string(from.MailType)))
	if kind == "" {
		kind = domain.SenderPersonal
	}
	switch kind {
	case domain.SenderPersonal:
		return kind, accountID, nil
	case domain.SenderProject:
		if from.ID != "" {
			return kind, from.ID, nil
		}
		return kind, projectID, nil
	default:
		return "", "", domain.ErrInvalidSender
	}
}
