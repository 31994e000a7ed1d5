package memory

import (
	"sort"
	"strings"
	"time"

	"leomail/backend/internal/domain"
)

// CreateSendJob 保存任务、邮件，并把附件关联到任务
func (s *Store) CreateSendJob(job *domain.SendJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range job.Attachments {
		att, ok := s.attachments[job.Attachments[i].ID]
		if !ok {
			return domain.ErrAttachmentNotFound
		}
		if att.SendJobID != nil && *att.SendJobID != job.ID {
			return domain.ErrAttachmentInUse
		}
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	head := *job
	head.Messages = nil
	head.Attachments = nil
	s.jobs[job.ID] = &head

	msgs := make([]*domain.Message, 0, len(job.Messages))
	for i := range job.Messages {
		job.Messages[i].SendJobID = job.ID
		job.Messages[i].Position = i
		m := job.Messages[i]
		msgs = append(msgs, &m)
	}
	s.messages[job.ID] = msgs

	ids := make(map[string]struct{}, len(job.Attachments))
	for i := range job.Attachments {
		att := s.attachments[job.Attachments[i].ID]
		jobID := job.ID
		att.SendJobID = &jobID
		job.Attachments[i] = *att
		ids[att.ID] = struct{}{}
	}
	s.byJob[job.ID] = ids
	return nil
}

// GetSendJob 返回任务及其邮件和附件
func (s *Store) GetSendJob(id string) (*domain.SendJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrSendJobNotFound
	}
	return s.assembleLocked(job), nil
}

func (s *Store) assembleLocked(head *domain.SendJob) *domain.SendJob {
	job := copyJob(head)
	for _, m := range s.messages[head.ID] {
		job.Messages = append(job.Messages, *m)
	}
	for attID := range s.byJob[head.ID] {
		if att, ok := s.attachments[attID]; ok {
			job.Attachments = append(job.Attachments, *att)
		}
	}
	sort.Slice(job.Attachments, func(i, j int) bool {
		return job.Attachments[i].CreatedAt.Before(job.Attachments[j].CreatedAt)
	})
	return job
}

func copyJob(head *domain.SendJob) *domain.SendJob {
	cp := *head
	cp.ScheduledAt = copyTime(head.ScheduledAt)
	cp.ClaimedAt = copyTime(head.ClaimedAt)
	cp.SentAt = copyTime(head.SentAt)
	cp.Messages = nil
	cp.Attachments = nil
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ListSendJobsByProject 返回项目下的任务，最新的在前
func (s *Store) ListSendJobsByProject(projectID string, pendingOnly bool) ([]domain.SendJob, error) {
	return s.filterJobs(func(j *domain.SendJob) bool {
		if j.ProjectID != projectID {
			return false
		}
		return !pendingOnly || j.SentAt == nil
	}), nil
}

// SearchSendJobs 按模板名称子串（不区分大小写）查找
func (s *Store) SearchSendJobs(projectID, query string) ([]domain.SendJob, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	names := make(map[string]string, len(s.templates))
	for id, tpl := range s.templates {
		names[id] = strings.ToLower(tpl.Name)
	}
	s.mu.RUnlock()

	return s.filterJobs(func(j *domain.SendJob) bool {
		return j.ProjectID == projectID && strings.Contains(names[j.TemplateID], q)
	}), nil
}

func (s *Store) filterJobs(keep func(j *domain.SendJob) bool) []domain.SendJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SendJob, 0)
	for _, j := range s.jobs {
		if keep(j) {
			result = append(result, *s.assembleLocked(j))
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return result
}

// DeleteSendJob 级联删除任务，返回被删除的附件
func (s *Store) DeleteSendJob(id string) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return nil, domain.ErrSendJobNotFound
	}
	removed := make([]domain.Attachment, 0, len(s.byJob[id]))
	for attID := range s.byJob[id] {
		if att, ok := s.attachments[attID]; ok {
			removed = append(removed, *att)
			delete(s.attachments, attID)
		}
	}
	delete(s.byJob, id)
	delete(s.messages, id)
	delete(s.jobs, id)
	return removed, nil
}

// ClaimSendJob 原子地获取发送租约
func (s *Store) ClaimSendJob(id, token string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrSendJobNotFound
	}
	if job.SentAt != nil {
		return false, nil
	}
	if job.ClaimedAt != nil && !job.ClaimedAt.Before(now.Add(-ttl)) {
		return false, nil
	}
	claimed := now
	job.ClaimedAt = &claimed
	job.ClaimToken = token
	return true, nil
}

// RenewSendJobClaim 刷新仍由 token 持有的租约
func (s *Store) RenewSendJobClaim(id, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrSendJobNotFound
	}
	if job.SentAt != nil || job.ClaimedAt == nil || job.ClaimToken != token {
		return false, nil
	}
	renewed := now
	job.ClaimedAt = &renewed
	return true, nil
}

// ReleaseSendJob 释放 token 持有的租约
func (s *Store) ReleaseSendJob(id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrSendJobNotFound
	}
	if job.ClaimToken == token {
		job.ClaimedAt = nil
		job.ClaimToken = ""
	}
	return nil
}

func (s *Store) findMessageLocked(messageID string) *domain.Message {
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				return m
			}
		}
	}
	return nil
}

// ClaimMessage 将未发送且未被占用的邮件标记为投递中
func (s *Store) ClaimMessage(messageID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessageLocked(messageID)
	if m == nil {
		return false, domain.ErrNotFound
	}
	if m.Sent || m.SendingAt != nil {
		return false, nil
	}
	at := now
	m.SendingAt = &at
	return true, nil
}

// ReleaseMessage 清除未发送邮件的投递中标记
func (s *Store) ReleaseMessage(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessageLocked(messageID)
	if m == nil {
		return domain.ErrNotFound
	}
	if !m.Sent {
		m.SendingAt = nil
	}
	return nil
}

// MarkMessageSent 将单封邮件标记为已投递
func (s *Store) MarkMessageSent(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessageLocked(messageID)
	if m == nil {
		return domain.ErrNotFound
	}
	m.Sent = true
	return nil
}

// CompleteSendJob 仅当任务未完成且租约属于 token 时写入完成时间
func (s *Store) CompleteSendJob(id, token string, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrSendJobNotFound
	}
	if job.SentAt != nil || job.ClaimToken != token {
		return false, nil
	}
	t := sentAt
	job.SentAt = &t
	job.ClaimedAt = nil
	job.ClaimToken = ""
	return true, nil
}

// DueSendJobs 返回到期、未完成且没有有效租约的任务
func (s *Store) DueSendJobs(now time.Time, claimTTL time.Duration) ([]domain.SendJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SendJob, 0)
	for _, j := range s.jobs {
		if j.SentAt != nil || j.ScheduledAt == nil || j.ScheduledAt.After(now) {
			continue
		}
		if j.ClaimedAt != nil && !j.ClaimedAt.Before(now.Add(-claimTTL)) {
			continue
		}
		result = append(result, *copyJob(j))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ScheduledAt.Before(*result[k].ScheduledAt)
	})
	return result, nil
}

// ========== 附件 ==========

// SaveAttachment 保存附件元数据
func (s *Store) SaveAttachment(att *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	cp := *att
	s.attachments[att.ID] = &cp
	return nil
}

// GetAttachment 根据 ID 获取附件
func (s *Store) GetAttachment(id string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, ok := s.attachments[id]
	if !ok {
		return nil, domain.ErrAttachmentNotFound
	}
	cp := *att
	return &cp, nil
}

// DeleteAttachment 删除附件记录并返回被删除的附件
func (s *Store) DeleteAttachment(id string) (*domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attachments[id]
	if !ok {
		return nil, domain.ErrAttachmentNotFound
	}
	if att.SendJobID != nil {
		delete(s.byJob[*att.SendJobID], id)
	}
	delete(s.attachments, id)
	return att, nil
}
