package postgres

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leomail/backend/internal/domain"
)

// preloadJob 加载任务的邮件（按解析顺序）与附件
func preloadJob(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") })
}

// CreateSendJob 在一个事务中保存任务、邮件，并把附件关联到任务。
// 附件关联使用条件更新，已属于其他任务的附件会让整个事务回滚。
func (s *Store) CreateSendJob(job *domain.SendJob) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(job).Error; err != nil {
			return err
		}

		for i := range job.Messages {
			job.Messages[i].SendJobID = job.ID
			job.Messages[i].Position = i
		}
		if len(job.Messages) > 0 {
			if err := tx.CreateInBatches(&job.Messages, 500).Error; err != nil {
				return err
			}
		}

		for i := range job.Attachments {
			id := job.Attachments[i].ID
			res := tx.Model(&domain.Attachment{}).
				Where("id = ? AND send_job_id IS NULL", id).
				Update("send_job_id", job.ID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var count int64
				if err := tx.Model(&domain.Attachment{}).Where("id = ?", id).Count(&count).Error; err != nil {
					return err
				}
				if count == 0 {
					return domain.ErrAttachmentNotFound
				}
				return domain.ErrAttachmentInUse
			}
			if err := tx.First(&job.Attachments[i], "id = ?", id).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSendJob 返回任务及其邮件和附件
func (s *Store) GetSendJob(id string) (*domain.SendJob, error) {
	var job domain.SendJob
	if err := preloadJob(s.db).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrSendJobNotFound)
	}
	return &job, nil
}

// ListSendJobsByProject 返回项目下的任务，最新的在前
func (s *Store) ListSendJobsByProject(projectID string, pendingOnly bool) ([]domain.SendJob, error) {
	q := preloadJob(s.db).Where("project_id = ?", projectID)
	if pendingOnly {
		q = q.Where("sent_at IS NULL")
	}
	var jobs []domain.SendJob
	err := q.Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// SearchSendJobs 按模板名称子串（不区分大小写）查找
func (s *Store) SearchSendJobs(projectID, query string) ([]domain.SendJob, error) {
	var jobs []domain.SendJob
	err := preloadJob(s.db).
		Select("send_jobs.*").
		Joins("JOIN templates ON templates.id = send_jobs.template_id").
		Where("send_jobs.project_id = ? AND LOWER(templates.name) LIKE ?", projectID, likePattern(strings.TrimSpace(query))).
		Order("send_jobs.created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// DeleteSendJob 级联删除任务、邮件与附件记录，返回被删除的附件
func (s *Store) DeleteSendJob(id string) ([]domain.Attachment, error) {
	var removed []domain.Attachment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var job domain.SendJob
		if err := tx.Select("id").First(&job, "id = ?", id).Error; err != nil {
			return notFound(err, domain.ErrSendJobNotFound)
		}
		if err := tx.Where("send_job_id = ?", id).Find(&removed).Error; err != nil {
			return err
		}
		if err := tx.Where("send_job_id = ?", id).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("send_job_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.SendJob{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ClaimSendJob 原子地获取发送租约。条件更新保证并发调用中只有一个成功。
func (s *Store) ClaimSendJob(id, token string, now time.Time, ttl time.Duration) (bool, error) {
	res := s.db.Model(&domain.SendJob{}).
		Where("id = ? AND sent_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)", id, now.Add(-ttl)).
		Updates(map[string]interface{}{"claimed_at": now, "claim_token": token})
	return s.affected(res, id)
}

// RenewSendJobClaim 刷新仍由 token 持有的租约
func (s *Store) RenewSendJobClaim(id, token string, now time.Time) (bool, error) {
	res := s.db.Model(&domain.SendJob{}).
		Where("id = ? AND claim_token = ? AND sent_at IS NULL", id, token).
		Update("claimed_at", now)
	return s.affected(res, id)
}

// ReleaseSendJob 释放 token 持有的租约，不改变任务状态
func (s *Store) ReleaseSendJob(id, token string) error {
	return s.db.Model(&domain.SendJob{}).Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]interface{}{"claimed_at": gorm.Expr("NULL"), "claim_token": ""}).Error
}

// ClaimMessage 将未发送且未被占用的邮件标记为投递中
func (s *Store) ClaimMessage(messageID string, now time.Time) (bool, error) {
	res := s.db.Model(&domain.Message{}).
		Where("id = ? AND sent = ? AND sending_at IS NULL", messageID, false).
		Update("sending_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var count int64
	if err := s.db.Model(&domain.Message{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// ReleaseMessage 清除未发送邮件的投递中标记
func (s *Store) ReleaseMessage(messageID string) error {
	return s.db.Model(&domain.Message{}).Where("id = ? AND sent = ?", messageID, false).
		Update("sending_at", gorm.Expr("NULL")).Error
}

// MarkMessageSent 将单封邮件标记为已投递
func (s *Store) MarkMessageSent(messageID string) error {
	return s.db.Model(&domain.Message{}).Where("id = ?", messageID).Update("sent", true).Error
}

// CompleteSendJob 仅当 sent_at 为空且租约属于 token 时写入完成时间并清除租约
func (s *Store) CompleteSendJob(id, token string, sentAt time.Time) (bool, error) {
	res := s.db.Model(&domain.SendJob{}).
		Where("id = ? AND sent_at IS NULL AND claim_token = ?", id, token).
		Updates(map[string]interface{}{
			"sent_at":     sentAt,
			"claimed_at":  gorm.Expr("NULL"),
			"claim_token": "",
		})
	return s.affected(res, id)
}

// affected 条件更新命中一行返回 true；未命中时区分任务不存在
func (s *Store) affected(res *gorm.DB, id string) (bool, error) {
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.jobExists(id); err != nil {
		return false, err
	}
	return false, nil
}

// DueSendJobs 返回到期、未完成且没有有效租约的任务（不含邮件），最早到期的在前
func (s *Store) DueSendJobs(now time.Time, claimTTL time.Duration) ([]domain.SendJob, error) {
	var jobs []domain.SendJob
	err := s.db.
		Where("sent_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= ?", now).
		Where("claimed_at IS NULL OR claimed_at < ?", now.Add(-claimTTL)).
		Order("scheduled_at").
		Find(&jobs).Error
	return jobs, err
}

func (s *Store) jobExists(id string) (bool, error) {
	var count int64
	if err := s.db.Model(&domain.SendJob{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, domain.ErrSendJobNotFound
	}
	return true, nil
}
