package domain

import "time"

// SenderKind 发件身份类型
type SenderKind string

const (
	SenderPersonal SenderKind = "personal" // 用户个人邮箱
	SenderProject  SenderKind = "project"  // 项目邮箱
)

// Valid 是否为已知的发件身份类型
func (k SenderKind) Valid() bool {
	return k == SenderPersonal || k == SenderProject
}

// MaxMessageBodyLength 单封邮件正文的最大长度
const MaxMessageBodyLength = 8192

// SendJob 一次按模板批量发送的任务。
//
// 状态: SentAt 为空表示待发送，非空表示已完成，写入后不再清空。
// ClaimedAt/ClaimToken 是发送租约：持有者在投递每封邮件前续约，
// 续约失败说明租约已被接管，必须停止投递。
type SendJob struct {
	ID          string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TemplateID  string       `json:"templateId" gorm:"type:varchar(36);index;not null"`
	Subject     string       `json:"subject" gorm:"type:varchar(500)"` // 创建时的模板标题快照
	ProjectID   string       `json:"projectId" gorm:"type:varchar(36);index;not null"`
	SenderKind  SenderKind   `json:"senderKind" gorm:"type:varchar(16);not null"`
	SenderID    string       `json:"senderId" gorm:"type:varchar(36);not null"`
	CreatedBy   string       `json:"createdBy" gorm:"type:varchar(36)"`
	CreatedAt   time.Time    `json:"createdAt"`
	ScheduledAt *time.Time   `json:"scheduledAt,omitempty" gorm:"index"`
	ClaimedAt   *time.Time   `json:"-"`
	ClaimToken  string       `json:"-" gorm:"type:varchar(36)"`
	SentAt      *time.Time   `json:"sentAt,omitempty" gorm:"index"`
	Messages    []Message    `json:"messages,omitempty" gorm:"foreignKey:SendJobID"`
	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:SendJobID"`
}

// IsSent 任务是否已完成
func (j *SendJob) IsSent() bool {
	return j.SentAt != nil
}

// IsDue 任务在给定时刻是否应当发送
func (j *SendJob) IsDue(now time.Time) bool {
	if j.SentAt != nil {
		return false
	}
	return j.ScheduledAt == nil || !j.ScheduledAt.After(now)
}

// SentCount 已成功投递的邮件数
func (j *SendJob) SentCount() int {
	n := 0
	for i := range j.Messages {
		if j.Messages[i].Sent {
			n++
		}
	}
	return n
}

// Message 单个收件人的渲染结果及投递状态。
//
// SendingAt 在投递前以条件更新写入，每封邮件最多被投递一次。
type Message struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SendJobID string `json:"sendJobId" gorm:"type:varchar(36);index;not null"`
	ContactID string `json:"contactId" gorm:"type:varchar(36);index;not null"`
	Recipient string `json:"recipient" gorm:"type:varchar(255)"` // 构建任务时的收件地址
	Body      string `json:"body" gorm:"type:varchar(8192)"`
	Sent      bool       `json:"sent" gorm:"default:false"`
	SendingAt *time.Time `json:"-"`
	Position  int        `json:"-"` // 收件人解析顺序
}

// Attachment 发送任务的附件，文件本体保存在对象存储中。
//
// SendJobID 在任务持久化前为空，关联后不再变化。
type Attachment struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SendJobID   *string   `json:"sendJobId,omitempty" gorm:"type:varchar(36);index"`
	FileName    string    `json:"fileName" gorm:"type:varchar(255)"`
	StorageKey  string    `json:"-" gorm:"type:varchar(500);not null"`
	ContentType string    `json:"contentType" gorm:"type:varchar(100)"`
	Size        int64     `json:"size"`
	OwnerID     string    `json:"ownerId" gorm:"type:varchar(36);index"`
	CreatedAt   time.Time `json:"createdAt"`
}
