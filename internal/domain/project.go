package domain

import "time"

// Project 项目，持有项目邮箱凭据与成员列表。
type Project struct {
	ID                string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name              string    `json:"name" gorm:"type:varchar(255);not null"`
	Description       string    `json:"description" gorm:"type:text"`
	MailAddress       string    `json:"mailAddress" gorm:"type:varchar(255)"`
	EncryptedPassword string    `json:"-" gorm:"type:varchar(512)"` // 项目邮箱的加密密码
	CreatedBy         string    `json:"createdBy" gorm:"type:varchar(36);index"`
	CreatedAt         time.Time `json:"createdAt"`
	MemberIDs         []string  `json:"memberIds" gorm:"-"`
}

// ProjectMember 项目成员关联
type ProjectMember struct {
	ProjectID string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"primaryKey;type:varchar(36);index"`
}

// HasMember 用户是否为项目成员或创建者
func (p *Project) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	if p.CreatedBy == userID {
		return true
	}
	for _, id := range p.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Group 项目内的联系人分组，仅作为收件人展开来源。
type Group struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_group_project_name"`
	Description string    `json:"description" gorm:"type:text"`
	ProjectID   string    `json:"projectId" gorm:"type:varchar(36);not null;uniqueIndex:idx_group_project_name"`
	CreatedBy   string    `json:"createdBy" gorm:"type:varchar(36)"`
	CreatedAt   time.Time `json:"createdAt"`
	MemberIDs   []string  `json:"memberIds" gorm:"-"`
}

// GroupMember 分组成员关联
type GroupMember struct {
	GroupID   string `gorm:"primaryKey;type:varchar(36)"`
	ContactID string `gorm:"primaryKey;type:varchar(36);index"`
}
