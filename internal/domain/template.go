package domain

import "time"

// Greeting 可复用的问候语模板，会拼接在正文之前。
type Greeting struct {
	ID             string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TemplateString string `json:"templateString" gorm:"type:text"`
	Content        string `json:"content" gorm:"type:text"` // 渲染后的默认内容，仅用于展示
}

// Template 邮件模板。被已完成的发送任务引用后，修改只影响之后的发送。
type Template struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name          string    `json:"name" gorm:"type:varchar(255);uniqueIndex;not null"`
	Headline      string    `json:"headline" gorm:"type:varchar(500)"` // 用作邮件主题
	Content       string    `json:"content" gorm:"type:text"`
	GreetingID    string    `json:"greetingId" gorm:"type:varchar(36);index"`
	FilesRequired bool      `json:"filesRequired" gorm:"default:false"`
	CreatedBy     string    `json:"createdBy" gorm:"type:varchar(36)"`
	ProjectID     string    `json:"projectId" gorm:"type:varchar(36);index;not null"`
	CreatedAt     time.Time `json:"createdAt"`
}
