package domain

import (
	"strings"
	"time"
)

// ContactKind 联系人类型标签
type ContactKind string

const (
	ContactKindNatural ContactKind = "natural" // 自然人
	ContactKindCompany ContactKind = "company" // 公司
)

// Gender 性别标签（渲染模板时以原值绑定到 sex/gender）
type Gender string

const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "W"
	GenderDiverse Gender = "D"
)

// NaturalDetails 自然人联系人的专有字段
type NaturalDetails struct {
	FirstName         string `json:"firstName" gorm:"type:varchar(255)"`
	LastName          string `json:"lastName" gorm:"type:varchar(255)"`
	PrefixTitle       string `json:"prefixTitle,omitempty" gorm:"type:varchar(100)"`
	SuffixTitle       string `json:"suffixTitle,omitempty" gorm:"type:varchar(100)"`
	Company           string `json:"company,omitempty" gorm:"type:varchar(255)"`
	PositionAtCompany string `json:"positionAtCompany,omitempty" gorm:"type:varchar(255)"`
	Gender            Gender `json:"gender,omitempty" gorm:"type:varchar(8)"`
	// 个人邮箱的加密应用密码，仅用于以个人身份发信
	EncryptedPassword string `json:"-" gorm:"type:varchar(512)"`
}

// CompanyDetails 公司联系人的专有字段
type CompanyDetails struct {
	CompanyName string `json:"companyName" gorm:"type:varchar(255)"`
}

// Contact 收件人（自然人或公司），Kind 决定哪一组字段有效。
type Contact struct {
	ID           string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Kind         ContactKind    `json:"kind" gorm:"type:varchar(16);index;not null"`
	MailAddress  string         `json:"mailAddress" gorm:"type:varchar(255);index"`
	FromIdentity bool           `json:"fromIdentity" gorm:"default:false"` // 是否从身份提供方导入
	CreatedAt    time.Time      `json:"createdAt"`
	Natural      NaturalDetails `json:"natural" gorm:"embedded;embeddedPrefix:natural_"`
	Company      CompanyDetails `json:"company" gorm:"embedded;embeddedPrefix:company_"`
}

// NewNaturalContact 创建自然人联系人
func NewNaturalContact(id, firstName, lastName, mailAddress string) *Contact {
	return &Contact{
		ID:          id,
		Kind:        ContactKindNatural,
		MailAddress: mailAddress,
		CreatedAt:   time.Now().UTC(),
		Natural: NaturalDetails{
			FirstName: firstName,
			LastName:  lastName,
		},
	}
}

// NewCompanyContact 创建公司联系人
func NewCompanyContact(id, companyName, mailAddress string) *Contact {
	return &Contact{
		ID:          id,
		Kind:        ContactKindCompany,
		MailAddress: mailAddress,
		CreatedAt:   time.Now().UTC(),
		Company:     CompanyDetails{CompanyName: companyName},
	}
}

// IsNatural 是否为自然人
func (c *Contact) IsNatural() bool {
	return c.Kind == ContactKindNatural
}

// DisplayLabel 返回联系人的展示名称
func (c *Contact) DisplayLabel() string {
	switch c.Kind {
	case ContactKindNatural:
		parts := make([]string, 0, 4)
		for _, p := range []string{c.Natural.PrefixTitle, c.Natural.FirstName, c.Natural.LastName, c.Natural.SuffixTitle} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			return c.MailAddress
		}
		return strings.Join(parts, " ")
	case ContactKindCompany:
		if c.Company.CompanyName != "" {
			return c.Company.CompanyName
		}
		return c.MailAddress
	default:
		return c.MailAddress
	}
}

// GetMailAddress 返回联系人的邮件地址
func (c *Contact) GetMailAddress() string {
	return c.MailAddress
}

// GenderLabel 返回性别标签，公司联系人或未设置时为空
func (c *Contact) GenderLabel() string {
	if c.Kind != ContactKindNatural {
		return ""
	}
	return string(c.Natural.Gender)
}
