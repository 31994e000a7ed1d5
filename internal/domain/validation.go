package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrEmailTooLong       = errors.New("email address too long")
	ErrLocalPartTooLong   = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong      = errors.New("domain too long (max 253 chars)")
	ErrInvalidDomain      = errors.New("invalid domain format")
	ErrTemplateNameEmpty  = errors.New("template name is required")
	ErrTemplateNameLength = errors.New("template name too long (max 255 chars)")
	ErrHeadlineTooLong    = errors.New("headline too long (max 500 chars)")
	ErrGreetingRequired   = errors.New("greeting is required")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253

	MaxTemplateNameLength = 255
	MaxHeadlineLength     = 500
)

// 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)

// EmailValidator 邮箱验证器
type EmailValidator struct{}

// NewEmailValidator 创建邮箱验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateEmail 验证收件人或发件人地址
func (v *EmailValidator) ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ErrInvalidEmail
	}
	if at > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}

	return v.ValidateDomain(email[at+1:])
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return ErrInvalidDomain
		}
	}
	return nil
}

// ValidateEmail 简化的布尔版本
func ValidateEmail(email string) bool {
	return NewEmailValidator().ValidateEmail(email) == nil
}

// Validate 校验模板的必填字段
func (t *Template) Validate() error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return ErrTemplateNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxTemplateNameLength {
		return ErrTemplateNameLength
	}
	if utf8.RuneCountInString(t.Headline) > MaxHeadlineLength {
		return ErrHeadlineTooLong
	}
	if t.GreetingID == "" {
		return ErrGreetingRequired
	}
	if t.ProjectID == "" {
		return ErrMissingProjectID
	}
	return nil
}

// Validate 校验联系人：地址合法，且类型对应的名称字段不为空
func (c *Contact) Validate() error {
	if err := NewEmailValidator().ValidateEmail(c.MailAddress); err != nil {
		return err
	}
	switch c.Kind {
	case ContactKindNatural:
		if strings.TrimSpace(c.Natural.FirstName) == "" || strings.TrimSpace(c.Natural.LastName) == "" {
			return InvalidArgument("first and last name are required")
		}
	case ContactKindCompany:
		if strings.TrimSpace(c.Company.CompanyName) == "" {
			return InvalidArgument("company name is required")
		}
	default:
		return InvalidArgument("unknown contact kind %q", c.Kind)
	}
	return nil
}
