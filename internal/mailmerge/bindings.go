package mailmerge

import (
	"strings"

	"leomail/backend/internal/domain"
)

// 固定绑定的名称
const (
	KeyPersonalized = "personalized"
	KeySex          = "sex"
	KeyGender       = "gender"
)

// Bindings 一个收件人的占位符取值，键为小写名称。
// 值为 string 或 bool（仅 personalized）。
type Bindings map[string]interface{}

// Lookup 按名称（大小写不敏感）取值
func (b Bindings) Lookup(name string) (interface{}, bool) {
	v, ok := b[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// fieldValue 名称表：返回联系人对应字段，类型上不存在的字段返回空串
func fieldValue(c *domain.Contact, name string) string {
	switch strings.ToLower(name) {
	case "mailaddress":
		return c.GetMailAddress()
	case "gender", "sex":
		return c.GenderLabel()
	}

	switch c.Kind {
	case domain.ContactKindNatural:
		n := c.Natural
		switch strings.ToLower(name) {
		case "firstname":
			return n.FirstName
		case "lastname":
			return n.LastName
		case "prefixtitle":
			return n.PrefixTitle
		case "suffixtitle":
			return n.SuffixTitle
		case "company":
			return n.Company
		case "positionatcompany":
			return n.PositionAtCompany
		}
	case domain.ContactKindCompany:
		if strings.EqualFold(name, "companyname") {
			return c.Company.CompanyName
		}
	}
	return ""
}

// BuildBindings 为收件人构造绑定：每个提取出的变量都有值，
// 另外总是绑定 personalized 与 sex/gender。
func BuildBindings(vars []string, c *domain.Contact, personalized bool) Bindings {
	b := make(Bindings, len(vars)+3)
	for _, v := range vars {
		b[strings.ToLower(v)] = fieldValue(c, v)
	}
	b[KeyPersonalized] = personalized
	gender := c.GenderLabel()
	b[KeySex] = gender
	b[KeyGender] = gender
	return b
}
