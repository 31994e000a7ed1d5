package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentFilter 清理模板 HTML，去掉脚本、事件属性与 javascript: 链接，
// 保留 {…} 占位符与指令原文。
type ContentFilter struct {
	policy *bluemonday.Policy
}

// NewContentFilter 创建内容过滤器
func NewContentFilter() *ContentFilter {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("style").Globally()
	p.AllowAttrs("target").OnElements("a")
	p.AllowElements("span", "div", "u", "s", "font")
	p.AllowAttrs("color").OnElements("font")
	return &ContentFilter{policy: p}
}

// Sanitize 清理 HTML。净化会转义引号与 &，占位符内的实体在此还原，
// 否则 {#if sex == 'M'} 之类的条件无法解析。
func (cf *ContentFilter) Sanitize(content string) string {
	cleaned := cf.policy.Sanitize(content)
	return unescapeTokens(cleaned)
}

func unescapeTokens(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(text[open+1:], '}')
		if closing < 0 {
			break
		}
		closing += open + 1
		sb.WriteString(text[:open+1])
		sb.WriteString(html.UnescapeString(text[open+1 : closing]))
		sb.WriteByte('}')
		text = text[closing+1:]
	}
	sb.WriteString(text)
	return sb.String()
}
