// Package mailmerge 负责把问候语与模板正文合并，并针对每个收件人渲染出个性化正文。
package mailmerge

import (
	"strings"
)

// LineBreak 问候语与正文之间的分隔符
const LineBreak = "<br>"

// controlKeywords 模板控制指令的关键字前缀，不作为数据占位符
var controlKeywords = []string{"if", "else", "for", "end", "set", "define", "include", "extends"}

// Combine 拼接问候语模板与正文
func Combine(greeting, content string) string {
	return greeting + LineBreak + content
}

// isControlToken 去掉一个前导 # 或 / 后，是否以控制关键字开头
func isControlToken(token string) bool {
	if strings.HasPrefix(token, "#") || strings.HasPrefix(token, "/") {
		token = token[1:]
	}
	for _, kw := range controlKeywords {
		if strings.HasPrefix(token, kw) {
			return true
		}
	}
	return false
}

// scanTokens 依次返回 { 与其后第一个 } 之间的内容（未 trim）。
// 没有闭合 } 的 { 不构成占位符。
func scanTokens(text string, fn func(start, end int, token string)) {
	pos := 0
	for pos < len(text) {
		open := strings.IndexByte(text[pos:], '{')
		if open < 0 {
			return
		}
		open += pos
		closing := strings.IndexByte(text[open+1:], '}')
		if closing < 0 {
			return
		}
		closing += open + 1
		fn(open, closing+1, text[open+1:closing])
		pos = closing + 1
	}
}

// ExtractVariables 提取数据占位符名称，按首次出现的顺序去重。
// 控制指令和空白占位符会被跳过。
func ExtractVariables(text string) []string {
	var vars []string
	seen := make(map[string]struct{})
	scanTokens(text, func(_, _ int, token string) {
		name := strings.TrimSpace(token)
		if name == "" || isControlToken(name) {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		vars = append(vars, name)
	})
	return vars
}
