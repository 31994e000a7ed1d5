package filesystem

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxFileNameLength = 200
	maxKeyLength      = 255
	maxBasePathLength = 2000
)

// 上传文件名中一律替换的字符，按最严格的平台（Windows）处理
const invalidNameChars = `<>:"|?*\/` + "\x00"

// sanitizeFileName 清理上传的附件名：去掉客户端路径、非法字符和控制字符，并限制长度
func sanitizeFileName(name string) string {
	// 浏览器可能提交 Windows 风格的完整路径
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}

	name = strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(invalidNameChars, r):
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)

	name = truncateName(name, maxFileNameLength)
	name = strings.Trim(name, " .")
	if name == "" {
		return "unnamed"
	}
	return name
}

// truncateName 截断到 maxLen 字节，保留扩展名且不切断多字节字符
func truncateName(name string, maxLen int) string {
	if len(name) <= maxLen {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= maxLen {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	cut := maxLen - len(ext)
	for cut > 0 && !utf8.RuneStart(stem[cut]) {
		cut--
	}
	return stem[:cut] + ext
}

// validKey 对象键只能是单层文件名，拒绝路径穿越
func validKey(key string) bool {
	if strings.Trim(key, " .") == "" || len(key) > maxKeyLength {
		return false
	}
	return !strings.ContainsAny(key, "/\\\x00")
}

// resolveBasePath 校验存储根目录并转换为绝对路径
func resolveBasePath(path string) (string, error) {
	if len(path) > maxBasePathLength {
		return "", fmt.Errorf("path too long: %d characters", len(path))
	}
	for _, segment := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return "", fmt.Errorf("path traversal detected: %s", path)
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
