package security

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// 附件检查错误
var (
	ErrDangerousExtension = errors.New("dangerous file extension")
	ErrDisallowedMimeType = errors.New("disallowed mime type")
	ErrFileTooLarge       = errors.New("file too large")
	ErrExecutableContent  = errors.New("executable file detected")
	ErrScriptContent      = errors.New("script detected in text file")
)

// DefaultMaxAttachmentSize 单个附件默认上限
const DefaultMaxAttachmentSize = 20 * 1024 * 1024

// HeaderSize 内容检查需要的文件头长度
const HeaderSize = 512

// AttachmentPolicy 附件上传检查
type AttachmentPolicy struct {
	// 允许的文件类型
	allowedMimeTypes map[string]bool

	// 最大文件大小（字节）
	maxFileSize int64

	// 危险文件扩展名
	dangerousExtensions map[string]bool
}

// NewAttachmentPolicy 创建附件检查策略，maxFileSize <= 0 时使用默认值
func NewAttachmentPolicy(maxFileSize int64) *AttachmentPolicy {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxAttachmentSize
	}
	return &AttachmentPolicy{
		allowedMimeTypes: map[string]bool{
			"text/plain":               true,
			"text/csv":                 true,
			"text/calendar":            true,
			"application/pdf":          true,
			"application/msword":       true,
			"application/vnd.ms-excel": true,
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
			"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
			"application/vnd.oasis.opendocument.text":                                   true,
			"image/jpeg":                   true,
			"image/png":                    true,
			"image/gif":                    true,
			"image/webp":                   true,
			"application/zip":              true,
			"application/x-zip-compressed": true,
			"application/octet-stream":     true,
		},
		maxFileSize: maxFileSize,
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".msi": true,
			".ps1": true,
		},
	}
}

// MaxFileSize 返回单个附件上限
func (p *AttachmentPolicy) MaxFileSize() int64 {
	return p.maxFileSize
}

// Check 检查附件的文件名、类型、大小与文件头。size 未知时传 -1。
func (p *AttachmentPolicy) Check(filename, mimeType string, header []byte, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if p.dangerousExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrDangerousExtension, ext)
	}

	mediaType := "application/octet-stream"
	if mimeType != "" {
		mt, _, err := mime.ParseMediaType(mimeType)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrDisallowedMimeType, mimeType)
		}
		mediaType = mt
	}
	if !p.allowedMimeTypes[mediaType] {
		return fmt.Errorf("%w: %s", ErrDisallowedMimeType, mediaType)
	}

	if size > p.maxFileSize {
		return fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, p.maxFileSize)
	}

	if len(header) > HeaderSize {
		header = header[:HeaderSize]
	}
	if isExecutable(header) {
		return ErrExecutableContent
	}
	if strings.HasPrefix(mediaType, "text/") && hasScript(header) {
		return ErrScriptContent
	}
	return nil
}

// isExecutable 检查可执行文件魔数
func isExecutable(header []byte) bool {
	executableSignatures := [][]byte{
		{0x4D, 0x5A},             // PE executable
		{0x7F, 0x45, 0x4C, 0x46}, // ELF executable
		{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O executable
		{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O executable (reverse)
	}
	for _, sig := range executableSignatures {
		if bytes.HasPrefix(header, sig) {
			return true
		}
	}
	return false
}

func hasScript(header []byte) bool {
	lower := strings.ToLower(string(header))
	return strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:")
}
