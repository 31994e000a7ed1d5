package filesystem

import (
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFileName(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"document.pdf", "document.pdf"},
		{"Elternbrief 2025.docx", "Elternbrief 2025.docx"},

		// 路径分隔符
		{"../file.txt", "file.txt"},
		{"path/to/file.txt", "file.txt"},
		{`C:\Users\anna\plan.pdf`, "plan.pdf"},

		// 非法字符与控制字符
		{"file\x00name.txt", "file_name.txt"},
		{"file\x07name.txt", "filename.txt"},
		{`Plan: "Q1"?.pdf`, "Plan_ _Q1__.pdf"},

		// 空文件名
		{"", "unnamed"},
		{"   ", "unnamed"},
		{"...", "unnamed"},

		// 超长文件名
		{strings.Repeat("a", 300) + ".txt", strings.Repeat("a", 196) + ".txt"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, sanitizeFileName(tc.input), "Input: %q", tc.input)
	}

	t.Run("截断不切断多字节字符", func(t *testing.T) {
		got := sanitizeFileName(strings.Repeat("ü", 150) + ".pdf")
		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, len(got), maxFileNameLength)
		assert.True(t, strings.HasSuffix(got, ".pdf"))
	})
}

func TestValidKey(t *testing.T) {
	assert.True(t, validKey("3f2a_plan.pdf"))
	assert.True(t, validKey("3f2a_Übersicht 2025.pdf"))
	assert.False(t, validKey(""))
	assert.False(t, validKey(" . "))
	assert.False(t, validKey(".."))
	assert.False(t, validKey("a/b.pdf"))
	assert.False(t, validKey(`a\b.pdf`))
	assert.False(t, validKey(strings.Repeat("x", maxKeyLength+1)))
}

func TestResolveBasePath(t *testing.T) {
	for _, path := range []string{"data/attachments", "./data", "/tmp/leomail", "data/v1..2"} {
		resolved, err := resolveBasePath(path)
		require.NoError(t, err, path)
		assert.True(t, filepath.IsAbs(resolved), path)
	}
	for _, path := range []string{"../../../etc/passwd", "data/../secret", strings.Repeat("a", maxBasePathLength+1)} {
		_, err := resolveBasePath(path)
		assert.Error(t, err, path)
	}
}
