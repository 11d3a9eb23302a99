package attachment

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// TestSanitizeFilename 测试文件名清理
func TestSanitizeFilename(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		// 正常文件名
		{"document.pdf", "document.pdf"},
		{"test file.txt", "test file.txt"},

		// 包含特殊字符
		{"file<name>.txt", "file_name_.txt"},
		{"file:name.txt", "file_name.txt"},
		{"file\"name\".txt", "file_name_.txt"},

		// 路径分隔符
		{"../file.txt", "file.txt"},
		{"path/to/file.txt", "file.txt"},
		{"C:\\Users\\me\\file.txt", "file.txt"},

		// 控制字符
		{"file\x00name.txt", "filename.txt"},
		{"file\tname\r\n.txt", "filename.txt"},

		// 空文件名
		{"", DefaultFilename},
		{"   ", DefaultFilename},
		{"...", DefaultFilename},
		{"dir/", DefaultFilename},

		// 超长文件名
		{strings.Repeat("a", 300) + ".txt", strings.Repeat("a", 196) + ".txt"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, SanitizeFilename(tc.input), "Input: %q", tc.input)
	}
}

func TestSanitizeFilenameMultibyte(t *testing.T) {
	name := strings.Repeat("报", 100) + ".pdf" // 300 字节 + 扩展名

	got := SanitizeFilename(name)
	assert.LessOrEqual(t, len(got), MaxFilenameLength)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestSanitizeFilenameDeterministic(t *testing.T) {
	in := "Invoice #12 / March?.pdf"
	assert.Equal(t, SanitizeFilename(in), SanitizeFilename(in))
	assert.Equal(t, "March_.pdf", SanitizeFilename(in))
}
