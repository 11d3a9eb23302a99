package attachment

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxFilenameLength 文件名最大字节数（含扩展名）
	MaxFilenameLength = 200
	// DefaultFilename 清理后为空时使用的文件名
	DefaultFilename = "unnamed_attachment"
)

// 跨平台都不安全的字符，与运行环境无关，保证 key 在任何主机上一致
var unsafeChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_", "|", "_", "?", "_", "*", "_",
)

// SanitizeFilename 清理文件名，使其可以安全地作为存储 key 的一部分
//
// 处理顺序:
//  1. 去掉路径部分
//  2. 替换跨平台不安全的字符
//  3. 去掉控制字符
//  4. 去掉首尾空格和点
//  5. 限制长度，尽量保留扩展名
//  6. 为空时使用默认文件名
func SanitizeFilename(filename string) string {
	// 1. 去掉路径部分，只保留最后一段
	if i := strings.LastIndexAny(filename, "/\\"); i >= 0 {
		filename = filename[i+1:]
	}

	// 2. 替换不安全字符
	filename = unsafeChars.Replace(filename)

	// 3. 去掉控制字符和非法 UTF-8
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, filename)

	// 4. 去掉首尾空格和点
	filename = strings.Trim(filename, " .")

	// 5. 限制长度
	filename = limitLength(filename, MaxFilenameLength)

	// 6. 确保不为空
	if filename == "" {
		return DefaultFilename
	}
	return filename
}

// limitLength 按字节限制长度，保留扩展名，不截断多字节字符
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	ext := filepath.Ext(s)
	if len(ext) >= maxLen/2 {
		// 扩展名过长时不再保留
		return truncate(s, maxLen)
	}
	name := strings.TrimSuffix(s, ext)
	return truncate(name, maxLen-len(ext)) + ext
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
