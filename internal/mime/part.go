// Package mime 把邮件的部件树转换为正文和附件描述。
package mime

import "strings"

// Part 是邮件部件树中的一个节点，要么是容器（multipart），要么是叶子。
//
// 叶子的内容有三种来源，按优先级：
// Content（已解码的字节）、Data（base64url 编码，来自邮箱 API）、
// AttachmentID（内容需要单独获取）。
type Part struct {
	ID           string  // 部件ID，例如 "0"、"1.2"
	MIMEType     string  // 小写的 MIME 类型，例如 "text/plain"
	Filename     string  // 原始文件名
	Disposition  string  // Content-Disposition 类型："inline"、"attachment" 或空
	Charset      string  // 文本部件的字符集
	Data         string  // base64url 编码的内容
	Content      []byte  // 已解码的内容
	AttachmentID string  // 远程附件引用
	Size         int64   // 提供方报告的字节数
	Err          error   // 叶子内容无法解码时的原因，提取时记为 Omission
	Parts        []*Part // 子部件
}

// IsContainer 判断是否为容器部件
func (p *Part) IsContainer() bool {
	return strings.HasPrefix(p.MIMEType, "multipart/") || len(p.Parts) > 0
}

// IsAttachment 判断叶子是否应作为附件处理：
// 带文件名、非 inline 的 disposition，或者不是文本类型。
func (p *Part) IsAttachment() bool {
	if p.Filename != "" {
		return true
	}
	if p.Disposition != "" && p.Disposition != "inline" {
		return true
	}
	return !strings.HasPrefix(p.mediaType(), "text/")
}

// mediaType 返回 MIME 类型，缺省为 text/plain（RFC 2045）
func (p *Part) mediaType() string {
	if p.MIMEType == "" {
		return "text/plain"
	}
	return p.MIMEType
}

// Walk 深度优先、保持顺序地遍历所有叶子
func (p *Part) Walk(fn func(leaf *Part)) {
	if p == nil {
		return
	}
	if !p.IsContainer() {
		fn(p)
		return
	}
	for _, child := range p.Parts {
		child.Walk(fn)
	}
}
