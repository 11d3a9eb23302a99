package mime

import (
	"errors"
	"strings"

	"mailingest/backend/internal/domain"
)

// Descriptor 描述一个待持久化的附件。
// 内联内容已经解码到 Data；远程附件只带 AttachmentID。
type Descriptor struct {
	PartID       string
	Filename     string
	MIMEType     string
	Data         []byte
	AttachmentID string
	Size         int64
}

// Remote 判断附件内容是否需要单独获取
func (d Descriptor) Remote() bool {
	return d.Data == nil && d.AttachmentID != ""
}

// Extraction 是一次提取的结果。
type Extraction struct {
	Body        string
	Attachments []Descriptor
	Omissions   []domain.Omission // 解码失败而被跳过的部件
}

// Extract 遍历部件树，选出正文并收集附件描述。
//
// 正文优先取深度优先遍历中第一个可解码的 text/plain 叶子（原样保留），
// 没有时取第一个 text/html 叶子去掉标签后的文本，都没有则正文为空。
// 单个叶子解码失败只记录为 Omission，不影响其它叶子。
//
// 参数:
//   - root: 部件树根节点
//
// 返回值:
//   - *Extraction: 正文、附件描述和被跳过的部件
//   - error: 根节点为空时返回 KindPermanentValidation 错误
func Extract(root *Part) (*Extraction, error) {
	if root == nil {
		return nil, domain.Permanent("extract", errors.New("message has no payload"))
	}

	out := &Extraction{}
	var plain, html string
	var havePlain, haveHTML bool

	root.Walk(func(leaf *Part) {
		if leaf.IsAttachment() {
			d, err := describe(leaf)
			if err != nil {
				out.omit(leaf, err)
				return
			}
			out.Attachments = append(out.Attachments, d)
			return
		}

		switch leaf.mediaType() {
		case "text/plain":
			if havePlain {
				return
			}
			s, err := text(leaf)
			if err != nil {
				out.omit(leaf, err)
				return
			}
			plain, havePlain = s, true
		case "text/html":
			if haveHTML {
				return
			}
			s, err := text(leaf)
			if err != nil {
				out.omit(leaf, err)
				return
			}
			html, haveHTML = s, true
		}
	})

	switch {
	case havePlain:
		out.Body = plain
	case haveHTML:
		out.Body = strings.TrimSpace(StripHTML(html))
	}
	return out, nil
}

func describe(leaf *Part) (Descriptor, error) {
	d := Descriptor{
		PartID:       leaf.ID,
		Filename:     leaf.Filename,
		MIMEType:     leaf.mediaType(),
		AttachmentID: leaf.AttachmentID,
		Size:         leaf.Size,
	}
	if leaf.AttachmentID != "" && leaf.Content == nil && leaf.Data == "" && leaf.Err == nil {
		return d, nil
	}
	b, err := content(leaf)
	if err != nil {
		return d, err
	}
	d.Data = b
	d.Size = int64(len(b))
	return d, nil
}

func (e *Extraction) omit(leaf *Part, err error) {
	e.Omissions = append(e.Omissions, domain.Omission{
		PartID:   leaf.ID,
		Filename: leaf.Filename,
		Kind:     domain.KindExtraction,
		Reason:   err.Error(),
	})
}
