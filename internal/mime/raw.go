package mime

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	stdmime "mime"
	"mime/quotedprintable"
	"strconv"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"mailingest/backend/internal/domain"
)

func init() {
	gomessage.CharsetReader = CharsetReader
}

// ParseRaw 解析 RFC 822 原始邮件，返回与邮箱 API 相同形态的部件树和元数据。
//
// 只有头部或 multipart 结构无法读取时整封邮件失败。叶子的传输编码在这里不解码：
// base64 内容保留在 Data 中，由 Extract 用容忍缺失填充的解码器处理；
// 其它编码解码失败的叶子带着 Err 返回，Extract 只跳过该叶子。
// 文本叶子保留原始字符集，提取时再转换为 UTF-8。
func ParseRaw(raw []byte) (*Part, domain.MessageMeta, error) {
	var meta domain.MessageMeta

	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, meta, domain.Permanent("parse raw message", err)
	}

	h := mail.Header{Header: gomessage.Header{Header: th}}
	meta.ID, _ = h.MessageID()
	meta.Subject, _ = h.Subject()
	meta.From, _ = h.Text("From")
	meta.To, _ = h.Text("To")
	meta.Date = h.Get("Date")
	meta.SizeEstimate = int64(len(raw))

	root, err := buildPart(h.Header, br, "")
	if err != nil {
		return nil, meta, domain.Permanent("parse raw message", err)
	}
	return root, meta, nil
}

func buildPart(h gomessage.Header, body io.Reader, id string) (*Part, error) {
	mediaType, params, _ := h.ContentType()
	p := &Part{
		ID:       id,
		MIMEType: strings.ToLower(mediaType),
	}

	if disp, dparams, err := h.ContentDisposition(); err == nil {
		p.Disposition = strings.ToLower(disp)
		p.Filename = dparams["filename"]
	}
	if p.Filename == "" {
		p.Filename = params["name"]
	}
	if p.Filename != "" {
		dec := stdmime.WordDecoder{CharsetReader: CharsetReader}
		if s, err := dec.DecodeHeader(p.Filename); err == nil {
			p.Filename = s
		}
	}

	if boundary := params["boundary"]; strings.HasPrefix(p.MIMEType, "multipart/") && boundary != "" {
		mr := textproto.NewMultipartReader(body, boundary)
		for i := 0; ; i++ {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read part %s: %w", childID(id, i), err)
			}
			cp, err := buildPart(gomessage.Header{Header: child.Header}, child, childID(id, i))
			if err != nil {
				return nil, err
			}
			p.Parts = append(p.Parts, cp)
		}
		return p, nil
	}

	encoded, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body of part %q: %w", id, err)
	}
	if strings.HasPrefix(p.MIMEType, "text/") {
		p.Charset = params["charset"]
	}
	decodeLeaf(p, h.Get("Content-Transfer-Encoding"), encoded)
	return p, nil
}

// decodeLeaf 按 Content-Transfer-Encoding 填充叶子内容
func decodeLeaf(p *Part, cte string, encoded []byte) {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		p.Data = string(encoded)
		p.Size = int64(len(encoded) / 4 * 3)
	case "quoted-printable":
		b, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(encoded)))
		if err != nil {
			p.Err = domain.NewError(domain.KindExtraction, "quoted-printable decode", err)
			return
		}
		p.Content = b
		p.Size = int64(len(b))
	case "", "7bit", "8bit", "binary":
		p.Content = encoded
		p.Size = int64(len(encoded))
	default:
		p.Err = domain.NewError(domain.KindExtraction, "transfer decode",
			fmt.Errorf("unknown transfer encoding %q", cte))
	}
}

// childID 生成与 Gmail 一致的部件ID：根的子部件为 "0"、"1"，更深层为 "1.0"
func childID(parent string, index int) string {
	if parent == "" {
		return strconv.Itoa(index)
	}
	return parent + "." + strconv.Itoa(index)
}
