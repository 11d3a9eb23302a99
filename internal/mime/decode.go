package mime

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"mailingest/backend/internal/domain"
)

var errBadLength = errors.New("invalid base64 length")

// DecodeBase64URL 解码 base64url 数据。
//
// 提供方可能省略末尾的 '=' 填充，这里先去掉已有的填充再按长度补齐，
// 因此缺少 0、1、2 个填充字符的输入得到相同的结果。
// 标准字母表（'+'、'/'）同样接受。失败时返回 KindExtraction 错误。
func DecodeBase64URL(data string) ([]byte, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		switch r {
		case '+':
			return '-'
		case '/':
			return '_'
		}
		return r
	}, data)
	s = strings.TrimRight(s, "=")

	if len(s)%4 == 1 {
		return nil, domain.NewError(domain.KindExtraction, "base64 decode", errBadLength)
	}
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}

	out, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.NewError(domain.KindExtraction, "base64 decode", err)
	}
	return out, nil
}

// ToUTF8 把指定字符集的内容转换为 UTF-8。
// 未知字符集或转换失败时原样返回。
func ToUTF8(content []byte, charset string) []byte {
	enc := lookupCharset(charset)
	if enc == nil {
		return content
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), content)
	if err != nil {
		return content
	}
	return out
}

func lookupCharset(charset string) encoding.Encoding {
	cs := strings.ToLower(strings.TrimSpace(charset))
	switch cs {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil
	}
	enc, err := ianaindex.MIME.Encoding(cs)
	if err != nil || enc == nil {
		return nil
	}
	return enc
}

// CharsetReader 按字符集名称返回转换为 UTF-8 的 Reader，供头部解码和 go-message 使用
func CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc := lookupCharset(charset)
	if enc == nil {
		if cs := strings.ToLower(charset); cs == "" || cs == "utf-8" || cs == "utf8" || cs == "us-ascii" || cs == "ascii" {
			return input, nil
		}
		return nil, fmt.Errorf("unhandled charset %q", charset)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// content 返回叶子解码后的内容
func content(p *Part) ([]byte, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Content != nil {
		return p.Content, nil
	}
	if p.Data == "" {
		return []byte{}, nil
	}
	return DecodeBase64URL(p.Data)
}

// text 返回文本叶子转换为 UTF-8 后的字符串
func text(p *Part) (string, error) {
	b, err := content(p)
	if err != nil {
		return "", err
	}
	return string(bytes.ToValidUTF8(ToUTF8(b, p.Charset), []byte("�"))), nil
}
