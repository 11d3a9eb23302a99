package mime

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StripHTML 去掉标签，返回 HTML 中的可见文本。
// script、style、head 中的内容被丢弃，块级元素之间插入换行。
func StripHTML(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapse(b.String())
		case html.StartTagToken:
			tok := z.Token()
			if isHidden(tok.DataAtom) {
				skip++
			}
			if isBlock(tok.DataAtom) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			tok := z.Token()
			if isHidden(tok.DataAtom) && skip > 0 {
				skip--
			}
			if isBlock(tok.DataAtom) {
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			if tok := z.Token(); tok.DataAtom == atom.Br {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isHidden(a atom.Atom) bool {
	return a == atom.Script || a == atom.Style || a == atom.Head
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3,
		atom.H4, atom.H5, atom.H6, atom.Table, atom.Blockquote:
		return true
	}
	return false
}

// collapse 合并每行内的连续空白并去掉空行
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
