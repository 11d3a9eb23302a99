package mime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailingest/backend/internal/domain"
)

const rawMultipart = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Quarterly report\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>See attached.</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: text/csv; name=\"q1.csv\"\r\n" +
	"Content-Disposition: attachment; filename=\"q1.csv\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"YSxiLGMK\r\n" +
	"--outer--\r\n"

func TestParseRaw(t *testing.T) {
	root, meta, err := ParseRaw([]byte(rawMultipart))
	require.NoError(t, err)

	assert.Equal(t, "abc123@example.com", meta.ID)
	assert.Equal(t, "Quarterly report", meta.Subject)
	assert.Contains(t, meta.From, "alice@example.com")
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 -0700", meta.Date)

	require.Len(t, root.Parts, 2)
	assert.Equal(t, "0.1", root.Parts[0].Parts[1].ID)

	out, err := Extract(root)
	require.NoError(t, err)
	assert.Equal(t, "See attached.", strings.TrimRight(out.Body, "\r\n"))
	require.Len(t, out.Attachments, 1)
	assert.Equal(t, "q1.csv", out.Attachments[0].Filename)
	assert.Equal(t, "text/csv", out.Attachments[0].MIMEType)
	assert.Equal(t, []byte("a,b,c\n"), out.Attachments[0].Data)
	assert.Equal(t, "1", out.Attachments[0].PartID)
}

func rawWithAttachment(body, cte string) []byte {
	return []byte("From: alice@example.com\r\n" +
		"Subject: padding\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=b\r\n" +
		"\r\n" +
		"--b\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"hello\r\n" +
		"--b\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"a.bin\"\r\n" +
		"Content-Transfer-Encoding: " + cte + "\r\n" +
		"\r\n" +
		body + "\r\n" +
		"--b--\r\n")
}

func TestParseRawMissingPadding(t *testing.T) {
	for _, body := range []string{"YWI=", "YQ==", "YQ=", "YQ"} {
		t.Run(body, func(t *testing.T) {
			root, _, err := ParseRaw(rawWithAttachment(body, "base64"))
			require.NoError(t, err)

			out, err := Extract(root)
			require.NoError(t, err)
			assert.Equal(t, "hello", out.Body)
			assert.Empty(t, out.Omissions)
			require.Len(t, out.Attachments, 1)
			if body == "YWI=" {
				assert.Equal(t, []byte("ab"), out.Attachments[0].Data)
				return
			}
			assert.Equal(t, []byte("a"), out.Attachments[0].Data)
		})
	}
}

func TestParseRawMalformedLeafIsOmitted(t *testing.T) {
	tests := []struct {
		name string
		body string
		cte  string
	}{
		{"非法 base64", "!!!!", "base64"},
		{"长度非法的 base64", "YWJjZ", "base64"},
		{"未知传输编码", "abc", "x-uuencode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, _, err := ParseRaw(rawWithAttachment(tt.body, tt.cte))
			require.NoError(t, err)

			out, err := Extract(root)
			require.NoError(t, err)
			assert.Equal(t, "hello", out.Body)
			assert.Empty(t, out.Attachments)
			require.Len(t, out.Omissions, 1)
			assert.Equal(t, "1", out.Omissions[0].PartID)
			assert.Equal(t, "a.bin", out.Omissions[0].Filename)
			assert.Equal(t, domain.KindExtraction, out.Omissions[0].Kind)
		})
	}
}

func TestParseRawQuotedPrintableAndCharset(t *testing.T) {
	raw := "Subject: qp\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"caf=E9 cr=E8me\r\n"

	root, _, err := ParseRaw([]byte(raw))
	require.NoError(t, err)
	out, err := Extract(root)
	require.NoError(t, err)
	assert.Equal(t, "café crème", strings.TrimRight(out.Body, "\r\n"))
}
