package mailbox

import (
	"mime/quotedprintable"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostFor(t *testing.T) {
	tests := []struct {
		address  string
		override string
		want     string
	}{
		{"payments@gmail.com", "", "imap.gmail.com"},
		{"payments@mail.ru", "", "imap.mail.ru"},
		{"payments@bk.ru", "", "imap.mail.ru"},
		{"payments@yandex.ru", "", "imap.yandex.com"},
		{"payments@demirbank.kg", "", "imap.demirbank.kg"},
		{"payments@gmail.com", "mail.example.kg:143", "mail.example.kg:143"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, HostFor(tc.address, tc.override), tc.address)
	}
}

func TestExtractTextPlain(t *testing.T) {
	raw := "From: noreply@demirbank.kg\r\n" +
		"To: payments@example.kg\r\n" +
		"Subject: Notification\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"зачисление на сумму 100.53 KGS от 22.09.2025 22:13:24.\r\n"

	text, err := ExtractText([]byte(raw))
	require.NoError(t, err)
	assert.Contains(t, text, "100.53 KGS")
}

func TestExtractTextMultipartQuotedPrintable(t *testing.T) {
	var encoded strings.Builder
	w := quotedprintable.NewWriter(&encoded)
	_, err := w.Write([]byte("зачисление на сумму 250,00 KGS"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw := "From: noreply@demirbank.kg\r\n" +
		"Subject: Notification\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=SEP\r\n" +
		"\r\n" +
		"--SEP\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		encoded.String() + "\r\n" +
		"--SEP\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html copy</p>\r\n" +
		"--SEP--\r\n"

	text, err := ExtractText([]byte(raw))
	require.NoError(t, err)
	assert.Contains(t, text, "250,00 KGS")
	assert.NotContains(t, text, "html copy", "plain part wins when present")
}

func TestExtractTextHTMLFallback(t *testing.T) {
	raw := "From: noreply@demirbank.kg\r\n" +
		"Subject: Notification\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>зачисление на сумму 75.10 KGS</p>\r\n"

	text, err := ExtractText([]byte(raw))
	require.NoError(t, err)
	assert.Contains(t, text, "75.10 KGS")
}

func TestExtractTextMalformed(t *testing.T) {
	text, err := ExtractText([]byte("not an email at all, но на сумму 10.00 KGS"))
	require.NoError(t, err)
	assert.Contains(t, text, "10.00 KGS")
}
