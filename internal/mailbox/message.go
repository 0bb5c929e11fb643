package mailbox

import (
	"bytes"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ExtractText returns the readable text of a raw email: all text/plain
// parts concatenated, falling back to text/html when the message has no
// plain part. Bank notifications are short, so no size cap is applied
// here; the store truncates what it persists.
func ExtractText(raw []byte) (string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Malformed MIME still often contains the notification phrase
		// verbatim; let the parser try the raw bytes.
		return string(raw), nil
	}

	var plain, html strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil {
			continue
		}
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return "", err
		}
		switch {
		case ct == "text/plain":
			plain.Write(body)
			plain.WriteByte('\n')
		case ct == "text/html":
			html.Write(body)
			html.WriteByte('\n')
		}
	}

	if plain.Len() > 0 {
		return plain.String(), nil
	}
	return html.String(), nil
}
