package mail

import (
	"bytes"
	"io"
	"strings"

	gomail "github.com/emersion/go-message/mail"
	"github.com/pkg/errors"

	"github.com/bartoszx/doordrop/internal/errkind"

	_ "github.com/emersion/go-message/charset"
)

// ExtractPlainText parses a raw RFC 822 message and returns its subject and
// the first non-attachment text/plain part (multipart), or the whole decoded
// body (single part, whatever its content type). A multipart message with no
// text/plain part returns an empty body and no error.
func ExtractPlainText(raw []byte) (subject, body string, err error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", "", errkind.Parse(errors.Wrap(err, "create mail reader"))
	}

	subject, _ = mr.Header.Subject()

	topType, _, _ := mr.Header.ContentType()
	multipart := strings.HasPrefix(topType, "multipart/")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return subject, "", errkind.Parse(errors.Wrap(err, "next part"))
		}

		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			// attachment, skip
			continue
		}
		// Фильтр по text/plain имеет смысл только для multipart: одиночное
		// тело берём целиком независимо от content-type.
		if multipart {
			contentType, _, err := header.ContentType()
			if err != nil || contentType != "text/plain" {
				continue
			}
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return subject, "", errkind.Parse(errors.Wrap(err, "read part body"))
		}
		return subject, string(data), nil
	}

	return subject, "", nil
}
