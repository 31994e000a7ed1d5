package smtp

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"leomail/backend/internal/domain"
)

// BuildMessage 生成 multipart/mixed 邮件：HTML 正文 + 附件
func BuildMessage(m *domain.OutgoingMail, now time.Time) ([]byte, error) {
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("parse from %q: %w", m.From, err)
	}
	to, err := mail.ParseAddress(m.To)
	if err != nil {
		return nil, fmt.Errorf("parse to %q: %w", m.To, err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(m.Subject)
	h.SetMessageID(uuid.NewString() + "@" + messageIDDomain(from.Address))

	var buf bytes.Buffer
	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	var body mail.InlineHeader
	body.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	if err := writePart(func() (io.WriteCloser, error) { return w.CreateSingleInline(body) }, []byte(m.HTMLBody)); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}

	for _, att := range m.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		var ah mail.AttachmentHeader
		ah.SetContentType(contentType, map[string]string{"name": att.FileName})
		ah.SetFilename(att.FileName)
		if err := writePart(func() (io.WriteCloser, error) { return w.CreateAttachment(ah) }, att.Data); err != nil {
			return nil, fmt.Errorf("write attachment %s: %w", att.FileName, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(create func() (io.WriteCloser, error), data []byte) error {
	part, err := create()
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		part.Close()
		return err
	}
	return part.Close()
}

func messageIDDomain(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "leomail.local"
}
