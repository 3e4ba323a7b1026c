package http

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/mammoth-analytics/mammoth-go/apierr"
)

const (
	defaultFileField       = "files"
	defaultFileContentType = "application/octet-stream"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart writes every part into a fresh form body. Failing to read a
// local file is a validation error, never a transport one.
func encodeMultipart(parts []FilePart) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for i, part := range parts {
		if err := writePart(w, part); err != nil {
			return nil, "", apierr.NewValidationError(
				fmt.Sprintf("cannot read file %q: %v", part.Name, err),
				fmt.Sprintf("files[%d]", i),
			)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", apierr.NewValidationError(fmt.Sprintf("cannot encode multipart body: %v", err), "files")
	}
	return &buf, w.FormDataContentType(), nil
}

func writePart(w *multipart.Writer, part FilePart) error {
	if part.Open == nil {
		return fmt.Errorf("no content")
	}

	field := part.Field
	if field == "" {
		field = defaultFileField
	}
	contentType := part.ContentType
	if contentType == "" {
		contentType = defaultFileContentType
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(part.Name)))
	h.Set("Content-Type", contentType)

	dst, err := w.CreatePart(h)
	if err != nil {
		return err
	}

	src, err := part.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(dst, src)
	return err
}
