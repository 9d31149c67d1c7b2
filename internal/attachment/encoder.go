// Package attachment turns user-selected files into inline-data message parts.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/RichardoC/padchat/internal/models"
)

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// EncodingError reports a failure to read or encode an attachment.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Encode reads r to the end and returns an inline-data part holding the
// base64 payload and media type. An empty or generic mimeType is replaced
// by one detected from the content. Only image media types are accepted.
func Encode(r io.Reader, mimeType string) (models.Part, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Part{}, &EncodingError{Op: "read", Err: err}
	}
	if len(data) == 0 {
		return models.Part{}, &EncodingError{Op: "read", Err: ErrEmptyFile}
	}

	mimeType = normalizeMIME(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMIME(mimetype.Detect(data).String())
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return models.Part{}, &EncodingError{Op: "detect", Err: fmt.Errorf("%w: %q", ErrUnsupportedMedia, mimeType)}
	}

	return models.Part{
		InlineData: &models.InlineData{
			MIMEType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// EncodeFile opens path and encodes it with a media type detected from
// its content. The file name never reaches the returned part.
func EncodeFile(path string) (models.Part, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Part{}, &EncodingError{Op: "open", Err: err}
	}
	defer f.Close()
	return Encode(f, "")
}

func normalizeMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}
