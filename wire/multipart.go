package wire

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

var boundarySeq uint64

// NewBoundary returns a multipart boundary token that is unique per request.
func NewBoundary() string {
	n := atomic.AddUint64(&boundarySeq, 1)
	return fmt.Sprintf("----WebtestBoundary%d%04d", time.Now().UnixMilli(), n%10000)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartFrame holds everything around the blob part's content.
type multipartFrame struct {
	boundary string
	pre      []byte
	post     []byte
}

func (m *multipartFrame) contentType() string {
	return "multipart/form-data; boundary=" + m.boundary
}

// newMultipartFrame lays out one part per text field followed by the blob part
// header. The blob content goes between pre and post.
func newMultipartFrame(s *RequestSpec, boundary string) *multipartFrame {
	var pre bytes.Buffer
	for _, f := range s.TextFields {
		fmt.Fprintf(&pre, "--%s\r\n", boundary)
		fmt.Fprintf(&pre, "Content-Disposition: form-data; name=\"%s\"\r\n\r\n", quoteEscaper.Replace(f.Name))
		pre.WriteString(f.Value)
		pre.WriteString("\r\n")
	}

	field := s.FieldName
	if field == "" {
		field = DefaultFieldName
	}
	ctype := s.ContentType
	if ctype == "" {
		ctype = DefaultContentType
	}
	fmt.Fprintf(&pre, "--%s\r\n", boundary)
	fmt.Fprintf(&pre, "Content-Disposition: form-data; name=\"%s\"; filename=\"%s\"\r\n",
		quoteEscaper.Replace(field), quoteEscaper.Replace(multipartFilename(s)))
	fmt.Fprintf(&pre, "Content-Type: %s\r\n\r\n", ctype)

	post := []byte("\r\n--" + boundary + "--\r\n")
	return &multipartFrame{boundary: boundary, pre: pre.Bytes(), post: post}
}

func multipartFilename(s *RequestSpec) string {
	if s.FilenameOverride != "" {
		return s.FilenameOverride
	}
	if s.FilePath != "" {
		return filepath.Base(s.FilePath)
	}
	return "blob"
}
