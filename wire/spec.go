package wire

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Framing is how the body length is communicated to the peer.
type Framing int

const (
	FixedLength Framing = iota
	Chunked
)

func (f Framing) String() string {
	if f == Chunked {
		return "chunked"
	}
	return "content-length"
}

// BodyKind selects the primary body source.
type BodyKind int

const (
	BodyText BodyKind = iota
	BodyFile
	BodyMultipart
)

func (k BodyKind) String() string {
	switch k {
	case BodyFile:
		return "file"
	case BodyMultipart:
		return "multipart"
	default:
		return "text"
	}
}

// ParseBodyKind maps a config value to a BodyKind. Empty means text.
func ParseBodyKind(s string) (BodyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return BodyText, nil
	case "file":
		return BodyFile, nil
	case "multipart":
		return BodyMultipart, nil
	}
	return BodyText, fmt.Errorf("unknown body kind %q", s)
}

// Methods the builder is willing to emit.
var Methods = []string{"POST", "PUT", "PATCH", "DELETE"}

const (
	DefaultVersion     = "HTTP/1.1"
	DefaultChunkSize   = 64 * 1024
	DefaultFieldName   = "file"
	DefaultContentType = "application/octet-stream"
	DefaultTimeout     = 5 * time.Second
)

// RequestSpec describes one request attempt. Treat it as immutable once handed
// to a worker; use Clone to derive per-item variants.
type RequestSpec struct {
	Host      string
	Port      int
	Path      string
	Method    string
	Version   string
	KeepAlive bool

	Framing   Framing
	ChunkSize int
	ChunkExt  string
	Gzip      bool

	Kind     BodyKind
	Text     []byte
	FilePath string

	// multipart only
	FieldName        string
	TextFields       Headers
	FilenameOverride string
	ContentType      string

	// FilenameHint adds X-Filename to non-multipart file bodies.
	FilenameHint bool

	Headers  Headers
	Trailers Headers

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MinimalRead    bool
	Delay          time.Duration
}

// Clone returns a deep copy; header maps and byte slices are not shared.
func (s *RequestSpec) Clone() *RequestSpec {
	c := *s
	if s.Text != nil {
		c.Text = append([]byte(nil), s.Text...)
	}
	c.TextFields = s.TextFields.Clone()
	c.Headers = s.Headers.Clone()
	c.Trailers = s.Trailers.Clone()
	return &c
}

// Addr is host:port.
func (s *RequestSpec) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate reports configuration errors that must stop a run before it starts.
func (s *RequestSpec) Validate() error {
	if s.Host == "" {
		return errors.New("target host is empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("target port %d out of range", s.Port)
	}
	if !validMethod(s.Method) {
		return fmt.Errorf("unsupported method %q (want one of %s)", s.Method, strings.Join(Methods, ", "))
	}
	if s.ChunkSize < 0 {
		return fmt.Errorf("chunk size %d is negative", s.ChunkSize)
	}
	if s.Kind == BodyFile && s.FilePath == "" {
		return errors.New("file body selected but no file given")
	}
	if s.FilePath != "" {
		if err := checkReadable(s.FilePath); err != nil {
			return err
		}
	}
	return nil
}

func validMethod(m string) bool {
	for _, v := range Methods {
		if m == v {
			return true
		}
	}
	return false
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("body file: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("body file: %w", err)
	}
	if st.IsDir() {
		return fmt.Errorf("body file %s is a directory", path)
	}
	return nil
}

func (s *RequestSpec) chunkSize() int {
	if s.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return s.ChunkSize
}

// chunkExt normalizes the extension to start with ';'.
func (s *RequestSpec) chunkExt() string {
	ext := strings.TrimSpace(s.ChunkExt)
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ";") {
		ext = ";" + ext
	}
	return ext
}
