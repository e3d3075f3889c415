package wire

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const crlf = "\r\n"

// TrailerWarning replaces trailers when the framing cannot carry them.
const TrailerWarning = "Trailer headers require chunked encoding"

// Request is a serialized start line and header block plus a body source,
// ready to be written to a connection.
type Request struct {
	spec   *RequestSpec
	head   []byte
	body   io.Reader
	closer io.Closer
	length int64
}

// Build prepares the body source for s and serializes the head. File bodies
// are opened here and streamed by WriteTo; gzip bodies are fully materialized.
// The caller must Close the returned request.
func Build(s *RequestSpec) (*Request, error) {
	r := &Request{spec: s}

	var (
		src      io.Reader
		length   int64
		ctype    string
		filename string
	)
	switch s.Kind {
	case BodyMultipart:
		frame := newMultipartFrame(s, NewBoundary())
		blob, n, err := r.blobSource()
		if err != nil {
			return nil, err
		}
		src = io.MultiReader(bytes.NewReader(frame.pre), blob, bytes.NewReader(frame.post))
		length = int64(len(frame.pre)) + n + int64(len(frame.post))
		ctype = frame.contentType()
	case BodyFile:
		blob, n, err := r.blobSource()
		if err != nil {
			return nil, err
		}
		src, length = blob, n
		if s.FilePath != "" {
			filename = filepath.Base(s.FilePath)
		}
	default:
		src, length = bytes.NewReader(s.Text), int64(len(s.Text))
	}

	if s.Gzip {
		gz, err := gzipAll(src)
		r.Close()
		if err != nil {
			return nil, err
		}
		src, length = bytes.NewReader(gz), int64(len(gz))
	}

	r.body = src
	r.length = length
	r.head = buildHead(s, length, ctype, filename)
	return r, nil
}

// blobSource returns the file (with its size) when one is set, else the text payload.
func (r *Request) blobSource() (io.Reader, int64, error) {
	s := r.spec
	if s.FilePath == "" {
		return bytes.NewReader(s.Text), int64(len(s.Text)), nil
	}
	f, err := os.Open(s.FilePath)
	if err != nil {
		return nil, 0, fmt.Errorf("open body file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat body file: %w", err)
	}
	r.closer = f
	return io.LimitReader(f, st.Size()), st.Size(), nil
}

func gzipAll(src io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, src); err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	return buf.Bytes(), nil
}

// buildHead emits, in order: request line, Host, Connection, framing and
// encoding headers, the filename hint, trailer declaration or warning, then the
// caller's headers and the blank line. The generated multipart Content-Type
// leads the caller's block unless the caller supplies one.
func buildHead(s *RequestSpec, length int64, multipartType, filename string) []byte {
	var b bytes.Buffer
	version := s.Version
	if version == "" {
		version = DefaultVersion
	}
	b.WriteString(s.Method + " " + s.Path + " " + version + crlf)

	host := s.Addr()
	if v, ok := s.Headers.Get("Host"); ok {
		host = v
	}
	writeField(&b, "Host", host)
	if s.KeepAlive {
		writeField(&b, "Connection", "keep-alive")
	} else {
		writeField(&b, "Connection", "close")
	}

	if s.Framing == Chunked {
		writeField(&b, "Transfer-Encoding", "chunked")
	} else {
		writeField(&b, "Content-Length", strconv.FormatInt(length, 10))
	}
	if s.Gzip {
		writeField(&b, "Content-Encoding", "gzip")
	}
	if filename != "" && s.FilenameHint && !s.Headers.Has("X-Filename") {
		writeField(&b, "X-Filename", filename)
	}

	if len(s.Trailers) > 0 {
		if s.Framing == Chunked {
			writeField(&b, "Trailer", strings.Join(s.Trailers.Names(), ", "))
		} else {
			writeField(&b, "X-Warning", TrailerWarning)
		}
	}

	if multipartType != "" && !s.Headers.Has("Content-Type") {
		writeField(&b, "Content-Type", multipartType)
	}
	for _, f := range s.Headers {
		if strings.EqualFold(f.Name, "Host") {
			continue
		}
		writeField(&b, f.Name, f.Value)
	}
	b.WriteString(crlf)
	return b.Bytes()
}

func writeField(b *bytes.Buffer, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString(crlf)
}

// Head returns the serialized start line and headers, including the blank line.
func (r *Request) Head() []byte { return r.head }

// BodyLength is the byte length of the (possibly compressed) body before framing.
func (r *Request) BodyLength() int64 { return r.length }

// WriteTo writes the head and the framed body to w. Body bytes are read from
// the source and forwarded incrementally.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if _, err := cw.Write(r.head); err != nil {
		return cw.n, err
	}
	var err error
	if r.spec.Framing == Chunked {
		err = r.writeChunked(cw)
	} else {
		_, err = io.Copy(cw, r.body)
	}
	return cw.n, err
}

func (r *Request) writeChunked(w io.Writer) error {
	ext := r.spec.chunkExt()
	size := r.spec.chunkSize()
	buf := make([]byte, size)
	frame := make([]byte, 0, size+32)
	for {
		n, rerr := io.ReadFull(r.body, buf)
		if n > 0 {
			frame = frame[:0]
			frame = strconv.AppendInt(frame, int64(n), 16)
			frame = append(frame, ext...)
			frame = append(frame, crlf...)
			frame = append(frame, buf[:n]...)
			frame = append(frame, crlf...)
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	var tail bytes.Buffer
	tail.WriteString("0" + ext + crlf)
	for _, f := range r.spec.Trailers {
		writeField(&tail, f.Name, f.Value)
	}
	tail.WriteString(crlf)
	_, err := w.Write(tail.Bytes())
	return err
}

// Close releases the body file, if any.
func (r *Request) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
