package wire

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseHeaderLines(t *testing.T) {
	h := ParseHeaderLines("  X-A: 1 \n\nnot a header\nX-B:two:parts\r\nx-a: 3\n: novalue\n")
	if len(h) != 2 {
		t.Fatalf("expected 2 fields, got %d: %v", len(h), h)
	}
	if v, _ := h.Get("X-A"); v != "3" {
		t.Errorf("X-A = %q, want overwritten value 3", v)
	}
	if v, _ := h.Get("x-b"); v != "two:parts" {
		t.Errorf("X-B = %q", v)
	}
	if h[0].Name != "X-A" {
		t.Errorf("first name = %q, want original spelling kept", h[0].Name)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := baseSpec()
	s.Headers = ParseHeaderLines("X-A: 1")
	s.TextFields = ParseHeaderLines("k: v")

	c := s.Clone()
	c.Headers = c.Headers.Set("X-A", "changed")
	c.Headers = c.Headers.Set("X-New", "1")
	c.TextFields[0].Value = "other"
	c.Text[0] = 'J'

	if v, _ := s.Headers.Get("X-A"); v != "1" {
		t.Errorf("template header mutated: %q", v)
	}
	if s.Headers.Has("X-New") {
		t.Errorf("template gained a header")
	}
	if s.TextFields[0].Value != "v" {
		t.Errorf("template text field mutated")
	}
	if s.Text[0] != 'h' {
		t.Errorf("template text mutated")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "ok.bin")
	os.WriteFile(good, []byte("x"), 0o644)

	cases := []struct {
		name    string
		mutate  func(*RequestSpec)
		wantErr bool
	}{
		{"ok", func(*RequestSpec) {}, false},
		{"no host", func(s *RequestSpec) { s.Host = "" }, true},
		{"bad port", func(s *RequestSpec) { s.Port = 70000 }, true},
		{"bad method", func(s *RequestSpec) { s.Method = "GET" }, true},
		{"file ok", func(s *RequestSpec) { s.Kind, s.FilePath = BodyFile, good }, false},
		{"file missing", func(s *RequestSpec) { s.Kind, s.FilePath = BodyFile, filepath.Join(dir, "nope") }, true},
		{"file is dir", func(s *RequestSpec) { s.Kind, s.FilePath = BodyFile, dir }, true},
		{"file kind without path", func(s *RequestSpec) { s.Kind = BodyFile }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := baseSpec()
			tc.mutate(s)
			err := s.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseBodyKind(t *testing.T) {
	for in, want := range map[string]BodyKind{"": BodyText, "TEXT": BodyText, "file": BodyFile, " multipart ": BodyMultipart} {
		got, err := ParseBodyKind(in)
		if err != nil || got != want {
			t.Errorf("ParseBodyKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseBodyKind("form"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestNewBoundaryUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		b := NewBoundary()
		if seen[b] {
			t.Fatalf("duplicate boundary %q", b)
		}
		seen[b] = true
	}
}
