package wire

import (
	"strings"
)

// Field is a single "name: value" pair.
type Field struct {
	Name  string
	Value string
}

// Headers is an ordered set of fields with unique, case-insensitive names.
// Insertion order is kept so the serialized request is deterministic.
type Headers []Field

// ParseHeaderLines parses newline-delimited "name: value" text. Blank lines and
// lines without a colon are skipped; a repeated name overwrites the earlier value.
func ParseHeaderLines(raw string) Headers {
	var h Headers
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		h = h.Set(k, strings.TrimSpace(v))
	}
	return h
}

// Set returns h with name set to value, replacing an existing field of the same name.
func (h Headers) Set(name, value string) Headers {
	for i := range h {
		if strings.EqualFold(h[i].Name, name) {
			h[i].Value = value
			return h
		}
	}
	return append(h, Field{Name: name, Value: value})
}

// Get returns the value for name and whether it was present.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Names returns the field names in order.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for _, f := range h {
		names = append(names, f.Name)
	}
	return names
}

// Clone returns a copy that shares no backing array with h.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}
