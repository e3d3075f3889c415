package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/kyojunkeum/webtest/wire"
)

// ItemKind says where a work item's body comes from.
type ItemKind int

const (
	// ItemTemplate sends the template's own body unchanged.
	ItemTemplate ItemKind = iota
	ItemFile
	ItemText
)

// WorkItem is one unit of content a worker sends per attempt.
type WorkItem struct {
	Kind ItemKind
	Path string
	Text string
}

func FileItem(path string) WorkItem { return WorkItem{Kind: ItemFile, Path: path} }

func TextItem(text string) WorkItem { return WorkItem{Kind: ItemText, Text: text} }

// Describe is a short human label for logs and worker status.
func (it WorkItem) Describe() string {
	switch it.Kind {
	case ItemFile:
		return filepath.Base(it.Path)
	case ItemText:
		return fmt.Sprintf("text(%d chars)", utf8.RuneCountInString(it.Text))
	default:
		return "template body"
	}
}

// EstimateBytes approximates the body size this item sends. Unreadable files count as 0.
func (it WorkItem) EstimateBytes(tmpl *wire.RequestSpec) int64 {
	switch it.Kind {
	case ItemText:
		return int64(len(it.Text))
	case ItemFile:
		return fileSize(it.Path)
	}
	if tmpl.FilePath != "" && tmpl.Kind != wire.BodyText {
		return fileSize(tmpl.FilePath)
	}
	return int64(len(tmpl.Text))
}

func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}

// SpecFor derives a fresh spec for it from the template. The template is never modified.
func SpecFor(tmpl *wire.RequestSpec, it WorkItem) *wire.RequestSpec {
	s := tmpl.Clone()
	switch it.Kind {
	case ItemText:
		s.FilePath = ""
		s.Text = []byte(it.Text)
		if s.Kind != wire.BodyMultipart {
			s.Kind = wire.BodyText
		}
	case ItemFile:
		s.FilePath = it.Path
		if s.Kind != wire.BodyMultipart {
			s.Kind = wire.BodyFile
		}
	}
	return s
}

// FolderItems returns one file item per regular file directly under dir, sorted by name.
func FolderItems(dir string) ([]WorkItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}
	var items []WorkItem
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		items = append(items, FileItem(filepath.Join(dir, e.Name())))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}
