package receiver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func fillDir(t *testing.T, dir string, sizes ...int) {
	t.Helper()
	for i, n := range sizes {
		name := filepath.Join(dir, "f"+string(rune('a'+i))+".bin")
		if err := os.WriteFile(name, []byte(strings.Repeat("x", n)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSweepClearsDirectoryOverCeiling(t *testing.T) {
	dir := t.TempDir()
	fillDir(t, dir, 50, 50, 50)
	logger, hook := test.NewNullLogger()

	s := &Sweeper{Dir: dir, MaxTotal: 100, MinFree: 10, Free: fixedFree(1 << 40), Logger: logger}
	removed, err := s.SweepOnce()
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if n := len(listDir(t, dir)); n != 0 {
		t.Errorf("%d files left, want an empty directory", n)
	}

	var lines int
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "[CLEANUP] removed f") {
			lines++
		}
	}
	if lines != 3 {
		t.Errorf("per-file cleanup lines = %d, want 3", lines)
	}
}

func TestSweepLeavesDirectoryUnderThresholds(t *testing.T) {
	dir := t.TempDir()
	fillDir(t, dir, 10, 20)

	s := &Sweeper{Dir: dir, MaxTotal: 100, MinFree: 10, Free: fixedFree(1 << 40)}
	s.Logger, _ = test.NewNullLogger()
	removed, err := s.SweepOnce()
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if removed != 0 || len(listDir(t, dir)) != 2 {
		t.Errorf("removed = %d, files left = %d", removed, len(listDir(t, dir)))
	}
}

func TestSweepClearsWhenFreeSpaceLow(t *testing.T) {
	dir := t.TempDir()
	fillDir(t, dir, 1)

	s := &Sweeper{Dir: dir, MaxTotal: 1 << 30, MinFree: 1 << 20, Free: fixedFree(1 << 10)}
	s.Logger, _ = test.NewNullLogger()
	removed, err := s.SweepOnce()
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if removed != 1 || len(listDir(t, dir)) != 0 {
		t.Errorf("removed = %d, files left = %d", removed, len(listDir(t, dir)))
	}
}

func TestSweepProbeFailureOnlyChecksCeiling(t *testing.T) {
	dir := t.TempDir()
	fillDir(t, dir, 10)
	probe := func(string) (uint64, error) { return 0, errors.New("no statfs") }

	s := &Sweeper{Dir: dir, MaxTotal: 100, MinFree: 1 << 20, Free: probe}
	s.Logger, _ = test.NewNullLogger()
	if removed, err := s.SweepOnce(); err != nil || removed != 0 {
		t.Errorf("removed = %d, err = %v", removed, err)
	}
}

func TestSweepSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	fillDir(t, dir, 200)
	if err := os.Mkdir(filepath.Join(dir, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := &Sweeper{Dir: dir, MaxTotal: 100, Free: fixedFree(1 << 40)}
	s.Logger, _ = test.NewNullLogger()
	if _, err := s.SweepOnce(); err != nil {
		t.Fatal(err)
	}
	entries := listDir(t, dir)
	if len(entries) != 1 || entries[0].Name() != "keep" {
		t.Errorf("entries left = %v", entries)
	}
}

func TestSweepRunSurvivesErrors(t *testing.T) {
	dir := t.TempDir()
	fillDir(t, dir, 200)
	var calls atomic.Int32
	probe := func(string) (uint64, error) {
		if calls.Add(1) == 1 {
			panic("probe exploded")
		}
		return 1 << 40, nil
	}

	s := &Sweeper{Dir: dir, MaxTotal: 100, Interval: 5 * time.Millisecond, Free: probe}
	s.Logger, _ = test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(listDir(t, dir)) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep never cleared the directory after a panicking tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
