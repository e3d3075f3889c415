package receiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Sweeper enforces the storage quota. When the directory holds more than
// MaxTotal bytes, or the volume has less than MinFree bytes free, it deletes
// every file in the directory.
type Sweeper struct {
	Dir string
	// MaxTotal of 0 disables the ceiling.
	MaxTotal uint64
	// MinFree of 0 disables the floor.
	MinFree  uint64
	Interval time.Duration
	Free     FreeFunc
	Logger   logrus.FieldLogger
}

func (s *Sweeper) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

// Run sweeps every Interval until ctx is done. A failing sweep is logged and
// the next tick runs as usual.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.safeSweep(); err != nil {
				s.logger().Errorf("[CLEANUP] sweep failed: %v", err)
			}
		}
	}
}

func (s *Sweeper) safeSweep() (removed int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.SweepOnce()
}

// SweepOnce checks the thresholds once and clears the directory if either
// is crossed. It returns the number of files removed.
func (s *Sweeper) SweepOnce() (int, error) {
	log := s.logger()

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0, fmt.Errorf("read storage directory: %w", err)
	}
	type file struct {
		path string
		size uint64
	}
	var files []file
	var total uint64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(s.Dir, e.Name()), uint64(info.Size())})
		total += uint64(info.Size())
	}
	dirBytes.Set(float64(total))

	free := uint64(0)
	haveFree := false
	probe := s.Free
	if probe == nil {
		probe = DiskFree
	}
	if f, err := probe(s.Dir); err != nil {
		log.Warnf("[SPACE] free space probe failed, assuming enough: %v", err)
	} else {
		free, haveFree = f, true
		freeBytes.Set(float64(free))
	}

	overTotal := s.MaxTotal > 0 && total > s.MaxTotal
	underFree := haveFree && s.MinFree > 0 && free < s.MinFree
	if !overTotal && !underFree {
		return 0, nil
	}

	log.Warnf("[CLEANUP] directory %s holds %s (limit %s), free %s (floor %s): clearing %d files",
		s.Dir, humanize.IBytes(total), humanize.IBytes(s.MaxTotal),
		humanize.IBytes(free), humanize.IBytes(s.MinFree), len(files))

	removed := 0
	var freed uint64
	for _, f := range files {
		if err := os.Remove(f.path); err != nil {
			if !os.IsNotExist(err) {
				log.Errorf("[CLEANUP] could not remove %s: %v", f.path, err)
			}
			continue
		}
		removed++
		freed += f.size
		log.Infof("[CLEANUP] removed %s (%s)", filepath.Base(f.path), humanize.IBytes(f.size))
	}
	sweepRuns.Inc()
	sweepRemoved.Add(float64(removed))
	dirBytes.Set(float64(total - freed))
	log.Infof("[CLEANUP] removed %d files, freed %s, directory now %s",
		removed, humanize.IBytes(freed), humanize.IBytes(total-freed))
	return removed, nil
}
