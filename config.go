package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kyojunkeum/webtest/loader"
	"github.com/kyojunkeum/webtest/wire"
)

// ---------- Types ----------

type Config struct {
	Server struct {
		MetricsAddr string `json:"metrics_addr"`
		Log         struct {
			Level        string `json:"level"`
			Format       string `json:"format"`
			File         string `json:"file"`
			EnableStdout bool   `json:"enable_stdout"`
		} `json:"log"`
	} `json:"server"`
	Target struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Path      string `json:"path"`
		Method    string `json:"method"`
		Version   string `json:"version"`
		KeepAlive *bool  `json:"keep_alive"`
	} `json:"target"`
	Body struct {
		Kind        string   `json:"kind"` // text, file or multipart
		Text        string   `json:"text"`
		File        string   `json:"file"`
		Files       []string `json:"files"`
		Folder      string   `json:"folder"`
		FieldName   string   `json:"field_name"`
		Fields      string   `json:"fields"` // newline-delimited "name: value"
		Filename    string   `json:"filename"`
		ContentType string   `json:"content_type"`
		XFilename   *bool    `json:"x_filename"`
	} `json:"body"`
	Framing struct {
		Chunked   bool   `json:"chunked"`
		ChunkSize int    `json:"chunk_size"`
		ChunkExt  string `json:"chunk_ext"`
		Gzip      bool   `json:"gzip"`
		Headers   string `json:"headers"`
		Trailers  string `json:"trailers"`
	} `json:"framing"`
	Load struct {
		Workers          int     `json:"workers"`
		Repeat           *int    `json:"repeat"` // 0 runs until interrupted
		DelayMs          int     `json:"delay_ms"`
		Shuffle          bool    `json:"shuffle"`
		LogEvery         int     `json:"log_every"`
		Rate             float64 `json:"rate"`
		MinimalRead      *bool   `json:"minimal_read"`
		ConnectTimeoutMs int     `json:"connect_timeout_ms"`
		ReadTimeoutMs    int     `json:"read_timeout_ms"`
	} `json:"load"`
	Output struct {
		LiveTable     bool   `json:"live_table"`
		SeriesParquet string `json:"series_parquet"`
	} `json:"output"`
}

// ---------- loadConfig ----------

func loadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// server defaults
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Server.Log.Format == "" {
		cfg.Server.Log.Format = "text"
	}
	if cfg.Server.Log.Level == "" {
		cfg.Server.Log.Level = "info"
	}

	// target defaults
	if cfg.Target.Host == "" {
		return nil, errors.New("target.host is required")
	}
	if cfg.Target.Port == 0 {
		cfg.Target.Port = 5001
	}
	if cfg.Target.Path == "" {
		cfg.Target.Path = "/upload"
	}
	if !strings.HasPrefix(cfg.Target.Path, "/") {
		cfg.Target.Path = "/" + cfg.Target.Path
	}
	if cfg.Target.Method == "" {
		cfg.Target.Method = "POST"
	}
	cfg.Target.Method = strings.ToUpper(cfg.Target.Method)
	if cfg.Target.Version == "" {
		cfg.Target.Version = wire.DefaultVersion
	}
	if cfg.Target.KeepAlive == nil {
		cfg.Target.KeepAlive = boolPtr(true)
	}

	// body defaults
	if cfg.Body.Kind == "" {
		cfg.Body.Kind = wire.BodyText.String()
		if cfg.Body.File != "" || len(cfg.Body.Files) > 0 || cfg.Body.Folder != "" {
			cfg.Body.Kind = wire.BodyFile.String()
		}
	}
	if _, err := wire.ParseBodyKind(cfg.Body.Kind); err != nil {
		return nil, err
	}
	if cfg.Body.FieldName == "" {
		cfg.Body.FieldName = wire.DefaultFieldName
	}
	if cfg.Body.ContentType == "" {
		cfg.Body.ContentType = wire.DefaultContentType
	}
	if cfg.Body.XFilename == nil {
		cfg.Body.XFilename = boolPtr(true)
	}

	// framing defaults
	if cfg.Framing.ChunkSize <= 0 {
		cfg.Framing.ChunkSize = wire.DefaultChunkSize
	}

	// load defaults
	if cfg.Load.Workers <= 0 {
		cfg.Load.Workers = 4
	}
	if cfg.Load.Repeat == nil {
		cfg.Load.Repeat = intPtr(1)
	}
	if *cfg.Load.Repeat < 0 {
		return nil, fmt.Errorf("load.repeat must not be negative, got %d", *cfg.Load.Repeat)
	}
	if cfg.Load.DelayMs < 0 {
		cfg.Load.DelayMs = 0
	}
	if cfg.Load.LogEvery <= 0 {
		cfg.Load.LogEvery = 1
	}
	if cfg.Load.Rate < 0 {
		cfg.Load.Rate = 0
	}
	if cfg.Load.MinimalRead == nil {
		cfg.Load.MinimalRead = boolPtr(true)
	}
	if cfg.Load.ConnectTimeoutMs <= 0 {
		cfg.Load.ConnectTimeoutMs = int(wire.DefaultTimeout / time.Millisecond)
	}
	if cfg.Load.ReadTimeoutMs <= 0 {
		cfg.Load.ReadTimeoutMs = int(wire.DefaultTimeout / time.Millisecond)
	}

	return &cfg, nil
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

// requestSpec turns the config into the template every work item is cloned from.
func (c *Config) requestSpec() (*wire.RequestSpec, error) {
	kind, err := wire.ParseBodyKind(c.Body.Kind)
	if err != nil {
		return nil, err
	}
	s := &wire.RequestSpec{
		Host:             c.Target.Host,
		Port:             c.Target.Port,
		Path:             c.Target.Path,
		Method:           c.Target.Method,
		Version:          c.Target.Version,
		KeepAlive:        *c.Target.KeepAlive,
		Framing:          wire.FixedLength,
		ChunkSize:        c.Framing.ChunkSize,
		ChunkExt:         c.Framing.ChunkExt,
		Gzip:             c.Framing.Gzip,
		Kind:             kind,
		Text:             []byte(c.Body.Text),
		FilePath:         c.Body.File,
		FieldName:        c.Body.FieldName,
		TextFields:       wire.ParseHeaderLines(c.Body.Fields),
		FilenameOverride: c.Body.Filename,
		ContentType:      c.Body.ContentType,
		FilenameHint:     *c.Body.XFilename,
		Headers:          wire.ParseHeaderLines(c.Framing.Headers),
		Trailers:         wire.ParseHeaderLines(c.Framing.Trailers),
		ConnectTimeout:   time.Duration(c.Load.ConnectTimeoutMs) * time.Millisecond,
		ReadTimeout:      time.Duration(c.Load.ReadTimeoutMs) * time.Millisecond,
		MinimalRead:      *c.Load.MinimalRead,
		Delay:            time.Duration(c.Load.DelayMs) * time.Millisecond,
	}
	if c.Framing.Chunked {
		s.Framing = wire.Chunked
	}
	// a file list or folder supplies the files, so the template needs none
	if s.Kind == wire.BodyFile && s.FilePath == "" && (len(c.Body.Files) > 0 || c.Body.Folder != "") {
		s.Kind = wire.BodyText
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// workItems assembles the work list: an explicit file list, else every file
// in the folder, else nil for the template body alone.
func (c *Config) workItems() ([]loader.WorkItem, error) {
	if len(c.Body.Files) > 0 {
		items := make([]loader.WorkItem, 0, len(c.Body.Files))
		for _, f := range c.Body.Files {
			items = append(items, loader.FileItem(f))
		}
		return items, nil
	}
	if c.Body.Folder != "" {
		items, err := loader.FolderItems(c.Body.Folder)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("folder %s has no files", c.Body.Folder)
		}
		return items, nil
	}
	return nil, nil
}

// runnerConfig builds everything the loader needs from the config.
func (c *Config) runnerConfig() (loader.Config, error) {
	tmpl, err := c.requestSpec()
	if err != nil {
		return loader.Config{}, err
	}
	items, err := c.workItems()
	if err != nil {
		return loader.Config{}, err
	}
	return loader.Config{
		Template: tmpl,
		Items:    items,
		Workers:  c.Load.Workers,
		Repeat:   *c.Load.Repeat,
		Shuffle:  c.Load.Shuffle,
		LogEvery: c.Load.LogEvery,
		Rate:     c.Load.Rate,
	}, nil
}
