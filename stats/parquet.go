package stats

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

// SeriesRow is the on-disk layout of one Point.
type SeriesRow struct {
	Second       int32   `parquet:"name=second, type=INT32"`
	Bytes        int64   `parquet:"name=bytes, type=INT64"`
	Mbps         float64 `parquet:"name=mbps, type=DOUBLE"`
	Success      int64   `parquet:"name=success, type=INT64"`
	Failure      int64   `parquet:"name=failure, type=INT64"`
	AvgLatencyMs float64 `parquet:"name=avg_latency_ms, type=DOUBLE"`
}

// WriteSeriesParquet writes points to a Parquet file at path, creating the
// parent directory if needed.
func WriteSeriesParquet(path string, points []Point) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(file, new(SeriesRow), 4)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	for _, p := range points {
		row := SeriesRow{
			Second:       int32(p.Second),
			Bytes:        p.Bytes,
			Mbps:         p.Mbps,
			Success:      p.Success,
			Failure:      p.Failure,
			AvgLatencyMs: p.AvgLatencyMs,
		}
		if err := pw.Write(row); err != nil {
			file.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("failed to stop parquet writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}
	return nil
}
