package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kyojunkeum/webtest/stats"
)

// liveView remembers the previous snapshot so the table can show rates.
type liveView struct {
	last     stats.Totals
	lastTime time.Time
}

// printMetrics renders the live stats table. status is the per-worker item list.
func (v *liveView) printMetrics(w io.Writer, agg *stats.Aggregator, status []string, clear bool) {
	now := time.Now()
	tot := agg.Totals()

	var rate float64
	if !v.lastTime.IsZero() {
		if d := now.Sub(v.lastTime).Seconds(); d > 0 {
			rate = float64(tot.Sent-v.last.Sent) / d
		}
	}
	v.last, v.lastTime = tot, now

	var mbps float64
	var avgMs float64
	if pts := agg.Series(); len(pts) > 0 {
		p := pts[len(pts)-1]
		mbps, avgMs = p.Mbps, p.AvgLatencyMs
	}

	if clear {
		fmt.Fprint(w, "\033[H\033[2J")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "--- Live Stats --- ", now.Format("15:04:05"), " elapsed ", now.Sub(agg.Start()).Truncate(time.Second))
	fmt.Fprintln(tw, "Sent\tAttempts/s\tSuccess\tBlock(4xx)\tNoResp\tTimeout\tReset\t5xx\tOther\tErrors\tBlock %\tMbps\tAvg Latency (ms)")
	fmt.Fprintf(tw, "%d\t%.2f\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\t%.3f\t%.2f\n",
		tot.Sent, rate, tot.Success, tot.ClientBlock, tot.NoResponse, tot.Timeout, tot.Reset,
		tot.ServerError, tot.Other, tot.Errors, tot.BlockRate(), mbps, avgMs)
	fmt.Fprintln(tw, "--------------------")
	fmt.Fprintf(tw, "Bytes attempted:\t%s\n", humanize.IBytes(uint64(tot.Bytes)))
	fmt.Fprintf(tw, "Workers:\t%s\n", strings.Join(status, ", "))
	tw.Flush()
}

// printSummary writes the end-of-run report.
func printSummary(w io.Writer, agg *stats.Aggregator) {
	tot := agg.Totals()
	q := agg.Latency()
	elapsed := time.Since(agg.Start())

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "--- Summary ---")
	fmt.Fprintf(tw, "Duration:\t%s\n", elapsed.Truncate(time.Millisecond))
	fmt.Fprintf(tw, "Sent:\t%s\n", humanize.Comma(int64(tot.Sent)))
	fmt.Fprintf(tw, "Success (2xx):\t%d\n", tot.Success)
	fmt.Fprintf(tw, "Blocked / client error (4xx):\t%d\n", tot.ClientBlock)
	fmt.Fprintf(tw, "No response:\t%d\n", tot.NoResponse)
	fmt.Fprintf(tw, "Timeout:\t%d\n", tot.Timeout)
	fmt.Fprintf(tw, "Reset:\t%d\n", tot.Reset)
	fmt.Fprintf(tw, "Server error (5xx):\t%d\n", tot.ServerError)
	fmt.Fprintf(tw, "Other status:\t%d\n", tot.Other)
	fmt.Fprintf(tw, "Unexpected errors:\t%d\n", tot.Errors)
	fmt.Fprintf(tw, "Block rate:\t%.2f%%\n", tot.BlockRate())
	fmt.Fprintf(tw, "Bytes attempted:\t%s\n", humanize.IBytes(uint64(tot.Bytes)))
	if q.Count > 0 {
		fmt.Fprintf(tw, "Latency ms (n=%d):\tp50 %.2f  p95 %.2f  p99 %.2f  max %.2f\n", q.Count, q.P50, q.P95, q.P99, q.Max)
	}
	tw.Flush()
}
