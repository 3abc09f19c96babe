// Package stats turns the worker's textual progress output into a running
// statistics record.
//
// The worker prints labelled summary lines ("Files processed: 10",
// "Total input size: 10.5 MB", ...). Each recognized line overwrites its
// field; lines may arrive in any order and unrecognized lines are ignored.
package stats

import (
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// Recognized label prefixes, case-sensitive. The value capture groups match
// the worker's formatting: integers for counts, "<v> <unit>" for sizes,
// "<n> ms" for time, "<v> <unit>/s" for throughput and "<v>%" for the
// overall compression percentage.
var (
	reFilesProcessed = regexp.MustCompile(`Files processed: (\d+)`)
	reFilesFailed    = regexp.MustCompile(`Files failed: (\d+)`)
	reTotalFiles     = regexp.MustCompile(`Total files: (\d+)`)
	reInputSize      = regexp.MustCompile(`Total input size: ([\d.]+ \w+)`)
	reOutputSize     = regexp.MustCompile(`Total output size: ([\d.]+ \w+)`)
	reCompression    = regexp.MustCompile(`Overall compression: ([\d.]+)%`)
	reProcessingTime = regexp.MustCompile(`Processing time: (\d+) ms`)
	reThroughput     = regexp.MustCompile(`Throughput: ([\d.]+ \w+)/s`)
)

// Aggregator accumulates worker output into a statistics record.
// It is safe for concurrent use; readers only ever see immutable snapshots.
type Aggregator struct {
	mu sync.Mutex

	snap v1.StatsSnapshot

	// compression as reported by the worker, used when raw byte totals are
	// not (yet) known
	reportedRatio float64
	hasReported   bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Ingest classifies one output line and returns the resulting snapshot.
// The boolean reports whether the line matched a recognized pattern;
// unmatched lines leave the snapshot unchanged and are not errors.
func (a *Aggregator) Ingest(line string) (v1.StatsSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	matched := true
	switch {
	case a.matchInt(reFilesProcessed, line, &a.snap.FilesProcessed):
	case a.matchInt(reFilesFailed, line, &a.snap.FilesFailed):
	case a.matchInt(reTotalFiles, line, &a.snap.TotalFiles):
	case a.matchBytes(reInputSize, line, &a.snap.TotalInputBytes):
	case a.matchBytes(reOutputSize, line, &a.snap.TotalOutputBytes):
	case a.matchCompression(line):
	case a.matchProcessingTime(line):
	case a.matchThroughput(line):
	default:
		matched = false
	}

	if matched {
		a.recomputeRatio()
	}
	return a.snap, matched
}

// Snapshot returns the current statistics as an immutable copy.
func (a *Aggregator) Snapshot() v1.StatsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

// Reset zeroes every field, establishing a defined baseline before a session.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap = v1.StatsSnapshot{}
	a.reportedRatio = 0
	a.hasReported = false
}

func (a *Aggregator) matchInt(re *regexp.Regexp, line string, dst *int) bool {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	*dst = n
	return true
}

func (a *Aggregator) matchBytes(re *regexp.Regexp, line string, dst *uint64) bool {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	n, err := humanize.ParseBytes(m[1])
	if err != nil {
		return false
	}
	*dst = n
	return true
}

func (a *Aggregator) matchCompression(line string) bool {
	m := reCompression.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return false
	}
	a.reportedRatio = pct / 100
	a.hasReported = true
	return true
}

func (a *Aggregator) matchProcessingTime(line string) bool {
	m := reProcessingTime.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return false
	}
	a.snap.ProcessingTime = time.Duration(ms) * time.Millisecond
	return true
}

func (a *Aggregator) matchThroughput(line string) bool {
	m := reThroughput.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	n, err := humanize.ParseBytes(m[1])
	if err != nil {
		return false
	}
	a.snap.ThroughputBps = float64(n)
	return true
}

// recomputeRatio derives the compression ratio from the latest raw values.
// Raw byte totals win over the worker-reported percentage; the ratio is
// recomputed, never accumulated.
func (a *Aggregator) recomputeRatio() {
	if a.snap.TotalInputBytes > 0 && a.snap.TotalOutputBytes > 0 {
		a.snap.CompressionRatio = 1 - float64(a.snap.TotalOutputBytes)/float64(a.snap.TotalInputBytes)
		return
	}
	if a.hasReported {
		a.snap.CompressionRatio = a.reportedRatio
	}
}
