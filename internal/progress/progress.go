// Package progress owns the run-wide progress counters and renders a live
// indicator. Completion is measured against the summed size of the input
// files, so the fraction tracks bytes read, not bytes uploaded; serialization
// overhead makes the two differ slightly and the approximation is accepted.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// etaWindow is the number of recent batches feeding the moving average that
// drives the ETA estimate.
const etaWindow = 10

// logInterval throttles the fallback progress log lines emitted when the
// output is not a terminal (piped or CI runs).
const logInterval = 5 * time.Second

type sample struct {
	bytes    int64
	duration time.Duration
}

// Tracker aggregates per-batch counters across all input files. It is updated
// from the single pipeline goroutine, after each batch upload fully resolves.
type Tracker struct {
	mu sync.Mutex

	totalBytes   int64
	readBytes    int64
	sentAtRecord int64 // readBytes at the previous Record call

	documents int64
	batches   int64
	bytesSent int64

	start      time.Time
	lastRecord time.Time
	lastLog    time.Time
	recent     []sample

	out        io.Writer
	isTerminal bool
	width      int
	logger     *slog.Logger
}

// New creates a Tracker for an expected total of totalBytes input. Rendering
// goes to out; the live single-line indicator is only used when out is a
// terminal, and piped runs fall back to throttled progress log lines.
func New(totalBytes int64, out io.Writer) *Tracker {
	t := &Tracker{
		totalBytes: totalBytes,
		start:      time.Now(),
		lastRecord: time.Now(),
		out:        out,
		width:      80,
		logger:     slog.Default().With("component", "progress"),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.isTerminal = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			t.width = w
		}
	}
	return t
}

// AddRead accounts for n raw bytes consumed from an input file. Safe to call
// from reader callbacks.
func (t *Tracker) AddRead(n int) {
	t.mu.Lock()
	t.readBytes += int64(n)
	t.mu.Unlock()
}

// Record registers one successfully uploaded batch and refreshes the display.
// Failed or retried attempts must not be recorded.
func (t *Tracker) Record(batchBytes int64, batchDocs int) {
	t.mu.Lock()
	now := time.Now()
	t.documents += int64(batchDocs)
	t.batches++
	t.bytesSent += batchBytes

	t.recent = append(t.recent, sample{
		bytes:    t.readBytes - t.sentAtRecord,
		duration: now.Sub(t.lastRecord),
	})
	if len(t.recent) > etaWindow {
		t.recent = t.recent[1:]
	}
	t.sentAtRecord = t.readBytes
	t.lastRecord = now

	logNow := !t.isTerminal && now.Sub(t.lastLog) >= logInterval
	if logNow {
		t.lastLog = now
	}
	documents, batches := t.documents, t.batches
	percent := t.percentLocked()
	eta := t.etaLocked()
	line := t.renderLocked()
	t.mu.Unlock()

	if t.isTerminal {
		fmt.Fprintf(t.out, "\r%s", line)
		return
	}
	if logNow {
		t.logger.Info("import progress",
			"percent", fmt.Sprintf("%.0f", percent),
			"documents", documents,
			"batches", batches,
			"eta", eta.Round(time.Second).String(),
		)
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() (documents, batches, bytesSent int64, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.documents, t.batches, t.bytesSent, time.Since(t.start)
}

// ETA estimates the remaining run time from the moving average of recent
// batch durations and the bytes they consumed. Zero means unknown.
func (t *Tracker) ETA() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.etaLocked()
}

func (t *Tracker) etaLocked() time.Duration {
	var windowBytes int64
	var windowTime time.Duration
	for _, s := range t.recent {
		windowBytes += s.bytes
		windowTime += s.duration
	}
	if windowBytes <= 0 || windowTime <= 0 {
		return 0
	}
	remaining := t.totalBytes - t.readBytes
	if remaining <= 0 {
		return 0
	}
	perByte := float64(windowTime) / float64(windowBytes)
	return time.Duration(perByte * float64(remaining))
}

// Finish clears the live line and prints the final summary.
func (t *Tracker) Finish() {
	t.mu.Lock()
	documents, batches := t.documents, t.batches
	bytesSent := t.bytesSent
	elapsed := time.Since(t.start).Round(time.Millisecond)
	t.mu.Unlock()

	if t.isTerminal {
		fmt.Fprint(t.out, "\r", strings.Repeat(" ", t.width-1), "\r")
	}
	fmt.Fprintf(t.out, "imported %s documents in %d batches (%s) in %s\n",
		humanize.Comma(documents), batches, humanize.IBytes(uint64(bytesSent)), elapsed)
}

func (t *Tracker) percentLocked() float64 {
	if t.totalBytes <= 0 {
		return 0
	}
	percent := float64(t.readBytes) / float64(t.totalBytes) * 100
	if percent > 100 {
		percent = 100
	}
	return percent
}

func (t *Tracker) renderLocked() string {
	elapsed := time.Since(t.start).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(t.documents) / elapsed
	}
	percent := t.percentLocked()
	line := fmt.Sprintf("%3.0f%% | %s docs | %s batches | %.0f docs/s",
		percent, humanize.Comma(t.documents), humanize.Comma(t.batches), rate)
	if eta := t.etaLocked(); eta > 0 {
		line += fmt.Sprintf(" | ETA %s", eta.Round(time.Second))
	}
	if len(line) >= t.width {
		line = line[:t.width-1]
	}
	return line
}
