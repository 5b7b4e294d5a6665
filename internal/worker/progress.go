package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const barWidth = 30

// Progress renders a one-line status bar for a bulk job and keeps running
// totals of what the job did.
type Progress struct {
	mu      sync.Mutex
	out     io.Writer
	start   time.Time
	enabled bool
	verb    string
	total   int
	totals  Totals
}

// NewProgress creates a tracker for total tasks. When enabled it redraws a
// bar on stderr after every result.
func NewProgress(total int, enabled bool) *Progress {
	return &Progress{
		out:     os.Stderr,
		start:   time.Now(),
		enabled: enabled,
		verb:    "Processed",
		total:   total,
	}
}

// WithVerb sets the verb used by Summary, such as "Seeded" or "Exported".
func (p *Progress) WithVerb(verb string) *Progress {
	p.verb = verb
	return p
}

// Record counts r and redraws the bar.
func (p *Progress) Record(r Result, total int) {
	p.mu.Lock()
	p.totals.Add(r)
	p.total = total
	line := p.lineLocked(time.Now())
	p.mu.Unlock()

	if p.enabled {
		fmt.Fprint(p.out, line)
	}
}

// Callback returns a ProgressFunc for Config.OnProgress.
func (p *Progress) Callback() ProgressFunc {
	return func(r Result, _, total int) {
		p.Record(r, total)
	}
}

// Totals returns what has been counted so far.
func (p *Progress) Totals() Totals {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totals
}

func (p *Progress) lineLocked(now time.Time) string {
	finished := p.totals.Finished()
	elapsed := now.Sub(p.start)

	frac := 1.0
	if p.total > 0 {
		frac = float64(finished) / float64(p.total)
	}
	filled := min(barWidth, int(frac*barWidth))

	var b strings.Builder
	fmt.Fprintf(&b, "\r[%s%s] %d/%d tiles",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), finished, p.total)

	var notes []string
	if p.totals.Skipped > 0 {
		notes = append(notes, fmt.Sprintf("%d skipped", p.totals.Skipped))
	}
	if p.totals.Failed > 0 {
		notes = append(notes, fmt.Sprintf("%d failed", p.totals.Failed))
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(notes, ", "))
	}

	fmt.Fprintf(&b, " %s", humanize.Bytes(uint64(p.totals.Bytes)))

	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(finished) / secs
	}
	fmt.Fprintf(&b, " - %.1f tiles/sec", rate)

	switch {
	case finished >= p.total:
		fmt.Fprintf(&b, " - done in %s", formatDuration(elapsed))
	case rate > 0:
		eta := time.Duration(float64(p.total-finished) / rate * float64(time.Second))
		fmt.Fprintf(&b, " - ETA %s", formatDuration(eta))
	}

	// Clear leftovers of a longer previous line
	b.WriteString("        ")
	return b.String()
}

// Done redraws the final bar and ends the line.
func (p *Progress) Done() {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	line := p.lineLocked(time.Now())
	p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// Summary describes the finished job in one line.
func (p *Progress) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.totals
	return fmt.Sprintf("%s %d/%d tiles (%d skipped, %d failed, %s) in %s",
		p.verb, t.Done+t.Skipped, p.total, t.Skipped, t.Failed,
		humanize.Bytes(uint64(t.Bytes)), formatDuration(time.Since(p.start)))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
