package worker

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/tile"
)

func done(bytes int) Result {
	return Result{Task: Task{Addr: tile.MustNew(1, 0, 0)}, Outcome: Outcome{Bytes: bytes}}
}

func skipped() Result {
	return Result{Task: Task{Addr: tile.MustNew(1, 1, 0)}, Outcome: Outcome{Skipped: true}}
}

func failed() Result {
	return Result{Task: Task{Addr: tile.MustNew(1, 1, 1)}, Err: errors.New("boom")}
}

func TestProgress_RecordCountsOutcomes(t *testing.T) {
	p := NewProgress(4, false)

	p.Record(done(1000), 4)
	p.Record(done(500), 4)
	p.Record(skipped(), 4)
	p.Record(failed(), 4)

	got := p.Totals()
	want := Totals{Done: 2, Skipped: 1, Failed: 1, Bytes: 1500}
	if got != want {
		t.Errorf("Totals() = %+v, want %+v", got, want)
	}
}

func TestProgress_Bar(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(10, true)
	p.out = &buf
	p.start = time.Now().Add(-10 * time.Second)

	for i := 0; i < 3; i++ {
		p.Record(done(1000), 10)
	}
	p.Record(skipped(), 10)
	p.Record(failed(), 10)

	line := buf.String()
	line = line[strings.LastIndex(line, "\r"):]

	for _, want := range []string{"█", "5/10 tiles", "(1 skipped, 1 failed)", "3.0 kB", "tiles/sec", "ETA"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in %q", want, line)
		}
	}
}

func TestProgress_DoneEndsLine(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(2, true)
	p.out = &buf
	p.Record(done(10), 2)
	p.Record(done(10), 2)
	buf.Reset()

	p.Done()

	out := buf.String()
	if !strings.Contains(out, "done in") {
		t.Errorf("Expected 'done in' in %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Expected output to end with newline")
	}
}

func TestProgress_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(0, true)
	p.out = &buf
	p.Done()

	if !strings.Contains(buf.String(), "0/0 tiles") {
		t.Errorf("Expected '0/0 tiles' in %q", buf.String())
	}
}

func TestProgress_Disabled(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(10, false)
	p.out = &buf
	p.Record(done(10), 10)
	p.Done()

	if buf.Len() != 0 {
		t.Errorf("Expected no output when disabled, got: %s", buf.String())
	}
}

func TestProgress_Summary(t *testing.T) {
	p := NewProgress(10, false).WithVerb("Seeded")
	for i := 0; i < 7; i++ {
		p.Record(done(100), 10)
	}
	p.Record(skipped(), 10)
	p.Record(failed(), 10)
	p.Record(failed(), 10)

	summary := p.Summary()
	if !strings.HasPrefix(summary, "Seeded 8/10 tiles (1 skipped, 2 failed, 700 B)") {
		t.Errorf("Unexpected summary: %s", summary)
	}
}

func TestProgress_CallbackFeedsRecord(t *testing.T) {
	p := NewProgress(0, false)

	cb := p.Callback()
	cb(done(5), 1, 3)

	if p.total != 3 {
		t.Errorf("Expected total=3, got %d", p.total)
	}
	if p.Totals().Done != 1 {
		t.Errorf("Expected one done tile, got %+v", p.Totals())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		expected string
		duration time.Duration
	}{
		{duration: 30 * time.Second, expected: "30s"},
		{duration: 90 * time.Second, expected: "1m30s"},
		{duration: 65 * time.Minute, expected: "1h5m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %s, want %s", tt.duration, got, tt.expected)
			}
		})
	}
}
