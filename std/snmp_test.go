package std

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeSnapshot struct {
	header []string
	row    []string
}

func (f fakeSnapshot) Header() []string  { return f.header }
func (f fakeSnapshot) ToSlice() []string { return f.row }

func TestStatsLoggerWritesHeaderAndRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.csv")
	snap := fakeSnapshot{header: []string{"Pairs", "Pending"}, row: []string{"2", "1"}}
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		StatsLogger(path, 1, func() Snapshot { return snap }, stop)
		close(done)
	}()

	time.Sleep(1200 * time.Millisecond)
	close(stop)
	<-done

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stats file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "Unix,Pairs,Pending") {
		t.Fatalf("missing header, got: %q", text)
	}
	if !strings.Contains(text, ",2,1") {
		t.Fatalf("missing data row, got: %q", text)
	}
}

func TestStatsLoggerDisabledWhenPathEmpty(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	// Must return immediately rather than block on the ticker.
	done := make(chan struct{})
	go func() {
		StatsLogger("", 5, func() Snapshot { return fakeSnapshot{} }, stop)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StatsLogger did not return for empty path")
	}
}
