package segment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unblink/camerad/detector"
)

func TestParseFilenameRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	name := start.Format(filenameLayout) + ".mp4"

	got, err := ParseFilename(name, "mp4")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(start) {
		t.Fatalf("got %v, want %v", got, start)
	}
}

// TestConcatWindowS3 exercises the worked example: three 10s segments back
// to back, event_start=1704110405, event_end=1704110418, lookback=5s. The
// window [event_start-lookback, event_end] = [1704110400, 1704110418]
// overlaps only the first two segments (the third starts at 1704110420,
// after event_end), so the assembled clip spans those two: inpoint 0 on
// the first, outpoint 8 on the last used.
func TestConcatWindowS3(t *testing.T) {
	base := time.Unix(1704110400, 0).UTC()
	seg1 := Segment{Path: "seg1.mp4", Filename: "20240101120000.mp4", StartTime: base, Duration: 10 * time.Second}
	seg2 := Segment{Path: "seg2.mp4", Filename: "20240101120010.mp4", StartTime: base.Add(10 * time.Second), Duration: 10 * time.Second}
	seg3 := Segment{Path: "seg3.mp4", Filename: "20240101120020.mp4", StartTime: base.Add(20 * time.Second), Duration: 10 * time.Second}
	segments := []Segment{seg1, seg2, seg3}

	eventStart := time.Unix(1704110405, 0).UTC()
	eventEnd := time.Unix(1704110418, 0).UTC()
	lookback := 5 * time.Second
	windowStart := eventStart.Add(-lookback)

	selected, err := GetConcatSegments(segments, windowStart, eventEnd)
	if err != nil {
		t.Fatalf("get concat segments: %v", err)
	}
	if len(selected) != 2 || selected[0].Filename != seg1.Filename || selected[1].Filename != seg2.Filename {
		t.Fatalf("unexpected selection: %+v", selected)
	}

	script, err := GenerateConcatScript(selected, windowStart, eventEnd)
	if err != nil {
		t.Fatalf("generate script: %v", err)
	}
	if !strings.Contains(script, "inpoint 0\n") {
		t.Errorf("expected inpoint 0 on first segment, got:\n%s", script)
	}
	if !strings.Contains(script, "outpoint 8\n") {
		t.Errorf("expected outpoint 8 on last segment, got:\n%s", script)
	}
}

func TestConcatWindowClampsOnPartialMiss(t *testing.T) {
	base := time.Unix(1704110400, 0).UTC()
	segments := []Segment{
		{Path: "seg1.mp4", StartTime: base, Duration: 10 * time.Second},
		{Path: "seg2.mp4", StartTime: base.Add(10 * time.Second), Duration: 10 * time.Second},
	}

	// Window starts well before any segment and ends well after the last;
	// clamp to the earliest/latest available rather than failing.
	from := base.Add(-time.Hour)
	to := base.Add(time.Hour)

	selected, err := GetConcatSegments(segments, from, to)
	if err != nil {
		t.Fatalf("get concat segments: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected both segments, got %d", len(selected))
	}
}

func TestConcatWindowTotalMissFails(t *testing.T) {
	base := time.Unix(1704110400, 0).UTC()
	segments := []Segment{{Path: "seg1.mp4", StartTime: base, Duration: 10 * time.Second}}

	from := base.Add(-time.Hour)
	to := base.Add(-30 * time.Minute)
	if _, err := GetConcatSegments(segments, from, to); err == nil {
		t.Fatal("expected error on a window with no overlap")
	}
}

func TestPurgeSuspendedDuringActiveRecording(t *testing.T) {
	dir := t.TempDir()
	lookback := 5 * time.Second
	nominal := 10 * time.Second
	maxAge := MaxAge(lookback, nominal)

	now := time.Unix(1704200000, 0).UTC()
	oldStart := now.Add(-maxAge - time.Hour)
	oldName := oldStart.Format(filenameLayout) + ".mp4"
	oldPath := filepath.Join(dir, oldName)
	if err := os.WriteFile(oldPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	store := NewStore(dir, "mp4", nominal, detector.NewLocks().For("cam1"), filepath.Join(dir, ".index.cbor"))
	segments := []Segment{{Path: oldPath, Filename: oldName, StartTime: oldStart, Duration: nominal}}

	store.Purge(segments, maxAge, now, true)
	if _, err := os.Stat(oldPath); err != nil {
		t.Fatalf("expected expired segment to survive while recording is active: %v", err)
	}

	store.Purge(segments, maxAge, now, false)
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected expired segment to be removed once recording ends, stat err=%v", err)
	}
}
