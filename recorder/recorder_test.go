package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unblink/camerad/detector"
	"github.com/unblink/camerad/frame"
	"github.com/unblink/camerad/segment"
	"github.com/unblink/camerad/segment/cache"
)

func TestStartWritesThumbnail(t *testing.T) {
	dir := t.TempDir()
	store := segment.NewStore(t.TempDir(), "mp4", 10*time.Second, detector.NewLocks().For("cam"), filepath.Join(dir, ".index.cbor"))

	cfg := Config{RecordingsFolder: dir, Extension: "mp4", Lookback: 5 * time.Second, ThumbnailQuality: 80}
	r := New(cfg, "cam1", store)

	const w, h = 16, 12
	rgb := make([]byte, w*h*3)
	objects := []frame.DetectedObject{{Label: "person", Confidence: 0.9, RelX1: 0.1, RelY1: 0.1, RelX2: 0.5, RelY2: 0.5, Relevant: true}}

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.Start(now, "object", rgb, w, h, objects)

	if !r.IsActive() {
		t.Fatal("expected recorder to be active after Start")
	}

	thumbPath := filepath.Join(dir, "thumbnails", "cam1", "120000.jpg")
	if _, err := os.Stat(thumbPath); err != nil {
		t.Fatalf("expected thumbnail at %s: %v", thumbPath, err)
	}
}

func TestStopAssemblesClipAndSeals(t *testing.T) {
	segDir := t.TempDir()
	recDir := t.TempDir()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	seg1 := writeFakeSegment(t, segDir, base, 10*time.Second)
	seg2 := writeFakeSegment(t, segDir, base.Add(10*time.Second), 10*time.Second)

	// Pre-seed the index cache so Store.List resolves durations from the
	// cache instead of shelling out to a real ffprobe against fake data.
	cachePath := filepath.Join(segDir, ".index.cbor")
	c := cache.New(cachePath)
	if err := c.Save(map[string]cache.Entry{
		seg1.name: {Filename: seg1.name, StartTime: seg1.start, Duration: seg1.duration},
		seg2.name: {Filename: seg2.name, StartTime: seg2.start, Duration: seg2.duration},
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	store := segment.NewStore(segDir, "mp4", 10*time.Second, detector.NewLocks().For("cam"), cachePath)

	cfg := Config{
		RecordingsFolder: recDir,
		Extension:        "mp4",
		Lookback:         5 * time.Second,
		ThumbnailQuality: 80,
		ConcatCommand:    []string{"sh", "-c", `cat > "$0"`},
	}
	r := New(cfg, "cam1", store)

	rgb := make([]byte, 16*12*3)
	r.Start(base.Add(5*time.Second), "object", rgb, 16, 12, nil)

	rec, err := r.Stop(context.Background(), base.Add(18*time.Second))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if rec.TriggerKind != "object" {
		t.Errorf("expected trigger kind object, got %s", rec.TriggerKind)
	}
	if _, err := os.Stat(rec.ClipPath); err != nil {
		t.Fatalf("expected clip at %s: %v", rec.ClipPath, err)
	}
	if r.IsActive() {
		t.Fatal("expected recorder to be inactive after Stop")
	}
}

type fakeSegment struct {
	name     string
	start    time.Time
	duration time.Duration
}

func writeFakeSegment(t *testing.T, dir string, start time.Time, duration time.Duration) fakeSegment {
	t.Helper()
	name := start.Format("20060102150405") + ".mp4"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("not a real mp4, duration comes from the seeded cache"), 0o644); err != nil {
		t.Fatalf("seed segment: %v", err)
	}
	return fakeSegment{name: name, start: start, duration: duration}
}
