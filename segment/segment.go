// Package segment implements the Segment Store: discovery of segmenter
// output on disk, duration probing (behind the shared detection lock),
// retention purge, and concat-window/script assembly for the Recorder.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unblink/camerad/detector"
	"github.com/unblink/camerad/segment/cache"
	"github.com/unblink/camerad/segment/probe"
)

// Segment is one on-disk MP4 produced by the segmenter.
type Segment struct {
	Path      string
	Filename  string
	StartTime time.Time
	Duration  time.Duration
}

// EndTime is the segment's nominal end.
func (s Segment) EndTime() time.Time { return s.StartTime.Add(s.Duration) }

const filenameLayout = "20060102150405"

// ParseFilename extracts the start_time encoded in a segment filename of
// the form YYYYMMDDhhmmss.<ext>.
func ParseFilename(name, ext string) (time.Time, error) {
	base := strings.TrimSuffix(name, "."+ext)
	t, err := time.Parse(filenameLayout, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("segment: parsing filename %q: %w", name, err)
	}
	return t, nil
}

// MaxAge is the steady-state retention window: lookback + 3*D.
func MaxAge(lookback, nominalDuration time.Duration) time.Duration {
	return lookback + 3*nominalDuration
}

// Store watches one camera's segments directory.
type Store struct {
	dir             string
	ext             string
	nominalDuration time.Duration
	lock            *detector.Lock
	cache           *cache.Cache
	logger          *log.Logger

	mu       sync.Mutex
	resolved map[string]cache.Entry
}

// NewStore builds a Store for dir (segments_folder/<camera>), files with
// extension ext, probing behind lock and persisting its index at
// cachePath.
func NewStore(dir, ext string, nominalDuration time.Duration, lock *detector.Lock, cachePath string) *Store {
	s := &Store{
		dir:             dir,
		ext:             ext,
		nominalDuration: nominalDuration,
		lock:            lock,
		cache:           cache.New(cachePath),
		resolved:        make(map[string]cache.Entry),
		logger:          log.New(os.Stdout, "[segment] ", log.LstdFlags),
	}
	if entries, err := s.cache.Load(); err == nil {
		s.resolved = entries
	}
	return s
}

// List returns every resolvable segment in the directory, sorted by
// start_time. Segments that are still being written (transient probe
// failures) are skipped for this call; a later List will pick them up.
func (s *Store) List(ctx context.Context) ([]Segment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("segment: reading %s: %w", s.dir, err)
	}

	var segments []Segment
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "."+s.ext) {
			continue
		}
		start, err := ParseFilename(e.Name(), s.ext)
		if err != nil {
			continue
		}
		dur, err := s.durationFor(ctx, e.Name(), start)
		if err != nil {
			if errors.Is(err, probe.ErrTransient) {
				continue
			}
			s.logger.Printf("probing %s: %v", e.Name(), err)
			continue
		}
		segments = append(segments, Segment{
			Path:      filepath.Join(s.dir, e.Name()),
			Filename:  e.Name(),
			StartTime: start,
			Duration:  dur,
		})
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].StartTime.Before(segments[j].StartTime) })
	return segments, nil
}

func (s *Store) durationFor(ctx context.Context, filename string, start time.Time) (time.Duration, error) {
	s.mu.Lock()
	if entry, ok := s.resolved[filename]; ok {
		s.mu.Unlock()
		return entry.Duration, nil
	}
	s.mu.Unlock()

	s.lock.Acquire()
	defer s.lock.Release()

	deadline := time.Now().Add(s.nominalDuration + 5*time.Second)
	path := filepath.Join(s.dir, filename)

	for {
		dur, err := probe.SegmentDuration(ctx, path)
		if err == nil {
			s.mu.Lock()
			s.resolved[filename] = cache.Entry{Filename: filename, StartTime: start, Duration: dur}
			snapshot := make(map[string]cache.Entry, len(s.resolved))
			for k, v := range s.resolved {
				snapshot[k] = v
			}
			s.mu.Unlock()
			if err := s.cache.Save(snapshot); err != nil {
				s.logger.Printf("saving index cache: %v", err)
			}
			return dur, nil
		}
		if !errors.Is(err, probe.ErrTransient) {
			return 0, err
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("segment: %s: %w (exceeded retry window)", filename, err)
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// FindSegment returns the segment whose [start_time, start_time+duration)
// interval contains ts.
func FindSegment(segments []Segment, ts time.Time) (Segment, bool) {
	for _, seg := range segments {
		if !ts.Before(seg.StartTime) && ts.Before(seg.EndTime()) {
			return seg, true
		}
	}
	return Segment{}, false
}

// Purge removes segments older than maxAge. It is a no-op while
// activeRecording is true, per the cleanup-suspension invariant.
func (s *Store) Purge(segments []Segment, maxAge time.Duration, now time.Time, activeRecording bool) {
	if activeRecording {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range segments {
		if now.Sub(seg.StartTime) <= maxAge {
			continue
		}
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Printf("removing expired segment %s: %v", seg.Path, err)
			continue
		}
		delete(s.resolved, seg.Filename)
	}
}

// GetConcatSegments selects the contiguous run of segments needed to cover
// [from, to]. When an exact boundary match is missing it clamps to the
// earliest/latest available segment rather than failing outright; a
// window with no overlap at all is RecordingAssemblyFailure (see §7),
// signalled by a non-nil error.
func GetConcatSegments(segments []Segment, from, to time.Time) ([]Segment, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("segment: no segments available")
	}

	startIdx := indexContaining(segments, from)
	if startIdx == -1 {
		startIdx = clampStart(segments, from)
	}
	endIdx := indexContaining(segments, to)
	if endIdx == -1 {
		endIdx = clampEnd(segments, to)
	}
	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("segment: no segments cover the requested window [%s, %s]", from, to)
	}
	return segments[startIdx : endIdx+1], nil
}

func indexContaining(segments []Segment, t time.Time) int {
	for i, seg := range segments {
		if !t.Before(seg.StartTime) && t.Before(seg.EndTime()) {
			return i
		}
	}
	return -1
}

func clampStart(segments []Segment, from time.Time) int {
	for i, seg := range segments {
		if !seg.StartTime.Before(from) {
			return i
		}
	}
	return -1
}

func clampEnd(segments []Segment, to time.Time) int {
	for i := len(segments) - 1; i >= 0; i-- {
		if !segments[i].StartTime.After(to) {
			return i
		}
	}
	return -1
}

// GenerateConcatScript builds the ffmpeg concat-demuxer script text: the
// first segment carries an inpoint relative to its own start, the last
// carries an outpoint relative to its own start.
func GenerateConcatScript(segments []Segment, eventStart, eventEnd time.Time) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("segment: cannot build a concat script with no segments")
	}

	var b strings.Builder
	last := len(segments) - 1
	for i, seg := range segments {
		fmt.Fprintf(&b, "file '%s'\n", seg.Path)
		if i == 0 {
			inpoint := int(eventStart.Sub(seg.StartTime).Seconds())
			if inpoint < 0 {
				inpoint = 0
			}
			fmt.Fprintf(&b, "inpoint %d\n", inpoint)
		}
		if i == last {
			outpoint := int(eventEnd.Sub(seg.StartTime).Seconds())
			if outpoint < 0 {
				outpoint = 0
			}
			fmt.Fprintf(&b, "outpoint %d\n", outpoint)
		}
	}
	return b.String(), nil
}
