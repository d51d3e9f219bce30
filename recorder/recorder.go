// Package recorder implements the Event state machine's recording side:
// thumbnail capture on RECORDING entry, and post-event clip assembly from
// the Segment Store on COOLING_DOWN -> IDLE.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/unblink/camerad/frame"
	"github.com/unblink/camerad/recorder/thumbnail"
	"github.com/unblink/camerad/segment"
)

// Recording is a sealed clip: a completed RECORDING episode assembled
// from on-disk segments.
type Recording struct {
	StartTime     time.Time
	EndTime       time.Time
	TriggerKind   string // "motion", "object", or "manual"
	ClipPath      string
	ThumbnailPath string
}

// Config controls output layout and the external concat invocation.
type Config struct {
	RecordingsFolder string
	Extension        string
	Lookback         time.Duration
	ThumbnailQuality int
	// ConcatCommand is the transcoder argv prefix; a temporary path (the
	// output path plus ".tmp") is appended as the final argument and the
	// concat script is fed on stdin. The file is renamed to the output
	// path once the command succeeds.
	ConcatCommand []string
}

type pendingRecording struct {
	startTime     time.Time
	triggerKind   string
	thumbnailPath string
}

// Recorder owns one camera's recording lifecycle.
type Recorder struct {
	cfg    Config
	camera string
	store  *segment.Store
	logger *log.Logger

	mu      sync.Mutex
	active  bool
	current *pendingRecording
}

// New builds a Recorder for camera, drawing segments from store.
func New(cfg Config, camera string, store *segment.Store) *Recorder {
	return &Recorder{
		cfg:    cfg,
		camera: camera,
		store:  store,
		logger: log.New(os.Stdout, fmt.Sprintf("[recorder:%s] ", camera), log.LstdFlags),
	}
}

// IsActive reports whether a recording is in progress, gating segment
// cleanup suspension.
func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start is invoked on the transition into RECORDING (IDLE/MOTION_ONLY ->
// RECORDING only; a COOLING_DOWN -> RECORDING continuation must not call
// Start again). It writes the triggering frame's thumbnail.
func (r *Recorder) Start(now time.Time, triggerKind string, rgb []byte, width, height int, objects []frame.DetectedObject) {
	r.mu.Lock()
	r.active = true
	r.current = &pendingRecording{startTime: now, triggerKind: triggerKind, thumbnailPath: r.thumbnailPath(now)}
	thumbPath := r.current.thumbnailPath
	r.mu.Unlock()

	data, err := thumbnail.Render(rgb, width, height, objects, thumbnail.Options{
		Quality:   r.cfg.ThumbnailQuality,
		Timestamp: now.UTC().Format("2006-01-02 15:04:05 UTC"),
	})
	if err != nil {
		r.logger.Printf("rendering thumbnail: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err != nil {
		r.logger.Printf("creating thumbnail directory: %v", err)
		return
	}
	if err := os.WriteFile(thumbPath, data, 0o644); err != nil {
		r.logger.Printf("writing thumbnail: %v", err)
	}
}

// Stop is invoked on the transition out of COOLING_DOWN into IDLE. It
// assembles the clip from on-disk segments covering
// [start_time-lookback, now]. A RecordingAssemblyFailure (no matching
// segments, or a non-zero concat exit) discards the recording: no
// placeholder file is written, and the error is returned for logging.
func (r *Recorder) Stop(ctx context.Context, now time.Time) (*Recording, error) {
	r.mu.Lock()
	pending := r.current
	r.current = nil
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}()

	if pending == nil {
		return nil, fmt.Errorf("recorder: stop called with no active recording")
	}

	segments, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("recorder: listing segments: %w", err)
	}

	from := pending.startTime.Add(-r.cfg.Lookback)
	window, err := segment.GetConcatSegments(segments, from, now)
	if err != nil {
		return nil, fmt.Errorf("recorder: assembling clip: %w", err)
	}

	script, err := segment.GenerateConcatScript(window, from, now)
	if err != nil {
		return nil, fmt.Errorf("recorder: building concat script: %w", err)
	}

	outPath := r.clipPath(pending.startTime)
	if err := r.concat(ctx, script, outPath); err != nil {
		return nil, fmt.Errorf("recorder: concat: %w", err)
	}

	return &Recording{
		StartTime:     pending.startTime,
		EndTime:       now,
		TriggerKind:   pending.triggerKind,
		ClipPath:      outPath,
		ThumbnailPath: pending.thumbnailPath,
	}, nil
}

func (r *Recorder) concat(ctx context.Context, script, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmpPath := outPath + ".tmp"

	args := append(append([]string{}, r.cfg.ConcatCommand[1:]...), tmpPath)
	cmd := exec.CommandContext(ctx, r.cfg.ConcatCommand[0], args...)
	cmd.Stdin = bytes.NewBufferString(script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return os.Rename(tmpPath, outPath)
}

func (r *Recorder) clipPath(start time.Time) string {
	return filepath.Join(r.cfg.RecordingsFolder, start.Format("2006-01-02"), r.camera,
		start.Format("150405")+"."+r.cfg.Extension)
}

func (r *Recorder) thumbnailPath(start time.Time) string {
	return filepath.Join(r.cfg.RecordingsFolder, "thumbnails", r.camera, start.Format("150405")+".jpg")
}
