// Package probe wraps the ffprobe subprocess contract: stream information
// (width/height/fps/codec) and segment duration, parsed with gjson rather
// than a full struct unmarshal since only a handful of fields out of a
// larger JSON blob are ever needed.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrTransient marks a probe failure that is expected to resolve itself
// once the segmenter finishes writing the file (moov atom not yet
// written, or ffprobe reporting "N/A").
var ErrTransient = errors.New("probe: transient failure, segment still being written")

// StreamInfo is the subset of ffprobe's streams[0] this daemon consumes.
type StreamInfo struct {
	Width, Height int
	FPS           float64
	Codec         string
}

// StreamInformation invokes ffprobe -show_streams against url and extracts
// width/height/avg_frame_rate/codec_name. avg_frame_rate is a rational
// num/den; a zero denominator means fps is unknown and the call failed.
func StreamInformation(ctx context.Context, url string) (StreamInfo, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet", "-print_format", "json", "-show_streams", url,
	).Output()
	if err != nil {
		return StreamInfo{}, fmt.Errorf("probe: ffprobe: %w", err)
	}

	if errMsg := gjson.GetBytes(out, "error.string"); errMsg.Exists() {
		return StreamInfo{}, fmt.Errorf("probe: ffprobe reported: %s", errMsg.String())
	}

	stream := gjson.GetBytes(out, "streams.0")
	if !stream.Exists() {
		return StreamInfo{}, fmt.Errorf("probe: no stream information in ffprobe output")
	}

	fps, err := parseRational(stream.Get("avg_frame_rate").String())
	if err != nil {
		return StreamInfo{}, err
	}

	return StreamInfo{
		Width:  int(stream.Get("width").Int()),
		Height: int(stream.Get("height").Int()),
		FPS:    fps,
		Codec:  stream.Get("codec_name").String(),
	}, nil
}

func parseRational(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("probe: malformed frame rate %q", s)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("probe: parsing frame rate numerator %q: %w", num, err)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("probe: parsing frame rate denominator %q: %w", den, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("probe: frame rate denominator is zero, fps unknown")
	}
	return n / d, nil
}

// SegmentDuration invokes ffprobe against a segment file and returns its
// duration. Known-transient failures (moov atom not yet flushed, "N/A")
// are reported as ErrTransient so callers can retry.
func SegmentDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path,
	).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if isTransient(text) {
			return 0, ErrTransient
		}
		return 0, fmt.Errorf("probe: segment duration: %w", err)
	}
	if isTransient(text) {
		return 0, ErrTransient
	}

	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("probe: parsing duration %q: %w", text, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func isTransient(output string) bool {
	return strings.Contains(output, "moov atom not found") || output == "N/A" || output == ""
}
