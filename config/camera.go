package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unblink/camerad/capture"
	"github.com/unblink/camerad/detector"
	"github.com/unblink/camerad/detector/vlm"
	"github.com/unblink/camerad/event"
	"github.com/unblink/camerad/filter"
	"github.com/unblink/camerad/pipeline"
	"github.com/unblink/camerad/recorder"
)

// CamerasFile is the top-level shape of cameras.yaml: a list of
// independently configured cameras.
type CamerasFile struct {
	Cameras []CameraConfig `yaml:"cameras"`
}

// StreamConfig describes a camera's stream reader and its raw frame
// shape.
type StreamConfig struct {
	ReaderCommand      []string `yaml:"reader_command"`
	SanityProbeCommand []string `yaml:"sanity_probe_command,omitempty"`
	SegmentsCommand    []string `yaml:"segments_command,omitempty"`
	FrameWidth         int      `yaml:"frame_width"`
	FrameHeight        int      `yaml:"frame_height"`
	FPS                int      `yaml:"fps"`
}

// VLMConfig configures a vision-language-model-backed detector.
type VLMConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key,omitempty"`
	Model          string `yaml:"model"`
	Prompt         string `yaml:"prompt,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	MaxTokens      int    `yaml:"max_tokens,omitempty"`
	ModelWidth     int    `yaml:"model_width"`
	ModelHeight    int    `yaml:"model_height"`
}

// DetectorConfig describes one of a camera's detectors. Type selects the
// concrete detector.Detector implementation; "vlm" is the only one
// currently built in.
type DetectorConfig struct {
	Name               string    `yaml:"name"`
	Type               string    `yaml:"type"`
	FPS                float64   `yaml:"fps"`
	Device             string    `yaml:"device,omitempty"`
	Motion             bool      `yaml:"motion,omitempty"`
	ScanEnabledDefault bool      `yaml:"scan_enabled_default,omitempty"`
	VLM                VLMConfig `yaml:"vlm,omitempty"`
}

// PointConfig is one polygon vertex, in pixel coordinates.
type PointConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// LabelConfig mirrors filter.Label in a YAML-friendly shape.
type LabelConfig struct {
	Name              string        `yaml:"name"`
	MinConfidence     float64       `yaml:"min_confidence"`
	WidthMin          float64       `yaml:"width_min,omitempty"`
	WidthMax          float64       `yaml:"width_max,omitempty"`
	HeightMin         float64       `yaml:"height_min,omitempty"`
	HeightMax         float64       `yaml:"height_max,omitempty"`
	Mask              []PointConfig `yaml:"mask,omitempty"`
	TriggersRecording bool          `yaml:"triggers_recording,omitempty"`
	RequireMotion     bool          `yaml:"require_motion,omitempty"`
	PostProcessor     string        `yaml:"post_processor,omitempty"`
}

// ZoneConfig describes one named polygon zone and the labels scoped to
// it.
type ZoneConfig struct {
	Name        string        `yaml:"name"`
	Coordinates []PointConfig `yaml:"coordinates"`
	Labels      []LabelConfig `yaml:"labels,omitempty"`
}

// RecordingConfig controls the Event state machine and Recorder.
type RecordingConfig struct {
	Lookback                     time.Duration `yaml:"lookback"`
	PostEventTimeout             time.Duration `yaml:"post_event_timeout"`
	MotionMaxTimeout             time.Duration `yaml:"motion_max_timeout"`
	MotionDebounceFrames         int           `yaml:"motion_debounce_frames"`
	TriggerDetector              bool          `yaml:"trigger_detector"`
	MotionAloneTriggersRecording bool          `yaml:"motion_alone_triggers_recording,omitempty"`
	ThumbnailQuality             int           `yaml:"thumbnail_quality,omitempty"`
}

// SegmentsConfig controls the Segment Store and clip assembly.
type SegmentsConfig struct {
	Dir             string        `yaml:"dir"`
	Extension       string        `yaml:"extension"`
	NominalDuration time.Duration `yaml:"nominal_duration"`
	CachePath       string        `yaml:"cache_path,omitempty"`
	ConcatCommand   []string      `yaml:"concat_command"`
}

// CameraConfig is one camera's full configuration, shaped after
// viseron's camera config tree.
type CameraConfig struct {
	Name             string           `yaml:"name"`
	Stream           StreamConfig     `yaml:"stream"`
	Detectors        []DetectorConfig `yaml:"detectors"`
	CameraLabels     []LabelConfig    `yaml:"labels,omitempty"`
	Zones            []ZoneConfig     `yaml:"zones,omitempty"`
	Recording        RecordingConfig  `yaml:"recording"`
	Segments         SegmentsConfig   `yaml:"segments"`
	ProbeDevice      string           `yaml:"probe_device,omitempty"`
	MaxRestartFails  int              `yaml:"max_consecutive_failures,omitempty"`
	StderrAllowlist  []string         `yaml:"stderr_allowlist,omitempty"`
}

// LoadCamerasFile parses a cameras.yaml from disk.
func LoadCamerasFile(path string) (*CamerasFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cf CamerasFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cf, nil
}

func pointsFrom(in []PointConfig) []filter.Point {
	out := make([]filter.Point, len(in))
	for i, p := range in {
		out[i] = filter.Point{X: p.X, Y: p.Y}
	}
	return out
}

func labelsFrom(in []LabelConfig) []filter.Label {
	out := make([]filter.Label, len(in))
	for i, l := range in {
		out[i] = filter.Label{
			Name:              l.Name,
			MinConfidence:     l.MinConfidence,
			WidthMin:          l.WidthMin,
			WidthMax:          l.WidthMax,
			HeightMin:         l.HeightMin,
			HeightMax:         l.HeightMax,
			Mask:              pointsFrom(l.Mask),
			TriggersRecording: l.TriggersRecording,
			RequireMotion:     l.RequireMotion,
			PostProcessor:     l.PostProcessor,
		}
	}
	return out
}

// buildDetector resolves a DetectorConfig's Type into a concrete
// detector.Detector. "vlm" is the only built-in implementation; an
// unrecognized type is a configuration error rather than a silent
// no-op, so a miskeyed camera file fails at load time instead of
// running a camera with no detections.
func buildDetector(dc DetectorConfig) (detector.Detector, error) {
	switch dc.Type {
	case "vlm":
		return vlm.New(vlm.Config{
			BaseURL:        dc.VLM.BaseURL,
			APIKey:         dc.VLM.APIKey,
			Model:          dc.VLM.Model,
			Prompt:         dc.VLM.Prompt,
			TimeoutSeconds: dc.VLM.TimeoutSeconds,
			MaxTokens:      dc.VLM.MaxTokens,
			ModelW:         dc.VLM.ModelWidth,
			ModelH:         dc.VLM.ModelHeight,
		}), nil
	default:
		return nil, fmt.Errorf("config: camera %q: unknown detector type %q", dc.Name, dc.Type)
	}
}

// BuildPipelineConfig converts one CameraConfig into a pipeline.Config,
// instantiating its detectors and sharing locks across every camera in
// the daemon so cameras pinned to the same hardware device serialize
// against each other. recordingsDir is the daemon-wide sealed-recordings
// folder (DaemonConfig.RecordingsDir); it must stay distinct from
// cc.Segments.Dir so finished clips and thumbnails never land inside the
// segment ring buffer the Segment Store scans and purges.
func BuildPipelineConfig(cc CameraConfig, locks *detector.Locks, recordingsDir string) (pipeline.Config, error) {
	detectors := make([]pipeline.DetectorConfig, 0, len(cc.Detectors))
	for _, dc := range cc.Detectors {
		impl, err := buildDetector(dc)
		if err != nil {
			return pipeline.Config{}, err
		}
		detectors = append(detectors, pipeline.DetectorConfig{
			Name:               dc.Name,
			FPS:                dc.FPS,
			Device:             dc.Device,
			Detector:           impl,
			Motion:             dc.Motion,
			ScanEnabledDefault: dc.ScanEnabledDefault,
		})
	}

	zones := make([]pipeline.ZoneConfig, 0, len(cc.Zones))
	for _, zc := range cc.Zones {
		zones = append(zones, pipeline.ZoneConfig{
			Name:        zc.Name,
			Coordinates: pointsFrom(zc.Coordinates),
			Labels:      labelsFrom(zc.Labels),
		})
	}

	cfg := pipeline.Config{
		Name:         cc.Name,
		StreamFPS:    cc.Stream.FPS,
		StreamWidth:  cc.Stream.FrameWidth,
		StreamHeight: cc.Stream.FrameHeight,
		Capture: capture.Config{
			Name:                   cc.Name,
			ReaderCommand:          cc.Stream.ReaderCommand,
			FrameWidth:             cc.Stream.FrameWidth,
			FrameHeight:            cc.Stream.FrameHeight,
			SanityProbeCommand:     cc.Stream.SanityProbeCommand,
			StderrAllowlist:        cc.StderrAllowlist,
			MaxConsecutiveFailures: cc.MaxRestartFails,
			SegmentsCommand:        cc.Stream.SegmentsCommand,
		},
		Detectors:    detectors,
		Zones:        zones,
		CameraLabels: labelsFrom(cc.CameraLabels),
		Event: event.Config{
			PostEventTimeout: cc.Recording.PostEventTimeout,
			MotionMaxTimeout: cc.Recording.MotionMaxTimeout,
			TriggerDetector:  cc.Recording.TriggerDetector,
		},
		Recorder: recorder.Config{
			RecordingsFolder: recordingsDir,
			Extension:        cc.Segments.Extension,
			Lookback:         cc.Recording.Lookback,
			ThumbnailQuality: cc.Recording.ThumbnailQuality,
			ConcatCommand:    cc.Segments.ConcatCommand,
		},
		SegmentsDir:                  cc.Segments.Dir,
		SegmentExt:                   cc.Segments.Extension,
		SegmentNominalDuration:       cc.Segments.NominalDuration,
		SegmentCachePath:             cc.Segments.CachePath,
		Lookback:                     cc.Recording.Lookback,
		MotionDebounceFrames:         cc.Recording.MotionDebounceFrames,
		MotionAloneTriggersRecording: cc.Recording.MotionAloneTriggersRecording,
		ProbeDevice:                  cc.ProbeDevice,
		Locks:                        locks,
	}
	return cfg, nil
}
