package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateCamerasSchema generates the JSON Schema for a cameras.yaml
// file, used by "camerad config schema" and to validate a file before
// the daemon starts serving traffic on it.
func GenerateCamerasSchema() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v CamerasFile
	return reflector.Reflect(v)
}

// Validate parses path and checks every camera's required fields beyond
// what the JSON Schema alone can express (cross-field and semantic
// checks: at most one motion detector, non-empty reader command, a
// known detector type).
func Validate(path string) (*CamerasFile, error) {
	cf, err := LoadCamerasFile(path)
	if err != nil {
		return nil, err
	}
	if len(cf.Cameras) == 0 {
		return nil, fmt.Errorf("config: %s: no cameras configured", path)
	}

	seen := make(map[string]bool, len(cf.Cameras))
	for _, cc := range cf.Cameras {
		if cc.Name == "" {
			return nil, fmt.Errorf("config: %s: a camera is missing a name", path)
		}
		if seen[cc.Name] {
			return nil, fmt.Errorf("config: %s: duplicate camera name %q", path, cc.Name)
		}
		seen[cc.Name] = true

		if len(cc.Stream.ReaderCommand) == 0 {
			return nil, fmt.Errorf("config: camera %q: stream.reader_command is required", cc.Name)
		}

		motionDetectors := 0
		for _, dc := range cc.Detectors {
			if dc.Name == "" {
				return nil, fmt.Errorf("config: camera %q: a detector is missing a name", cc.Name)
			}
			if _, err := buildDetector(dc); err != nil {
				return nil, err
			}
			if dc.Motion {
				motionDetectors++
			}
		}
		if motionDetectors > 1 {
			return nil, fmt.Errorf("config: camera %q: only one detector may set motion: true, got %d", cc.Name, motionDetectors)
		}

		if cc.Segments.Dir == "" {
			return nil, fmt.Errorf("config: camera %q: segments.dir is required", cc.Name)
		}
		if len(cc.Segments.ConcatCommand) == 0 {
			return nil, fmt.Errorf("config: camera %q: segments.concat_command is required", cc.Name)
		}
	}

	return cf, nil
}

// SchemaJSON renders GenerateCamerasSchema as indented JSON, for the
// "camerad config schema" subcommand.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(GenerateCamerasSchema(), "", "  ")
}
