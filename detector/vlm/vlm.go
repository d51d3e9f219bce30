// Package vlm is a concrete Detector backed by an OpenAI-compatible
// vision-language model endpoint, using structured JSON-schema output to
// obtain bounding boxes instead of a locally-run object detection model.
package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/unblink/camerad/frame"
)

// Config configures the VLM client and request shape.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Prompt         string
	TimeoutSeconds int
	MaxTokens      int
	// ModelW/ModelH are the input dimensions requested of the Frame
	// Worker; a square value exercises the letterbox resize path.
	ModelW int
	ModelH int
}

// Detector implements detector.Detector against a chat-completions VLM.
type Detector struct {
	client openai.Client
	cfg    Config
	logger *log.Logger
}

// New builds a Detector from cfg.
func New(cfg Config) *Detector {
	opts := []option.RequestOption{option.WithBaseURL(cfg.BaseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 20
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "Identify every distinct object in this security camera frame. Ignore background and static scenery."
	}
	return &Detector{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: log.New(os.Stdout, "[detector.vlm] ", log.LstdFlags),
	}
}

func (d *Detector) ModelWidth() int  { return d.cfg.ModelW }
func (d *Detector) ModelHeight() int { return d.cfg.ModelH }

// Preprocess is a no-op: the VLM back-end needs no extra preprocessing
// beyond the Frame Worker's resize/letterbox step.
func (d *Detector) Preprocess(*frame.FrameToScan) {}

type detectionResponse struct {
	Objects []detectedObject `json:"objects" jsonschema_description:"All distinct objects visible in the frame"`
}

type detectedObject struct {
	Label      string    `json:"label" jsonschema_description:"Short label for the object, e.g. person, car, dog"`
	Confidence float64   `json:"confidence" jsonschema_description:"Detection confidence between 0 and 1"`
	BBox       []float64 `json:"bbox" jsonschema_description:"Bounding box as [x1,y1,x2,y2] in normalized 1000 coordinates (0=top/left, 1000=bottom/right)"`
}

func generateSchema() any {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	var v detectionResponse
	return reflector.Reflect(v)
}

// Detect sends the scan's resized view to the VLM and maps its normalized
// 1000-space bounding boxes back to frame-relative coordinates, undoing
// letterbox padding when the view was letterboxed.
func (d *Detector) Detect(ctx context.Context, scan *frame.FrameToScan) ([]frame.DetectedObject, error) {
	view, ok := scan.Frame.Views[scan.DetectorName]
	if !ok {
		return nil, fmt.Errorf("vlm: no resized view for detector %q", scan.DetectorName)
	}

	jpegBytes, err := encodeJPEG(view.Data, view.Width, view.Height)
	if err != nil {
		return nil, fmt.Errorf("vlm: encoding frame: %w", err)
	}
	dataURL := fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(jpegBytes))

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "detection_response",
		Description: openai.String("Objects detected in a single camera frame"),
		Schema:      generateSchema(),
		Strict:      openai.Bool(true),
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(d.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(d.cfg.Prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		MaxTokens: openai.Int(int64(d.cfg.MaxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	resp, err := d.client.Chat.Completions.New(timeoutCtx, params)
	if err != nil {
		return nil, fmt.Errorf("vlm: completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vlm: empty response")
	}

	var parsed detectionResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("vlm: parsing structured response: %w", err)
	}

	objects := make([]frame.DetectedObject, 0, len(parsed.Objects))
	for _, o := range parsed.Objects {
		if len(o.BBox) < 4 {
			continue
		}
		obj, ok := d.toDetectedObject(o, view, scan)
		if !ok {
			continue
		}
		objects = append(objects, obj)
	}

	d.logger.Printf("detector=%s objects=%d", scan.DetectorName, len(objects))
	return objects, nil
}

func (d *Detector) toDetectedObject(o detectedObject, view *frame.View, scan *frame.FrameToScan) (frame.DetectedObject, bool) {
	mx1 := o.BBox[0] / 1000 * float64(view.Width)
	my1 := o.BBox[1] / 1000 * float64(view.Height)
	mx2 := o.BBox[2] / 1000 * float64(view.Width)
	my2 := o.BBox[3] / 1000 * float64(view.Height)

	var relX1, relY1, relX2, relY2 float64
	if view.Letterbox != nil {
		ox1, oy1 := frame.LetterboxPointToOriginal(mx1, my1, *view.Letterbox)
		ox2, oy2 := frame.LetterboxPointToOriginal(mx2, my2, *view.Letterbox)
		relX1 = ox1 / float64(scan.StreamW)
		relY1 = oy1 / float64(scan.StreamH)
		relX2 = ox2 / float64(scan.StreamW)
		relY2 = oy2 / float64(scan.StreamH)
	} else {
		relX1 = o.BBox[0] / 1000
		relY1 = o.BBox[1] / 1000
		relX2 = o.BBox[2] / 1000
		relY2 = o.BBox[3] / 1000
	}

	if relX1 >= relX2 || relY1 >= relY2 {
		return frame.DetectedObject{}, false
	}

	return frame.DetectedObject{
		Label:      o.Label,
		Confidence: o.Confidence,
		RelX1:      relX1,
		RelY1:      relY1,
		RelX2:      relX2,
		RelY2:      relY2,
	}, true
}

func encodeJPEG(rgb []byte, w, h int) ([]byte, error) {
	img := frame.RGBToImage(rgb, w, h)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
