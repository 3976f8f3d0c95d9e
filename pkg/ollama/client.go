// Package ollama implements client.VisionClient with a local Ollama vision model.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/product-crop/internal/httpc"
	"github.com/menta2k/product-crop/pkg/processing"
	"github.com/menta2k/product-crop/pkg/types"
)

const objectsPrompt = `Find the products in this image.
Reply with JSON only, no prose, in this exact shape:
{"objects":[{"label":"shoe","confidence":0.9,"box":{"x":0.1,"y":0.2,"w":0.3,"h":0.4}}]}
Coordinates are fractions of the image size: x,y is the top-left corner, w,h the size.
Return {"objects":[]} when there is no product.`

const textPrompt = `Find every piece of printed or overlaid text in this image.
Reply with JSON only, no prose, in this exact shape:
{"texts":[{"text":"SALE","box":{"x":0.1,"y":0.2,"w":0.3,"h":0.05}}]}
Coordinates are fractions of the image size: x,y is the top-left corner, w,h the size.
Return {"texts":[]} when there is no text.`

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Config configures the Ollama backend.
type Config struct {
	URL   string
	Model string
	// SendSize is the longest side of the image sent to the model.
	SendSize int
}

// DefaultConfig returns defaults for a local Ollama server.
func DefaultConfig() Config {
	return Config{
		URL:      "http://localhost:11434",
		Model:    "qwen2.5vl:7b",
		SendSize: 1024,
	}
}

// Client wraps the Ollama API client
type Client struct {
	client    *api.Client
	cfg       Config
	processor *processing.Processor
	logger    *slog.Logger
}

// NewClient creates a new Ollama client
func NewClient(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.SendSize <= 0 {
		cfg.SendSize = def.SendSize
	}

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", cfg.URL)
	}

	// Drop any path such as /api/chat; the SDK adds its own.
	baseURL := &url.URL{Scheme: parsedURL.Scheme, Host: parsedURL.Host}

	return &Client{
		client:    api.NewClient(baseURL, httpc.NewClient(0)),
		cfg:       cfg,
		processor: processing.NewProcessor(),
		logger:    slog.Default(),
	}, nil
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

type box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type objectsReply struct {
	Objects []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Box        box     `json:"box"`
	} `json:"objects"`
}

type textsReply struct {
	Texts []struct {
		Text string `json:"text"`
		Box  box    `json:"box"`
	} `json:"texts"`
}

// LocalizeObjects asks the model for product boxes.
func (c *Client) LocalizeObjects(ctx context.Context, image []byte) ([]types.DetectedObject, error) {
	raw, _, err := c.ask(ctx, objectsPrompt, image)
	if err != nil {
		return nil, err
	}

	var reply objectsReply
	if !c.decode(raw, &reply) {
		return nil, nil
	}

	objects := make([]types.DetectedObject, 0, len(reply.Objects))
	for _, o := range reply.Objects {
		if o.Box.W <= 0 || o.Box.H <= 0 {
			continue
		}
		x0, y0 := o.Box.X, o.Box.Y
		x1, y1 := x0+o.Box.W, y0+o.Box.H
		objects = append(objects, types.DetectedObject{
			Name:  o.Label,
			Score: o.Confidence,
			Vertices: types.NormQuad{
				{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
			},
		})
	}
	return objects, nil
}

// DetectText asks the model for text boxes and converts them to source
// pixels. Element 0 is synthesized as the union of all boxes.
func (c *Client) DetectText(ctx context.Context, image []byte) ([]types.DetectedText, error) {
	raw, dims, err := c.ask(ctx, textPrompt, image)
	if err != nil {
		return nil, err
	}

	var reply textsReply
	if !c.decode(raw, &reply) || len(reply.Texts) == 0 {
		return nil, nil
	}

	texts := make([]types.DetectedText, 1, len(reply.Texts)+1)
	all := make([]string, 0, len(reply.Texts))
	var ux0, uy0, ux1, uy1 float64 = 1, 1, 0, 0
	for _, t := range reply.Texts {
		if t.Box.W <= 0 || t.Box.H <= 0 {
			continue
		}
		nb := types.NormBox{Left: t.Box.X, Top: t.Box.Y, Width: t.Box.W, Height: t.Box.H}
		texts = append(texts, types.DetectedText{
			Description: t.Text,
			Vertices:    nb.ToRegion(dims).Quad(),
		})
		all = append(all, t.Text)
		ux0, uy0 = min(ux0, t.Box.X), min(uy0, t.Box.Y)
		ux1, uy1 = max(ux1, t.Box.X+t.Box.W), max(uy1, t.Box.Y+t.Box.H)
	}
	if len(texts) == 1 {
		return nil, nil
	}

	union := types.NormBox{Left: ux0, Top: uy0, Width: ux1 - ux0, Height: uy1 - uy0}
	texts[0] = types.DetectedText{
		Description: strings.Join(all, "\n"),
		Vertices:    union.ToRegion(dims).Quad(),
	}
	return texts, nil
}

// ask sends one prompt with a downscaled copy of the image and returns the
// raw reply and the source dimensions. The caller's context bounds the call.
func (c *Client) ask(ctx context.Context, prompt string, image []byte) (string, types.Dimensions, error) {
	img, _, err := c.processor.Decode(image)
	if err != nil {
		return "", types.Dimensions{}, fmt.Errorf("failed to decode image: %w", err)
	}
	dims := types.Dimensions{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}

	imgB64, err := c.processor.PrepareImageForModel(img, "jpeg", c.cfg.SendSize, 85)
	if err != nil {
		return "", dims, fmt.Errorf("failed to prepare image: %w", err)
	}
	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", dims, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.cfg.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": 0},
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", dims, fmt.Errorf("ollama chat error: %w", err)
	}
	if responseContent == "" {
		return "", dims, fmt.Errorf("empty response from ollama")
	}
	return responseContent, dims, nil
}

// decode parses a model reply. An unparseable reply is logged and treated
// as "nothing found".
func (c *Client) decode(raw string, v any) bool {
	clean := sanitizeModelJSON(raw)
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		c.logger.Warn("unparseable model reply", "model", c.cfg.Model, "error", err, "reply", truncate(raw, 200))
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// Ping checks that the Ollama server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.Version(ctx); err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", c.cfg.URL, err)
	}
	return nil
}
