// Package extractor reads order label fields from frames with a hosted
// vision model.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/edgeorder/labelreader/types"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-1.5-flash"

const systemPrompt = "You read printed order labels stuck on coffee cups. You must output a single valid JSON object and nothing else."

const userPrompt = `The image shows one or more cups. Read the order label and return a JSON object with exactly these keys:
  "customer_name", "item_name", "order_type".
Each key maps to an object with:
  - "value": the text printed on the label for that field, exactly as printed.
  - "confidence": a number between 0 and 1 giving how sure you are the value is correct.
If a field is not visible or not legible, set it to null. Do not guess.`

// generator is the subset of *genai.GenerativeModel used by Gemini.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Config configures the Gemini extractor.
type Config struct {
	Project string
	Region  string
	Model   string
}

// Gemini extracts label fields with a Vertex AI Gemini model.
type Gemini struct {
	model  generator
	client *genai.Client
}

// NewGemini connects to Vertex AI and prepares the label model.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.Project == "" || cfg.Region == "" {
		return nil, errors.New("gemini extractor: project and region cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, cfg.Project, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
		ResponseSchema:   labelSchema(),
	}

	return &Gemini{model: model, client: client}, nil
}

func labelSchema() *genai.Schema {
	field := &genai.Schema{
		Type:     genai.TypeObject,
		Nullable: true,
		Properties: map[string]*genai.Schema{
			"value":      {Type: genai.TypeString},
			"confidence": {Type: genai.TypeNumber},
		},
		Required: []string{"value", "confidence"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			types.FieldCustomerName: field,
			types.FieldItemName:     field,
			types.FieldOrderType:    field,
		},
	}
}

// Extract returns the fields read from jpeg. Fields the model could not
// read are absent from the map.
func (g *Gemini) Extract(ctx context.Context, jpeg []byte) (map[string]types.Field, error) {
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("jpeg", jpeg), genai.Text(userPrompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return ParseFields(text)
}

// Close releases the Vertex AI client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned an empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini response has no text part")
	}
	return b.String(), nil
}

// ParseFields decodes a model reply into label fields. A Markdown code
// fence around the JSON is tolerated. Null fields are dropped.
func ParseFields(text string) (map[string]types.Field, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var raw map[string]*types.Field
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return nil, fmt.Errorf("decode label fields: %w", err)
	}

	fields := make(map[string]types.Field, len(raw))
	for name, f := range raw {
		if f == nil {
			continue
		}
		fields[name] = *f
	}
	return fields, nil
}
