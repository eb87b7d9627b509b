package narrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/edgeorder/labelreader/iox"
)

// OpenAI defaults.
const (
	DefaultOpenAIModel = "tts-1"
	DefaultOpenAIVoice = "alloy"
)

// OpenAIConfig configures the OpenAI speech narrator.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for a compatible gateway.
	BaseURL    string
	Model      string
	Voice      string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAINarrator synthesizes speech with the OpenAI audio API.
type OpenAINarrator struct {
	client openai.Client
	model  string
	voice  string
	script *Script
}

// NewOpenAI creates an OpenAI narrator speaking script.
func NewOpenAI(cfg OpenAIConfig, script *Script) (*OpenAINarrator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai narrator requires an api key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultOpenAIVoice
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if script == nil {
		var err error
		if script, err = NewScript(""); err != nil {
			return nil, err
		}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAINarrator{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		voice:  cfg.Voice,
		script: script,
	}, nil
}

// Narrate renders fields and returns the synthesized WAV.
func (n *OpenAINarrator) Narrate(ctx context.Context, fields map[string]string) ([]byte, error) {
	text, err := n.script.Render(fields)
	if err != nil {
		return nil, err
	}

	resp, err := n.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(n.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(n.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("openai speech: empty audio")
	}
	return audio, nil
}
