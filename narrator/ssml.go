package narrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edgeorder/labelreader/iox"
)

// DefaultOutputFormat requests 24 kHz mono WAV.
const DefaultOutputFormat = "riff-24khz-16bit-mono-pcm"

// maxAudioSize caps a synthesized clip.
const maxAudioSize = 16 << 20

// SSMLConfig configures an SSML speech endpoint.
type SSMLConfig struct {
	Endpoint string
	APIKey   string
	Voice    Voice
	Timeout  time.Duration
}

// SSMLNarrator posts SSML documents to a speech synthesis REST endpoint.
type SSMLNarrator struct {
	config SSMLConfig
	script *Script
	client *http.Client
}

// NewSSML creates an SSML narrator speaking script.
func NewSSML(cfg SSMLConfig, script *Script) (*SSMLNarrator, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("ssml narrator requires an endpoint")
	}
	if cfg.Voice.Name == "" {
		return nil, errors.New("ssml narrator requires a voice")
	}
	if cfg.Voice.Language == "" {
		cfg.Voice.Language = "en-US"
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
	return &SSMLNarrator{config: cfg, script: script, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Narrate renders fields and returns the synthesized WAV.
func (n *SSMLNarrator) Narrate(ctx context.Context, fields map[string]string) ([]byte, error) {
	text, err := n.script.Render(fields)
	if err != nil {
		return nil, err
	}
	doc, err := SSML(n.config.Voice, text)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.Endpoint, strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", DefaultOutputFormat)
	req.Header.Set("User-Agent", "labelreader")
	if n.config.APIKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", n.config.APIKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesize: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(audio))
	}
	if len(audio) == 0 {
		return nil, errors.New("synthesize: empty audio")
	}
	return audio, nil
}
