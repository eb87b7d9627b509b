// Package narrator turns transformed order fields into spoken audio.
//
// The spoken text comes from a text/template over the field map. A field
// the template references but the order lacks is an error, so a partially
// read label is never narrated.
package narrator

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// DefaultTemplate is the spoken text used when none is configured.
const DefaultTemplate = `Order for {{.customer_name}}. One {{.item_name}}, {{.order_type}}.`

// Voice describes how the speech service should speak.
type Voice struct {
	Name     string
	Language string
	Style    string
	Rate     string
	Pitch    string
}

// Script renders order fields to narration text.
type Script struct {
	tmpl *template.Template
}

// NewScript parses text as a narration template.
func NewScript(text string) (*Script, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("narration").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse narration template: %w", err)
	}
	return &Script{tmpl: tmpl}, nil
}

// LoadScript reads a template file. An empty path selects DefaultTemplate.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return NewScript("")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read narration template: %w", err)
	}
	return NewScript(string(data))
}

// Render returns the narration text for fields.
func (s *Script) Render(fields map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("render narration: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

var ssmlDocument = template.Must(template.New("ssml").Funcs(template.FuncMap{"xml": escapeXML}).Parse(
	`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="{{xml .Voice.Language}}">` +
		`<voice name="{{xml .Voice.Name}}">` +
		`{{if .Voice.Style}}<mstts:express-as style="{{xml .Voice.Style}}">{{end}}` +
		`<prosody rate="{{xml .Rate}}" pitch="{{xml .Pitch}}">{{xml .Text}}</prosody>` +
		`{{if .Voice.Style}}</mstts:express-as>{{end}}` +
		`</voice></speak>`))

// SSML wraps text in a speech synthesis document for voice.
func SSML(voice Voice, text string) (string, error) {
	data := struct {
		Voice Voice
		Rate  string
		Pitch string
		Text  string
	}{Voice: voice, Rate: orDefault(voice.Rate, "0%"), Pitch: orDefault(voice.Pitch, "0%"), Text: text}

	var buf bytes.Buffer
	if err := ssmlDocument.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render ssml: %w", err)
	}
	return buf.String(), nil
}

func escapeXML(s string) string {
	var buf strings.Builder
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
