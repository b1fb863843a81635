package voice

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog means the catalog has no voices to choose from.
var ErrEmptyCatalog = errors.New("voice catalog is empty")

// Tags describe how a voice sounds.
type Tags struct {
	Gender string `yaml:"gender" json:"gender"`
	Accent string `yaml:"accent" json:"accent"`
	Style  string `yaml:"style" json:"style"`
}

// Voice is one synthesis voice offered by the provider.
type Voice struct {
	Name    string `yaml:"name" json:"name"`
	VoiceID string `yaml:"voice_id" json:"voice_id"`
	Tags    Tags   `yaml:"tags" json:"tags"`
}

// Catalog is the read-only voice set loaded at startup.
type Catalog struct {
	voices []Voice
}

type catalogFile struct {
	Voices []Voice `yaml:"voices"`
}

// LoadCatalog reads a voices document. JSON files are accepted as-is since
// JSON is valid YAML.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a voices document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode voice catalog: %w", err)
	}
	if len(f.Voices) == 0 {
		return nil, ErrEmptyCatalog
	}
	for i, v := range f.Voices {
		if strings.TrimSpace(v.VoiceID) == "" {
			return nil, fmt.Errorf("voice %d (%q): missing voice_id", i, v.Name)
		}
	}
	return &Catalog{voices: f.Voices}, nil
}

// NewCatalog wraps an in-memory voice list.
func NewCatalog(voices []Voice) *Catalog {
	return &Catalog{voices: append([]Voice(nil), voices...)}
}

// Voices returns a copy of the catalog entries.
func (c *Catalog) Voices() []Voice {
	if c == nil {
		return nil
	}
	return append([]Voice(nil), c.voices...)
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.voices)
}
