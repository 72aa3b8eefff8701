// Package catalog holds the set of synthesis models the service may load.
// The catalog is declarative: it says what exists and what each model can
// do, not whether anything is loaded. Lifecycle lives in internal/registry.
package catalog

import (
	"ttsd/internal/config"
	"ttsd/pkg/types"
)

// Catalog is an immutable lookup over the configured models.
type Catalog struct {
	models []types.Model
	byID   map[string]types.Model
}

// New builds a catalog from a model list.
func New(models []types.Model) *Catalog {
	c := &Catalog{
		models: make([]types.Model, len(models)),
		byID:   make(map[string]types.Model, len(models)),
	}
	copy(c.models, models)
	for _, m := range c.models {
		c.byID[m.ID] = m
	}
	return c
}

// FromEntries builds a catalog from config model entries. An empty entry
// list falls back to the built-in default catalog.
func FromEntries(entries []config.ModelEntry) *Catalog {
	if len(entries) == 0 {
		return Default()
	}
	models := make([]types.Model, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = e.ID
		}
		models = append(models, types.Model{
			ID:              e.ID,
			Name:            name,
			Languages:       e.Languages,
			MultiSpeaker:    e.MultiSpeaker,
			VoiceCloning:    e.VoiceCloning,
			VoiceConversion: e.VoiceConversion,
		})
	}
	return New(models)
}

// Default returns the built-in model set used when the config declares none.
func Default() *Catalog {
	return New([]types.Model{
		{ID: "tts_models/en/ljspeech/tacotron2-DDC", Name: "LJSpeech Tacotron2-DDC", Languages: []string{"en"}},
		{ID: "tts_models/en/ljspeech/glow-tts", Name: "LJSpeech Glow-TTS", Languages: []string{"en"}},
		{ID: "tts_models/en/ljspeech/vits", Name: "LJSpeech VITS", Languages: []string{"en"}},
		{ID: "tts_models/en/vctk/vits", Name: "VCTK VITS", Languages: []string{"en"}, MultiSpeaker: true},
		{ID: "tts_models/multilingual/multi-dataset/xtts_v2", Name: "XTTS v2",
			Languages: []string{"en", "es", "fr", "de", "it", "pt", "pl", "tr", "ru", "nl", "cs", "ar", "zh", "ja", "ko", "hu"},
			MultiSpeaker: true, VoiceCloning: true},
		{ID: "tts_models/multilingual/multi-dataset/your_tts", Name: "YourTTS",
			Languages: []string{"en", "fr", "pt"}, MultiSpeaker: true, VoiceCloning: true},
		{ID: "voice_conversion_models/multilingual/vctk/freevc24", Name: "FreeVC24", VoiceConversion: true},
	})
}

// List returns a copy of the catalog contents.
func (c *Catalog) List() []types.Model {
	out := make([]types.Model, len(c.models))
	copy(out, c.models)
	return out
}

// Get returns the model with the given id.
func (c *Catalog) Get(id string) (types.Model, bool) {
	m, ok := c.byID[id]
	return m, ok
}
