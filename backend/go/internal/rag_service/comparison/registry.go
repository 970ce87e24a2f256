package comparison

import (
	"strings"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/models"
)

// DefaultConfigs is the catalog used when the configuration lists no models.
var DefaultConfigs = []models.ModelConfig{
	{
		Name:        "Base Model",
		Description: "A baseline model",
		Endpoint:    "http://0.0.0.0:11434",
		UsesRAG:     false,
		ModelName:   "granite-7b",
	},
	{
		Name:        "Base Model + RAG",
		Description: "Baseline model with RAG",
		Endpoint:    "https://api.ollama.ai/base-rag",
		UsesRAG:     true,
		ModelName:   "granite-7b",
	},
	{
		Name:        "InstructLab-Aligned Model",
		Description: "Instruct model with alignments",
		Endpoint:    "https://api.ollama.ai/instruct-aligned",
		UsesRAG:     false,
		ModelName:   "granite-7b-instruct-aligned",
	},
	{
		Name:        "InstructLab-Aligned Model + RAG",
		Description: "Instruct model with alignments and RAG",
		Endpoint:    "https://api.ollama.ai/instruct-rag",
		UsesRAG:     true,
		ModelName:   "granite-7b-instruct-aligned",
	},
}

// Registry is the immutable catalog of model configurations, in registration order.
type Registry struct {
	configs []models.ModelConfig
	byName  map[string]int
}

// NewRegistry registers configs, or DefaultConfigs when configs is empty.
// Names must be non-empty and unique.
func NewRegistry(configs []models.ModelConfig) (*Registry, error) {
	if len(configs) == 0 {
		configs = DefaultConfigs
	}
	r := &Registry{
		configs: make([]models.ModelConfig, 0, len(configs)),
		byName:  make(map[string]int, len(configs)),
	}
	for _, c := range configs {
		if strings.TrimSpace(c.Name) == "" {
			return nil, apperr.New(apperr.KindConfig, "comparison model without a name")
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, apperr.New(apperr.KindConfig, "comparison model %q is registered twice", c.Name)
		}
		r.byName[c.Name] = len(r.configs)
		r.configs = append(r.configs, c)
	}
	return r, nil
}

// ListConfigs returns every configuration in registration order.
func (r *Registry) ListConfigs() []models.ModelConfig {
	out := make([]models.ModelConfig, len(r.configs))
	copy(out, r.configs)
	return out
}

// Lookup finds a configuration by name.
func (r *Registry) Lookup(name string) (models.ModelConfig, bool) {
	i, ok := r.byName[name]
	if !ok {
		return models.ModelConfig{}, false
	}
	return r.configs[i], true
}

// Select returns the named configurations in the order given, or all of them for no names.
func (r *Registry) Select(names []string) ([]models.ModelConfig, error) {
	if len(names) == 0 {
		return r.ListConfigs(), nil
	}
	out := make([]models.ModelConfig, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		c, ok := r.Lookup(name)
		if !ok {
			return nil, apperr.New(apperr.KindInput, "unknown model configuration %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, c)
	}
	return out, nil
}
