package graphapi

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/default.json
var defaultWorkflowJSON []byte

// DefaultWorkflow returns the built-in text-to-image workflow:
// checkpoint -> two chained LoRAs -> positive/negative text encoders ->
// empty latent -> KSampler -> VAE decode -> save image.
func DefaultWorkflow() (Workflow, error) {
	return ParseWorkflow(defaultWorkflowJSON)
}

// LoadTemplateFile reads a workflow template from disk. PNG files are expected
// to carry the API-format workflow in their "prompt" text chunk, anything else
// is read as JSON.
func LoadTemplateFile(path string) (Workflow, error) {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		w, err := NewWorkflowFromPNGReader(file)
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", path, err)
		}
		return w, nil
	}

	w, err := NewWorkflowFromJsonFile(path)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", path, err)
	}
	return w, nil
}

// TemplateStore holds the process-wide workflow template. The template is
// never handed out directly, callers always receive their own copy.
type TemplateStore struct {
	template Workflow
}

// NewTemplateStore validates w and keeps a private copy of it
func NewTemplateStore(w Workflow) (*TemplateStore, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &TemplateStore{template: w.Clone()}, nil
}

// Template returns a deep copy of the template for a single request
func (s *TemplateStore) Template() Workflow {
	return s.template.Clone()
}
