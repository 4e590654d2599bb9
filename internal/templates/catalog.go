package templates

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"moodlog/api/internal/apierr"
)

//go:embed templates.yaml
var defaultCatalog []byte

type Template struct {
	Name            string         `json:"name"`
	ModelProperties map[string]any `json:"model_properties,omitempty"`
	Steps           []Step         `json:"template"`
}

// NeedsModel reports whether any model step uses model.
func (t *Template) NeedsModel(model string) bool {
	for _, step := range t.Steps {
		if m, ok := step.(ModelStep); ok && strings.TrimSpace(m.Model) == model {
			return true
		}
	}
	return false
}

// QuestionIDs lists the non-blank question ids referenced by the steps, in
// step order.
func (t *Template) QuestionIDs() []string {
	var ids []string
	for _, step := range t.Steps {
		q, ok := step.(QuestionStep)
		if !ok {
			continue
		}
		if id := strings.TrimSpace(q.EntityID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

type Catalog struct {
	byName map[string]*Template
	names  []string
}

type rawCatalog struct {
	Templates []rawTemplate `yaml:"templates"`
}

type rawTemplate struct {
	Name            string         `yaml:"name"`
	ModelProperties map[string]any `yaml:"model_properties"`
	Steps           []rawStep      `yaml:"template"`
}

type rawStep struct {
	Type      string `yaml:"type"`
	Property  string `yaml:"property"`
	Model     string `yaml:"model"`
	EntityID  string `yaml:"entity_id"`
	Mandatory bool   `yaml:"mandatory"`
}

func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads the catalog at path, or the built-in one when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog. Unknown step types and
// property steps without a property are rejected here rather than when a
// user reaches the step.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apierr.Configuration(fmt.Sprintf("parse template catalog: %v", err), false)
	}

	catalog := &Catalog{byName: make(map[string]*Template, len(raw.Templates))}
	for i, rt := range raw.Templates {
		name := strings.TrimSpace(rt.Name)
		if name == "" {
			return nil, apierr.Configuration(fmt.Sprintf("template %d has no name", i), false)
		}
		if _, dup := catalog.byName[name]; dup {
			return nil, apierr.Configuration(fmt.Sprintf("duplicate template %q", name), false)
		}
		tpl := &Template{Name: name, ModelProperties: rt.ModelProperties}
		if tpl.ModelProperties == nil {
			tpl.ModelProperties = map[string]any{}
		}
		for j, rs := range rt.Steps {
			step, err := rs.toStep()
			if err != nil {
				return nil, apierr.Configuration(fmt.Sprintf("template %q step %d: %v", name, j, err), false)
			}
			tpl.Steps = append(tpl.Steps, step)
		}
		catalog.byName[name] = tpl
		catalog.names = append(catalog.names, name)
	}
	return catalog, nil
}

func (rs rawStep) toStep() (Step, error) {
	switch StepKind(strings.TrimSpace(rs.Type)) {
	case StepProperty:
		property := strings.TrimSpace(rs.Property)
		if property == "" {
			return nil, fmt.Errorf("property step has no property")
		}
		return PropertyStep{Property: property, Mandatory: rs.Mandatory}, nil
	case StepQuestion:
		return QuestionStep{EntityID: strings.TrimSpace(rs.EntityID), Mandatory: rs.Mandatory}, nil
	case StepModel:
		return ModelStep{Model: strings.TrimSpace(rs.Model)}, nil
	}
	return nil, fmt.Errorf("unsupported step type %q", rs.Type)
}

func (c *Catalog) Get(name string) (*Template, bool) {
	tpl, ok := c.byName[name]
	return tpl, ok
}

func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}
