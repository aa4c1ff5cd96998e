// Package template renders outbound message text from a YAML-defined
// registry. Rendering is pure string work: no I/O, no locale logic beyond
// what the definitions carry.
package template

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Priority orders templates when several could answer the same turn and
// doubles as a hint to the transport layer.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Definition is one registered template.
type Definition struct {
	Name     string   `yaml:"name" validate:"required"`
	Trigger  string   `yaml:"trigger" validate:"required"`
	Body     string   `yaml:"body" validate:"required"`
	Priority Priority `yaml:"priority" validate:"omitempty,oneof=critical normal low"`
}

// Rendered is the outcome of a render call: final text plus the priority of
// the definition that produced it.
type Rendered struct {
	Name     string
	Text     string
	Priority Priority
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Registry holds definitions keyed by trigger. It is immutable after Load,
// so concurrent renders need no locking.
type Registry struct {
	byTrigger map[string]Definition
}

type registryFile struct {
	Templates []Definition `yaml:"templates"`
}

// Load reads a YAML registry file and validates every definition. Duplicate
// triggers are rejected rather than silently shadowed.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template registry: %w", err)
	}
	return Parse(raw)
}

// Parse builds a registry from raw YAML bytes.
func Parse(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode template registry: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("template registry is empty")
	}

	validate := validator.New()
	byTrigger := make(map[string]Definition, len(file.Templates))
	for _, def := range file.Templates {
		if err := validate.Struct(def); err != nil {
			return nil, fmt.Errorf("invalid template %q: %w", def.Name, err)
		}
		if def.Priority == "" {
			def.Priority = PriorityNormal
		}
		if _, exists := byTrigger[def.Trigger]; exists {
			return nil, fmt.Errorf("duplicate template trigger %q", def.Trigger)
		}
		byTrigger[def.Trigger] = def
	}
	return &Registry{byTrigger: byTrigger}, nil
}

// Triggers returns the registered triggers, sorted.
func (r *Registry) Triggers() []string {
	triggers := make([]string, 0, len(r.byTrigger))
	for trigger := range r.byTrigger {
		triggers = append(triggers, trigger)
	}
	sort.Strings(triggers)
	return triggers
}

// Render substitutes params into the template registered for trigger. Every
// placeholder in the body must be supplied; a missing one fails the render
// with ErrMissingPlaceholder instead of leaking "{{name}}" to the user.
func (r *Registry) Render(trigger string, params map[string]string) (Rendered, error) {
	def, ok := r.byTrigger[trigger]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, trigger)
	}

	var missing []string
	text := placeholderPattern.ReplaceAllStringFunc(def.Body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := params[name]
		if !ok || value == "" {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return Rendered{}, fmt.Errorf("%w: %s in template %q",
			ErrMissingPlaceholder, strings.Join(missing, ", "), def.Name)
	}
	return Rendered{Name: def.Name, Text: text, Priority: def.Priority}, nil
}
