package prompts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: make(map[string]*Template),
	}
}

// RegisterTemplate registers a new template
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	if tmpl == nil || tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render replaces every {{variable}} in the named template.
// Unknown variables keep their placeholder.
func (e *TemplateEngine) Render(templateName string, vars map[string]string) (string, error) {
	tmpl, err := e.GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	result := varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		name := varRegex.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
	return result, nil
}

// ParseTemplateVariables extracts variables from a template, sorted by name
func ParseTemplateVariables(templateContent string) []string {
	matches := varRegex.FindAllStringSubmatch(templateContent, -1)

	uniqueVars := make(map[string]bool)
	for _, match := range matches {
		if len(match) > 1 {
			uniqueVars[match[1]] = true
		}
	}

	vars := make([]string, 0, len(uniqueVars))
	for v := range uniqueVars {
		vars = append(vars, v)
	}
	sort.Strings(vars)

	return vars
}

// ExportTemplate exports a template as JSON
func (e *TemplateEngine) ExportTemplate(name string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal template: %w", err)
	}

	return string(data), nil
}

// ParseTemplate decodes a JSON template and extracts its variables
func ParseTemplate(jsonData string) (*Template, error) {
	var tmpl Template
	if err := json.Unmarshal([]byte(jsonData), &tmpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}

	// Extract variables from content
	tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	return &tmpl, nil
}

// ImportTemplate imports a template from JSON, replacing any with the same name
func (e *TemplateEngine) ImportTemplate(jsonData string) error {
	tmpl, err := ParseTemplate(jsonData)
	if err != nil {
		return err
	}
	return e.RegisterTemplate(tmpl)
}
