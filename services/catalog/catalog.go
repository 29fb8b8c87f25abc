// Package catalog loads the framework catalog and instantiates its controls
// for every organization.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/upb/compliance-ledger/models"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the parsed framework catalog
type Catalog struct {
	Frameworks []FrameworkSpec `yaml:"frameworks"`
}

// FrameworkSpec describes one framework and its controls
type FrameworkSpec struct {
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	Description string        `yaml:"description"`
	Controls    []ControlSpec `yaml:"controls"`
}

// ControlSpec describes one control template
type ControlSpec struct {
	Code        string          `yaml:"code"`
	Title       string          `yaml:"title"`
	Category    string          `yaml:"category"`
	Severity    models.Severity `yaml:"severity"`
	Description string          `yaml:"description"`
	Guidance    string          `yaml:"guidance"`
}

// Default returns the embedded catalog
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file, or the embedded catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that framework names and control codes are unique
func (c *Catalog) Validate() error {
	if len(c.Frameworks) == 0 {
		return fmt.Errorf("catalog defines no frameworks")
	}
	names := make(map[string]bool, len(c.Frameworks))
	for _, fw := range c.Frameworks {
		name := strings.TrimSpace(fw.Name)
		if name == "" {
			return fmt.Errorf("framework name is required")
		}
		if names[name] {
			return fmt.Errorf("framework %q is defined twice", name)
		}
		names[name] = true

		codes := make(map[string]bool, len(fw.Controls))
		for _, ctl := range fw.Controls {
			if strings.TrimSpace(ctl.Code) == "" || strings.TrimSpace(ctl.Title) == "" {
				return fmt.Errorf("framework %q: control code and title are required", name)
			}
			if codes[ctl.Code] {
				return fmt.Errorf("framework %q: control %q is defined twice", name, ctl.Code)
			}
			codes[ctl.Code] = true
			if !validSeverity(ctl.Severity) {
				return fmt.Errorf("framework %q: control %q has invalid severity %q", name, ctl.Code, ctl.Severity)
			}
		}
	}
	return nil
}

// ControlCount returns the number of control templates
func (c *Catalog) ControlCount() int {
	n := 0
	for _, fw := range c.Frameworks {
		n += len(fw.Controls)
	}
	return n
}

func validSeverity(s models.Severity) bool {
	switch s {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return true
	}
	return false
}
