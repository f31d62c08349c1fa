package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"freight_server/core/domain"

	"gopkg.in/yaml.v3"
)

//go:embed freight_rules.yaml
var defaultRules []byte

// LoadRules reads the rule book at path, or the embedded default when path is empty.
func LoadRules(path string) (*domain.RuleBook, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules %s: %w", path, err)
		}
		data = b
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule book. Unknown keys are rejected.
func ParseRules(data []byte) (*domain.RuleBook, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rules domain.RuleBook
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRules, err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}
