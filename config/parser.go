package config

import (
	"gopkg.in/yaml.v3"

	"github.com/hivedb-io/hivesync/types"
)

// Parser indexes a configuration tree by dot path. The tree is
// flattened once at construction, so lookups are plain map hits and
// intermediate nodes stay addressable for section-wide GetAs calls.
type Parser struct {
	index map[string]interface{}
}

func NewParser(config *types.Config) *Parser {
	p := &Parser{index: make(map[string]interface{})}

	raw, err := yaml.Marshal(config)
	if err != nil {
		return p
	}

	tree := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return p
	}

	p.flatten("", tree)
	return p
}

func (p *Parser) flatten(path string, node interface{}) {
	p.index[path] = node

	if branch, ok := node.(map[string]interface{}); ok {
		for key, child := range branch {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			p.flatten(childPath, child)
		}
	}
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	value, ok := p.index[path]
	if !ok || value == nil {
		return defaultValue
	}
	return value
}

func (p *Parser) GetAs(path string, target interface{}) error {
	value, ok := p.index[path]
	if !ok || value == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	raw, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal config value")
	}

	if err := yaml.Unmarshal(raw, target); err != nil {
		return types.WrapError(err, "failed to unmarshal config value")
	}

	return nil
}
