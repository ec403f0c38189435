package config

import (
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

// Parser resolves dotted paths ("storage.config.bucket",
// "sandbox.env_allowlist.0") against the JSON view of a loaded
// configuration. Components decode their own blocks through GetAs so they
// never share a pointer with the manager.
type Parser struct {
	tree map[string]interface{}
}

func NewParser(config *types.ServiceConfig) *Parser {
	tree := make(map[string]interface{})
	if config != nil {
		if err := utils.UnmarshalConfig(config, &tree); err != nil {
			tree = make(map[string]interface{})
		}
	}
	return &Parser{tree: tree}
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	if value, ok := p.lookup(path); ok {
		return value
	}
	return defaultValue
}

// GetAs decodes the block at path into target, which must be a pointer.
func (p *Parser) GetAs(path string, target interface{}) error {
	value, ok := p.lookup(path)
	if !ok {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	raw, err := utils.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to encode config block")
	}

	if err = sonic.ConfigDefault.Unmarshal(raw, target); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "path %s: %v", path, err)
	}

	return nil
}

func (p *Parser) lookup(path string) (interface{}, bool) {
	var node interface{} = p.tree
	if path == "" {
		return node, true
	}

	for _, key := range strings.Split(path, ".") {
		switch branch := node.(type) {
		case map[string]interface{}:
			next, ok := branch[key]
			if !ok {
				return nil, false
			}
			node = next
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(branch) {
				return nil, false
			}
			node = branch[idx]
		default:
			return nil, false
		}
	}

	return node, node != nil
}
