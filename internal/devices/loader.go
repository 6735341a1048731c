package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"gopkg.in/yaml.v3"
)

// DefinitionLoader reads device definition files (JSON or YAML) from a set of
// directories. A file holds one definition or a list of them.
type DefinitionLoader struct {
	validator   *Validator
	searchPaths []string
}

func NewDefinitionLoader(searchPaths []string) (*DefinitionLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &DefinitionLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *DefinitionLoader) Validator() *Validator {
	return l.validator
}

// LoadAll loads every *.json, *.yaml and *.yml file in the search paths.
// Missing directories are skipped.
func (l *DefinitionLoader) LoadAll() ([]types.DeviceDefinition, error) {
	var defs []types.DeviceDefinition
	seen := make(map[string]string)

	for _, dir := range l.searchPaths {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && isDefinitionFile(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, name)
			fileDefs, err := l.LoadFile(path)
			if err != nil {
				return nil, err
			}
			for _, def := range fileDefs {
				if prev, dup := seen[def.Name]; dup {
					return nil, fmt.Errorf("device %s defined in %s and %s", def.Name, prev, path)
				}
				seen[def.Name] = path
				defs = append(defs, def)
			}
		}
	}

	return defs, nil
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads and validates one definition file.
func (l *DefinitionLoader) LoadFile(path string) ([]types.DeviceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// YAML is a superset of JSON, so both go through the same decoder and
	// are validated as JSON afterwards.
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var items []interface{}
	switch v := doc.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		if list, ok := v["devices"].([]interface{}); ok && len(v) == 1 {
			items = list
		} else {
			items = []interface{}{v}
		}
	default:
		return nil, fmt.Errorf("%s: expected a definition object or list", path)
	}

	defs := make([]types.DeviceDefinition, 0, len(items))
	for i, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", path, i, err)
		}
		def, err := l.validator.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("validation failed for %s[%d]: %w", path, i, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
