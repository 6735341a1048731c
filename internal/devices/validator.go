package devices

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/device-definition-v1.json
var deviceDefinitionSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("device-definition-v1.json",
		strings.NewReader(deviceDefinitionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("device-definition-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate checks raw JSON against the definition schema.
func (v *Validator) Validate(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// Decode validates data and unmarshals it into a definition.
func (v *Validator) Decode(data []byte) (types.DeviceDefinition, error) {
	var def types.DeviceDefinition
	if err := v.Validate(data); err != nil {
		return def, err
	}
	if err := json.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return def, nil
}

func (v *Validator) ValidateDefinition(def types.DeviceDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	return v.Validate(data)
}
