package spec

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenRVCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/spec-catalog-v1.json
var catalogSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("spec-catalog-v1.json",
		strings.NewReader(catalogSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("spec-catalog-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateJSON validates a JSON-encoded catalog document.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ValidateCatalog checks the parsed catalog against the schema and resolves
// alias references.
func (v *Validator) ValidateCatalog(catalog types.Catalog) error {
	data, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	if err := v.ValidateJSON(data); err != nil {
		return err
	}

	for dgn, msg := range catalog {
		if msg.Alias == "" {
			continue
		}
		if _, ok := catalog.Lookup(msg.Alias); !ok {
			return fmt.Errorf("dgn %s (%s): alias %s not in catalog", dgn, msg.Name, msg.Alias)
		}
	}

	return nil
}
