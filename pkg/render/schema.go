package render

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/document.schema.json
var documentSchema string

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

func getCompiledSchema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		var schemaDoc any
		if err := json.Unmarshal([]byte(documentSchema), &schemaDoc); err != nil {
			compileErr = fmt.Errorf("render: parse embedded document schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		const url = "https://sdqctl.dev/schemas/document.schema.json"
		if err := c.AddResource(url, schemaDoc); err != nil {
			compileErr = fmt.Errorf("render: add document schema resource: %w", err)
			return
		}

		schema, err := c.Compile(url)
		if err != nil {
			compileErr = fmt.Errorf("render: compile document schema: %w", err)
			return
		}
		compiled = schema
	})
	return compiled, compileErr
}

// ValidateSchema validates raw document JSON against the embedded
// schema, independent of the schema_version major-component check
// Parse additionally performs.
func ValidateSchema(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("render: document is not valid JSON: %w", err)
	}

	schema, err := getCompiledSchema()
	if err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("render: document does not conform to schema:\n%s", formatValidationError(ve))
		}
		return fmt.Errorf("render: document validation failed: %w", err)
	}
	return nil
}

func formatValidationError(ve *jsonschema.ValidationError) string {
	var sb strings.Builder
	sb.WriteString("  - ")
	sb.WriteString(ve.Error())
	for _, cause := range ve.Causes {
		sb.WriteString("\n    - ")
		sb.WriteString(cause.Error())
	}
	return sb.String()
}
