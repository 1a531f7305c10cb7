package tools

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Injected && param.Backfill {
			return fmt.Errorf("parameter %s cannot be both injected and backfilled", param.Name)
		}
	}

	return nil
}

func paramSchema(param Parameter) map[string]any {
	schema := map[string]any{
		"type":        param.Type,
		"description": param.Description,
	}
	if param.Type == "array" && param.Items != nil {
		schema["items"] = param.Items
	}
	return schema
}

// validationSchema covers every parameter, injected ones included.
func validationSchema(def Definition) map[string]any {
	return buildSchema(def, true)
}

// modelSchema is what the model sees: injected parameters are left out.
func modelSchema(def Definition) map[string]any {
	return buildSchema(def, false)
}

func buildSchema(def Definition, withInjected bool) map[string]any {
	properties := map[string]any{}
	required := []string{}

	for _, param := range def.Parameters {
		if param.Injected && !withInjected {
			continue
		}
		properties[param.Name] = paramSchema(param)
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateArguments(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := []string{}
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return nil
}
