package claim

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[Kind]string{
	KindConfirmation: "schemas/agree_action.json",
	KindJoinAction:   "schemas/join_action.json",
	KindOrganization: "schemas/organization.json",
	KindRegistration: "schemas/register_action.json",
	KindTenure:       "schemas/tenure.json",
	KindVote:         "schemas/vote_action.json",
}

var schemas map[Kind]*jsonschema.Schema

func init() {
	schemas = make(map[Kind]*jsonschema.Schema, len(schemaFiles))
	for kind, name := range schemaFiles {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			panic(fmt.Sprintf("claim: missing embedded schema %s: %v", name, err))
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("claim: bad schema %s: %v", name, err))
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("claim: compile schema %s: %v", name, err))
		}
		schemas[kind] = schema
	}
}

// Validate checks a recognized claim against the JSON Schema for its kind.
// KindUnknown always validates: unrecognized shapes are stored as-is.
func Validate(kind Kind, raw json.RawMessage) error {
	schema, ok := schemas[kind]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("claim: invalid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("claim: %s shape invalid: %w", kind, err)
	}
	return nil
}
