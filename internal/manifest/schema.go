package manifest

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const transferSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["files"],
  "properties": {
    "batch_id": {"type": "string"},
    "timestamp": {"type": "string"},
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["remote_path", "original_path"],
        "properties": {
          "remote_path": {"type": "string", "minLength": 1},
          "original_path": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

const completionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["batch_id", "timestamp", "count", "files"],
  "properties": {
    "batch_id": {"type": "string", "pattern": "^[0-9]{8}_[0-9]{6}$"},
    "timestamp": {"type": "string"},
    "count": {"type": "integer", "minimum": 0},
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["filename", "original_path", "import_time"],
        "properties": {
          "filename": {"type": "string", "minLength": 1},
          "original_path": {"type": "string", "minLength": 1},
          "import_time": {"type": "string"},
          "warning": {"type": "string"}
        }
      }
    },
    "warnings": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	schemaOnce       sync.Once
	transferSchema   *jsonschema.Schema
	completionSchema *jsonschema.Schema
	schemaCompileErr error
)

func compileSchemas() {
	compile := func(name, text string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("registering %s: %w", name, err)
		}
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", name, err)
		}
		return sch, nil
	}

	transferSchema, schemaCompileErr = compile("transfer_manifest.schema.json", transferSchemaJSON)
	if schemaCompileErr != nil {
		return
	}
	completionSchema, schemaCompileErr = compile("completion_manifest.schema.json", completionSchemaJSON)
}

func validateAgainst(sch *jsonschema.Schema, data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return sch.Validate(inst)
}

func validateTransfer(data []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaCompileErr != nil {
		return schemaCompileErr
	}
	return validateAgainst(transferSchema, data)
}

func validateCompletion(data []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaCompileErr != nil {
		return schemaCompileErr
	}
	return validateAgainst(completionSchema, data)
}
