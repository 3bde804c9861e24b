package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/eventflow/errors"
)

// configSchema is the JSON schema every deployment config must satisfy
// before it is decoded. Structural checks live here; cross-field rules
// (unique ids, link targets) live in validate().
const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["version", "pipelines"],
	"properties": {
		"version": {"type": "string", "minLength": 1},
		"metrics": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"port": {"type": "integer", "minimum": 0, "maximum": 65535}
			},
			"additionalProperties": false
		},
		"pipelines": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "nodes", "links"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"queue_size": {"type": "integer", "minimum": 1},
					"tick_interval": {"type": ["string", "integer"]},
					"nodes": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["id", "type"],
							"properties": {
								"id": {"type": "string", "minLength": 1},
								"type": {"type": "string", "minLength": 1},
								"config": {"type": "object"}
							},
							"additionalProperties": false
						}
					},
					"links": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["from", "to"],
							"properties": {
								"from": {"type": "string", "minLength": 1},
								"to": {"type": "string", "minLength": 1}
							},
							"additionalProperties": false
						}
					}
				},
				"additionalProperties": false
			}
		}
	},
	"additionalProperties": false
}`

var compiledSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	if err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	compiledSchema = schema
}

// validateSchema checks a decoded YAML document against the config
// schema and folds every violation into one error.
func validateSchema(doc any) error {
	result, err := compiledSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "config", "validateSchema", "running schema validation")
	}
	if result.Valid() {
		return nil
	}
	var b strings.Builder
	b.WriteString("config does not match schema:")
	for _, desc := range result.Errors() {
		fmt.Fprintf(&b, "\n  %s: %s", desc.Field(), desc.Description())
	}
	return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateSchema", b.String())
}
