package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const caip2Pattern = `^[-a-z0-9]{3,8}:[-_a-zA-Z0-9]{1,32}$`

const payloadV1Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["scheme", "network", "payload"],
	"properties": {
		"x402Version": {"enum": [1]},
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": ["string", "integer"], "minLength": 1, "minimum": 1},
		"payload": {"type": "object"}
	}
}`

const requirementsV1Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["scheme", "network", "maxAmountRequired", "payTo", "asset"],
	"properties": {
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": ["string", "integer"], "minLength": 1, "minimum": 1},
		"maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
		"payTo": {"type": "string", "minLength": 1},
		"asset": {"type": "string", "minLength": 1},
		"maxTimeoutSeconds": {"type": "integer", "minimum": 0}
	}
}`

var payloadV2Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["payload"],
	"properties": {
		"x402Version": {"enum": [2]},
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": "string", "pattern": "` + caip2Pattern + `"},
		"payload": {"type": "object"},
		"accepted": {
			"type": "object",
			"properties": {
				"scheme": {"type": "string", "minLength": 1},
				"network": {"type": "string", "pattern": "` + caip2Pattern + `"}
			}
		}
	}
}`

var requirementsV2Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["scheme", "network", "amount", "payTo", "asset"],
	"properties": {
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": "string", "pattern": "` + caip2Pattern + `"},
		"amount": {"type": "string", "pattern": "^[0-9]+$"},
		"payTo": {"type": "string", "minLength": 1},
		"asset": {"type": "string", "minLength": 1},
		"maxTimeoutSeconds": {"type": "integer", "minimum": 0}
	}
}`

var (
	payloadV1Validator      = mustSchema(payloadV1Schema)
	requirementsV1Validator = mustSchema(requirementsV1Schema)
	payloadV2Validator      = mustSchema(payloadV2Schema)
	requirementsV2Validator = mustSchema(requirementsV2Schema)
)

func mustSchema(schema string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("types: invalid wire schema: %v", err))
	}
	return compiled
}

// validateShape checks data against schema and reports the first offending
// field, prefixed with the document name.
func validateShape(schema *gojsonschema.Schema, document string, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fieldError(document, "invalid JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	sort.SliceStable(errs, func(i, j int) bool {
		return errorField(errs[i]) < errorField(errs[j])
	})
	first := errs[0]
	return &FieldError{
		Field:  document + "." + errorField(first),
		Reason: first.Description(),
	}
}

func errorField(e gojsonschema.ResultError) string {
	field := e.Field()
	if e.Type() == "required" {
		if property, ok := e.Details()["property"].(string); ok {
			if field == gojsonschema.STRING_CONTEXT_ROOT || field == "" {
				return property
			}
			return field + "." + property
		}
	}
	return strings.TrimPrefix(field, gojsonschema.STRING_CONTEXT_ROOT+".")
}
