package relayer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const (
	bytes32Pattern  = "^0x[0-9a-fA-F]{64}$"
	hexBytesPattern = "^0x([0-9a-fA-F]{2})*$"
	uintPattern     = "^(0x[0-9a-fA-F]+|[0-9]+)$"
)

var uintSchema = map[string]interface{}{
	"oneOf": []interface{}{
		map[string]interface{}{"type": "integer", "minimum": 0},
		map[string]interface{}{"type": "string", "pattern": uintPattern},
	},
}

// statusSchema describes GET /api/status/{id}. Only the proof material is constrained;
// its layout has to match the signer contract's argument tuple.
var statusSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"response": map[string]interface{}{
			"type":     []interface{}{"object", "null"},
			"required": []interface{}{"templateId", "commandParams", "skippedCommandPrefix", "proof"},
			"properties": map[string]interface{}{
				"templateId": uintSchema,
				"commandParams": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string", "pattern": hexBytesPattern},
				},
				"skippedCommandPrefix": uintSchema,
				"proof": map[string]interface{}{
					"type": "object",
					"required": []interface{}{
						"domainName", "publicKeyHash", "timestamp", "maskedCommand",
						"emailNullifier", "accountSalt", "isCodeExist", "proof",
					},
					"properties": map[string]interface{}{
						"domainName":     map[string]interface{}{"type": "string"},
						"publicKeyHash":  map[string]interface{}{"type": "string", "pattern": bytes32Pattern},
						"timestamp":      uintSchema,
						"maskedCommand":  map[string]interface{}{"type": "string"},
						"emailNullifier": map[string]interface{}{"type": "string", "pattern": bytes32Pattern},
						"accountSalt":    map[string]interface{}{"type": "string", "pattern": bytes32Pattern},
						"isCodeExist":    map[string]interface{}{"type": "boolean"},
						"proof":          map[string]interface{}{"type": "string", "pattern": hexBytesPattern},
					},
				},
			},
		},
	},
}

var (
	compiledStatusSchema *gojsonschema.Schema
	compileErr           error
	compileOnce          sync.Once
)

func statusValidator() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledStatusSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(statusSchema))
		if compileErr != nil {
			compileErr = fmt.Errorf("failed to compile status schema: %w", compileErr)
		}
	})
	return compiledStatusSchema, compileErr
}

// ValidateStatusPayload checks a raw status body against the proof material layout
func ValidateStatusPayload(body []byte) error {
	schema, err := statusValidator()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("status validation failed: %w", err)
	}
	if !result.Valid() {
		var b strings.Builder
		for i, desc := range result.Errors() {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(desc.String())
		}
		return fmt.Errorf("malformed proof material: %s", b.String())
	}
	return nil
}
