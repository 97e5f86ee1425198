package http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/qntx/x402"
	"github.com/qntx/x402/types"
)

// JSON schemas for the two payment payload wire shapes. Numeric amounts,
// validity times and nonces are strings on the wire, so the schemas pin
// them down as strings where they surface at this level.
const paymentPayloadSchemaV2 = `{
	"type": "object",
	"required": ["x402Version", "payload", "accepted"],
	"properties": {
		"x402Version": {"const": 2},
		"payload": {"type": "object"},
		"accepted": {
			"type": "object",
			"required": ["scheme", "network", "asset", "amount", "payTo"],
			"properties": {
				"scheme": {"type": "string", "minLength": 1},
				"network": {"type": "string", "pattern": "^[-a-z0-9]{3,8}:[-_a-zA-Z0-9]{1,32}$"},
				"asset": {"type": "string", "minLength": 1},
				"amount": {"type": "string", "pattern": "^[0-9]+$"},
				"payTo": {"type": "string", "minLength": 1},
				"maxTimeoutSeconds": {"type": "integer", "minimum": 0},
				"extra": {"type": "object"}
			}
		},
		"resource": {
			"type": "object",
			"required": ["url"],
			"properties": {
				"url": {"type": "string"},
				"description": {"type": "string"},
				"mimeType": {"type": "string"}
			}
		},
		"extensions": {"type": "object"}
	}
}`

const paymentPayloadSchemaV1 = `{
	"type": "object",
	"required": ["x402Version", "scheme", "network", "payload"],
	"properties": {
		"x402Version": {"const": 1},
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": "string", "minLength": 1},
		"payload": {"type": "object"}
	}
}`

var (
	payloadSchemaV2 = gojsonschema.NewStringLoader(paymentPayloadSchemaV2)
	payloadSchemaV1 = gojsonschema.NewStringLoader(paymentPayloadSchemaV1)
)

// ValidatePayloadBytes checks decoded payment header bytes against the wire
// schema for their protocol version.
func ValidatePayloadBytes(payloadBytes []byte) error {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return err
	}

	schema := payloadSchemaV2
	if version == x402.ProtocolVersionV1 {
		schema = payloadSchemaV1
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(payloadBytes))
	if err != nil {
		return fmt.Errorf("%s: %w", x402.ReasonInvalidFormat, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("%s: %s", x402.ReasonInvalidFormat, strings.Join(problems, "; "))
	}
	return nil
}
