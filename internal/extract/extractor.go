// Package extract adapts the external extraction capability: given image
// bytes, produce a structured product document.
package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"productocr/internal/domain"
)

// Document is the structured result of one extraction.
type Document map[string]any

// Extractor is the capability contract the processing worker depends on.
// Implementations must honor ctx for timeout and cancellation; all failures
// wrap domain.ErrCapabilityFailure so callers can fold them into the job's
// failed state without inspecting provider details.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (Document, error)
}

// productSchema constrains what the model may return. The field list comes
// from the product catalog this service feeds; additionalDetails is the
// only open-ended section.
const productSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["productName"],
	"properties": {
		"productName":       {"type": "string", "minLength": 1},
		"brand":             {"type": "string"},
		"category":          {"type": "string"},
		"price":             {"type": "string"},
		"currency":          {"type": "string"},
		"dimensions":        {"type": "string"},
		"weight":            {"type": "string"},
		"description":       {"type": "string"},
		"additionalDetails": {"type": "object"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("product.schema.json", productSchema)

// ParseDocument decodes and validates a model response payload. The schema
// check runs before any job is completed, so malformed model output surfaces
// as a capability failure rather than as corrupt results.
func ParseDocument(raw []byte) (Document, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: decode model output: %v", domain.ErrCapabilityFailure, err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: model output rejected by schema: %v", domain.ErrCapabilityFailure, err)
	}
	doc, ok := generic.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: model output is not an object", domain.ErrCapabilityFailure)
	}
	return Document(doc), nil
}
