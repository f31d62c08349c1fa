package llm

import (
	"context"
	"fmt"
	"strings"

	"freight_server/core/domain"
	"freight_server/core/port/out"
)

func extractSystemPrompt(docType domain.DocumentType) string {
	return `You extract shipment data from a freight document of type "` + string(docType) + `".

Fields (omit any that are not stated in the document):
` + strings.Join(domain.ExtractableFields, ", ") + `

Rules:
- Copy identifiers exactly as written. List several container numbers separated by commas.
- Dates as YYYY-MM-DD. Never guess a year that is not in the document.
- Do not infer values from other shipments or from the email signature.

Respond with JSON only:
{
  "fields": {
    "field_name": {"value": "text", "confidence": 0-100}
  }
}`
}

// Extract asks the model of the requested tier for shipment fields.
func (c *Client) Extract(ctx context.Context, req *out.ExtractionRequest) (*out.ExtractionResult, error) {
	tier := req.Tier
	if tier == "" {
		tier = domain.TierBase
	}
	model := c.ModelFor(tier)

	call := &out.OracleCall{DocumentID: req.DocumentID, Kind: "extract", Tier: tier, Model: model}
	raw, err := c.completeJSON(ctx, call, extractSystemPrompt(req.DocumentType), truncateBody(req.Content, 12000))
	if err != nil {
		return nil, err
	}

	fields, err := ParseExtraction(raw)
	if err != nil {
		return nil, fmt.Errorf("extract %s with %s: %w", req.DocumentID, model, err)
	}
	return &out.ExtractionResult{Fields: fields, Tier: tier, Model: model}, nil
}
