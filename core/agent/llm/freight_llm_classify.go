package llm

import (
	"context"
	"fmt"
	"strings"

	"freight_server/core/domain"
	"freight_server/core/port/out"
)

func classifySystemPrompt() string {
	types := domain.DocumentTypes()
	labels := make([]string, len(types))
	for i, t := range types {
		labels[i] = string(t)
	}

	return `You classify freight forwarding emails into exactly one document type.

Document types:
` + strings.Join(labels, ", ") + `

Rules:
- Classify by what the attached document is, not by what the email talks about.
- A reply or forward without attachments is correspondence (request, approval, acknowledgement, notification, quotation or general_correspondence).
- Use general_correspondence when nothing else fits.

Respond with JSON only:
{
  "document_type": "one of the types above",
  "confidence": 0-100,
  "reasoning": "one sentence"
}`
}

// Classify asks the base model for a document type.
func (c *Client) Classify(ctx context.Context, req *out.ClassificationRequest) (*out.ClassificationResult, error) {
	user := fmt.Sprintf("From: %s\nSubject: %s\nAttachments: %s\n\nBody:\n%s",
		req.Sender, req.Subject, strings.Join(req.Attachments, ", "), truncateBody(req.Body, 3000))

	call := &out.OracleCall{Kind: "classify", Tier: domain.TierBase, Model: c.cfg.ClassifyModel}
	raw, err := c.completeJSON(ctx, call, classifySystemPrompt(), user)
	if err != nil {
		return nil, err
	}
	return ParseClassification(raw)
}
