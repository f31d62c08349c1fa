package classification

import (
	"context"
	"regexp"

	"freight_server/core/domain"
	"freight_server/core/port/out"
	"freight_server/pkg/logger"
)

// GuardConfidence is assigned when the correspondence guard rewrites a result.
const GuardConfidence = 90

var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fw|fwd)\s*:`)

// Input is what the classifier sees of a message.
type Input struct {
	Subject     string
	Sender      string
	InReplyTo   string
	Attachments []string
	Body        string
}

// IsReplyOrForward reports whether the message continues an earlier one.
func (in *Input) IsReplyOrForward() bool {
	return in.InReplyTo != "" || replyPrefix.MatchString(in.Subject)
}

// Result is the classifier decision before confidence policy is applied.
type Result struct {
	DocumentType   domain.DocumentType
	Confidence     int
	Method         domain.ClassificationMethod
	MatchedRule    string
	Carrier        string
	Reasoning      string
	SenderCategory domain.SenderCategory
	Direction      domain.Direction
	IsReply        bool
}

// Classifier runs sender categorization, deterministic rules, the oracle fallback and the guard.
type Classifier struct {
	senders *SenderCategorizer
	rules   *RuleClassifier
	oracle  out.ClassificationOracle
}

// NewClassifier compiles the rule book. oracle may be nil, in which case
// unmatched messages fall back to general correspondence.
func NewClassifier(rules *domain.RuleBook, oracle out.ClassificationOracle) (*Classifier, error) {
	rc, err := NewRuleClassifier(rules)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		senders: NewSenderCategorizer(rules),
		rules:   rc,
		oracle:  oracle,
	}, nil
}

// Classify never fails on oracle errors: the message degrades to general
// correspondence with zero confidence so that review picks it up.
func (c *Classifier) Classify(ctx context.Context, in *Input) (*Result, error) {
	category, carrier, direction := c.senders.Categorize(in.Sender)
	res := &Result{
		SenderCategory: category,
		Carrier:        carrier,
		Direction:      direction,
		IsReply:        in.IsReplyOrForward(),
	}

	if m, ok := c.rules.Match(carrier, in); ok {
		res.DocumentType = m.DocumentType
		res.Confidence = m.Confidence
		res.Method = domain.MethodRule
		res.MatchedRule = m.Rule
	} else if err := c.classifyWithOracle(ctx, in, res); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.WithError(err).WithField("sender", in.Sender).Warn("[Classifier.Classify] oracle fallback failed")
		res.DocumentType = domain.DocGeneralCorrespondence
		res.Confidence = 0
		res.Method = domain.MethodDefault
		res.Reasoning = err.Error()
	}

	c.guard(in, res)
	return res, nil
}

func (c *Classifier) classifyWithOracle(ctx context.Context, in *Input, res *Result) error {
	if c.oracle == nil {
		return domain.ErrOracleUnavailable
	}
	answer, err := c.oracle.Classify(ctx, &out.ClassificationRequest{
		Subject:     in.Subject,
		Sender:      in.Sender,
		Attachments: in.Attachments,
		Body:        in.Body,
	})
	if err != nil {
		return err
	}

	res.Method = domain.MethodLLM
	res.Reasoning = answer.Reasoning
	docType, ok := domain.ParseDocumentType(answer.DocumentType)
	if !ok {
		logger.WithField("label", answer.DocumentType).Warn("[Classifier.Classify] %v", domain.ErrUnknownDocumentType)
		res.DocumentType = domain.DocGeneralCorrespondence
		res.Confidence = 0
		return nil
	}
	res.DocumentType = docType
	res.Confidence = clampScore(answer.Confidence)
	return nil
}

// guard keeps attachment-less replies and forwards out of attachment-bearing types.
func (c *Classifier) guard(in *Input, res *Result) {
	if !res.IsReply || len(in.Attachments) > 0 || !res.DocumentType.CarriesAttachment() {
		return
	}
	res.Reasoning = "reply without attachment, was " + string(res.DocumentType)
	res.DocumentType = domain.DocGeneralCorrespondence
	res.Confidence = GuardConfidence
	res.Method = domain.MethodGuard
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
