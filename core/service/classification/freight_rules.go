package classification

import (
	"fmt"
	"regexp"

	"freight_server/core/domain"
)

// =============================================================================
// Deterministic Rule Classifier (Stage 1)
// =============================================================================

type compiledRule struct {
	name       string
	docType    domain.DocumentType
	confidence int
	subject    *regexp.Regexp
	attachment *regexp.Regexp
	body       *regexp.Regexp
}

// matches reports whether every configured pattern matches its input.
func (r *compiledRule) matches(in *Input) bool {
	if r.subject != nil && !r.subject.MatchString(in.Subject) {
		return false
	}
	if r.attachment != nil {
		hit := false
		for _, name := range in.Attachments {
			if r.attachment.MatchString(name) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if r.body != nil && !r.body.MatchString(in.Body) {
		return false
	}
	return true
}

// RuleClassifier evaluates ordered carrier rules, then the generic list.
type RuleClassifier struct {
	carriers map[string][]*compiledRule
	generic  []*compiledRule
}

// RuleMatch is a deterministic classification hit.
type RuleMatch struct {
	Rule         string
	Carrier      string
	DocumentType domain.DocumentType
	Confidence   int
}

// NewRuleClassifier compiles every pattern in the rule book. Patterns are case-insensitive.
func NewRuleClassifier(rules *domain.RuleBook) (*RuleClassifier, error) {
	rc := &RuleClassifier{carriers: make(map[string][]*compiledRule, len(rules.Carriers))}
	for _, carrier := range rules.Carriers {
		compiled, err := compileRules(carrier.Rules)
		if err != nil {
			return nil, fmt.Errorf("carrier %s: %w", carrier.Name, err)
		}
		rc.carriers[carrier.Name] = compiled
	}
	generic, err := compileRules(rules.Generic)
	if err != nil {
		return nil, fmt.Errorf("generic: %w", err)
	}
	rc.generic = generic
	return rc, nil
}

func compileRules(rules []domain.ClassifierRule) ([]*compiledRule, error) {
	out := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := &compiledRule{name: r.Name, docType: r.DocumentType, confidence: r.Confidence}
		var err error
		if cr.subject, err = compilePattern(r.Subject); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if cr.attachment, err = compilePattern(r.Attachment); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if cr.body, err = compilePattern(r.Body); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		out = append(out, cr)
	}
	return out, nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if p == "" {
		return nil, nil
	}
	return regexp.Compile("(?i)" + p)
}

// Match returns the first matching rule: the carrier's list in order, then the generic list.
func (rc *RuleClassifier) Match(carrier string, in *Input) (*RuleMatch, bool) {
	if carrier != "" {
		for _, r := range rc.carriers[carrier] {
			if r.matches(in) {
				return &RuleMatch{Rule: r.name, Carrier: carrier, DocumentType: r.docType, Confidence: r.confidence}, true
			}
		}
	}
	for _, r := range rc.generic {
		if r.matches(in) {
			return &RuleMatch{Rule: r.name, DocumentType: r.docType, Confidence: r.confidence}, true
		}
	}
	return nil, false
}
