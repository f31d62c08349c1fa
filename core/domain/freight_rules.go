package domain

import (
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// Rule Book (versioned, externally loaded)
// =============================================================================

// RuleBook is the full set of tunable tables driving classification, escalation,
// authority, workflow and the temporal guard.
type RuleBook struct {
	Version    string           `yaml:"version" json:"version"`
	Senders    SenderRules      `yaml:"senders" json:"senders"`
	Carriers   []CarrierRules   `yaml:"carriers" json:"carriers"`
	Generic    []ClassifierRule `yaml:"generic" json:"generic"`
	Confidence ConfidencePolicy `yaml:"confidence" json:"confidence"`
	Authority  AuthorityTable   `yaml:"authority" json:"authority"`
	Workflow   []WorkflowRule   `yaml:"workflow" json:"workflow"`
	Temporal   TemporalBounds   `yaml:"temporal" json:"temporal"`
}

// SenderRules categorizes sender domains that are not carriers.
type SenderRules struct {
	InternalDomains []string `yaml:"internal_domains" json:"internal_domains"`
	CustomerDomains []string `yaml:"customer_domains" json:"customer_domains"`
}

// CarrierRules is the ordered rule list for one carrier identity.
type CarrierRules struct {
	Name    string           `yaml:"name" json:"name"`
	Domains []string         `yaml:"domains" json:"domains"`
	Rules   []ClassifierRule `yaml:"rules" json:"rules"`
}

// ClassifierRule matches when every non-empty pattern matches its input.
type ClassifierRule struct {
	Name         string       `yaml:"name" json:"name"`
	DocumentType DocumentType `yaml:"document_type" json:"document_type"`
	Subject      string       `yaml:"subject,omitempty" json:"subject,omitempty"`
	Attachment   string       `yaml:"attachment,omitempty" json:"attachment,omitempty"`
	Body         string       `yaml:"body,omitempty" json:"body,omitempty"`
	Confidence   int          `yaml:"confidence" json:"confidence"`
}

// ConfidencePolicy holds the thresholds used by the escalation engine.
type ConfidencePolicy struct {
	CommunicationAccept int                            `yaml:"communication_accept" json:"communication_accept"`
	CriticalAccept      int                            `yaml:"critical_accept" json:"critical_accept"`
	CriticalSonnetFloor int                            `yaml:"critical_sonnet_floor" json:"critical_sonnet_floor"`
	Default             TypeThreshold                  `yaml:"default" json:"default"`
	Types               map[DocumentType]TypeThreshold `yaml:"types" json:"types"`
	RequiredFields      map[DocumentType][]string      `yaml:"required_fields" json:"required_fields"`
}

// TypeThreshold: score >= Accept accepts, score >= Review flags, lower escalates to the mid tier.
type TypeThreshold struct {
	Accept          int     `yaml:"accept" json:"accept"`
	Review          int     `yaml:"review" json:"review"`
	MinCompleteness float64 `yaml:"min_completeness" json:"min_completeness"`
}

// ThresholdFor returns the per-type threshold or the default.
func (p ConfidencePolicy) ThresholdFor(t DocumentType) TypeThreshold {
	if th, ok := p.Types[t]; ok {
		return th
	}
	return p.Default
}

// AuthorityTable ranks document types per field. Higher wins.
type AuthorityTable struct {
	Defaults map[DocumentType]int            `yaml:"defaults" json:"defaults"`
	Fields   map[string]map[DocumentType]int `yaml:"fields" json:"fields"`
}

// Level returns the authority of docType for field, falling back to the type default.
func (t AuthorityTable) Level(field string, docType DocumentType) int {
	if perType, ok := t.Fields[field]; ok {
		if level, ok := perType[docType]; ok {
			return level
		}
	}
	return t.Defaults[docType]
}

// WorkflowRule maps (document type, direction) to a lifecycle candidate.
type WorkflowRule struct {
	DocumentType DocumentType `yaml:"document_type" json:"document_type"`
	Direction    Direction    `yaml:"direction" json:"direction"`
	State        string       `yaml:"state" json:"state"`
	Phase        Phase        `yaml:"phase" json:"phase"`
	Priority     int          `yaml:"priority" json:"priority"`
	Terminal     bool         `yaml:"terminal,omitempty" json:"terminal,omitempty"`
}

// TemporalBounds rejects extracted dates outside the collection window.
type TemporalBounds struct {
	DataCollectionStart string `yaml:"data_collection_start" json:"data_collection_start"`
	MaxFutureDays       int    `yaml:"max_future_days" json:"max_future_days"`
}

// Start parses DataCollectionStart. A zero time disables the lower bound.
func (b TemporalBounds) Start() (time.Time, error) {
	if b.DataCollectionStart == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", b.DataCollectionStart)
}

// Validate checks that the rule book is internally consistent.
func (r *RuleBook) Validate() error {
	if r.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidRules)
	}

	check := func(scope string, rules []ClassifierRule) error {
		for _, rule := range rules {
			if _, ok := ParseDocumentType(string(rule.DocumentType)); !ok {
				return fmt.Errorf("%w: %s rule %q: %s: %q", ErrInvalidRules, scope, rule.Name, ErrUnknownDocumentType, rule.DocumentType)
			}
			if rule.Subject == "" && rule.Attachment == "" && rule.Body == "" {
				return fmt.Errorf("%w: %s rule %q has no pattern", ErrInvalidRules, scope, rule.Name)
			}
			for _, p := range []string{rule.Subject, rule.Attachment, rule.Body} {
				if p == "" {
					continue
				}
				if _, err := regexp.Compile(p); err != nil {
					return fmt.Errorf("%w: %s rule %q: %v", ErrInvalidRules, scope, rule.Name, err)
				}
			}
		}
		return nil
	}

	for _, c := range r.Carriers {
		if err := check(c.Name, c.Rules); err != nil {
			return err
		}
	}
	if err := check("generic", r.Generic); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(r.Workflow))
	for _, w := range r.Workflow {
		if _, ok := ParseDocumentType(string(w.DocumentType)); !ok {
			return fmt.Errorf("%w: workflow: %s: %q", ErrInvalidRules, ErrUnknownDocumentType, w.DocumentType)
		}
		switch w.Direction {
		case DirectionInbound, DirectionOutbound, DirectionAny:
		default:
			return fmt.Errorf("%w: workflow %s: bad direction %q", ErrInvalidRules, w.DocumentType, w.Direction)
		}
		key := string(w.DocumentType) + "/" + string(w.Direction)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: workflow key %s declared twice", ErrInvalidRules, key)
		}
		seen[key] = struct{}{}
	}

	if _, err := r.Temporal.Start(); err != nil {
		return fmt.Errorf("%w: temporal.data_collection_start: %v", ErrInvalidRules, err)
	}
	return nil
}
