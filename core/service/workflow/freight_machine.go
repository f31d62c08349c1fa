// Package workflow derives a shipment's lifecycle state from its linked documents.
package workflow

import (
	"time"

	"freight_server/core/domain"

	"github.com/google/uuid"
)

type ruleKey struct {
	docType   domain.DocumentType
	direction domain.Direction
}

// Candidate is the state implied by one document.
type Candidate struct {
	Rule       domain.WorkflowRule
	DocumentID uuid.UUID
	ReceivedAt time.Time
}

// Machine maps documents to states through a (type, direction) rule table.
type Machine struct {
	rules map[ruleKey]domain.WorkflowRule
}

// NewMachine indexes the rule table.
func NewMachine(rules []domain.WorkflowRule) *Machine {
	m := &Machine{rules: make(map[ruleKey]domain.WorkflowRule, len(rules))}
	for _, r := range rules {
		dir := r.Direction
		if dir == "" {
			dir = domain.DirectionAny
		}
		m.rules[ruleKey{docType: r.DocumentType, direction: dir}] = r
	}
	return m
}

// RuleFor returns the rule for a document type sent in a direction.
// An exact direction match wins over the "any" fallback.
func (m *Machine) RuleFor(docType domain.DocumentType, direction domain.Direction) (domain.WorkflowRule, bool) {
	if r, ok := m.rules[ruleKey{docType: docType, direction: direction}]; ok {
		return r, true
	}
	r, ok := m.rules[ruleKey{docType: docType, direction: domain.DirectionAny}]
	return r, ok
}

// Derive scans every eligible document and returns the highest-priority candidate.
// Equal priorities resolve by state name, then earliest document, so the result
// depends only on the document set.
func (m *Machine) Derive(docs []*domain.LinkedDocument) (*Candidate, bool) {
	var best *Candidate
	for _, d := range docs {
		if !d.Eligible() {
			continue
		}
		rule, ok := m.RuleFor(d.DocumentType, d.Direction)
		if !ok {
			continue
		}
		c := &Candidate{Rule: rule, DocumentID: d.DocumentID, ReceivedAt: d.ReceivedAt}
		if best == nil || better(c, best) {
			best = c
		}
	}
	return best, best != nil
}

func better(a, b *Candidate) bool {
	if a.Rule.Priority != b.Rule.Priority {
		return a.Rule.Priority > b.Rule.Priority
	}
	if a.Rule.State != b.Rule.State {
		return a.Rule.State < b.Rule.State
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.DocumentID.String() < b.DocumentID.String()
}

// Next compares the derived candidate with the stored state.
// It returns the state to store and the transition to record, or nil when nothing changes.
// A terminal stored state is kept unless the candidate outranks it.
func (m *Machine) Next(shipmentID uuid.UUID, current *domain.WorkflowState, derived *Candidate, source domain.TransitionSource) (*domain.WorkflowState, *domain.WorkflowTransition) {
	if derived == nil {
		return nil, nil
	}
	if current != nil {
		if current.State == derived.Rule.State {
			return nil, nil
		}
		if current.Terminal && derived.Rule.Priority <= current.Priority {
			return nil, nil
		}
	}

	now := time.Now().UTC()
	next := &domain.WorkflowState{
		ShipmentID:        shipmentID,
		State:             derived.Rule.State,
		Phase:             derived.Rule.Phase,
		Priority:          derived.Rule.Priority,
		Terminal:          derived.Rule.Terminal,
		TriggerDocType:    derived.Rule.DocumentType,
		TriggerDocumentID: derived.DocumentID,
		UpdatedAt:         now,
	}
	transition := &domain.WorkflowTransition{
		ID:                uuid.New(),
		ShipmentID:        shipmentID,
		ToState:           next.State,
		Phase:             next.Phase,
		Priority:          next.Priority,
		TriggerDocType:    next.TriggerDocType,
		TriggerDocumentID: next.TriggerDocumentID,
		Source:            source,
		TransitionedAt:    now,
	}
	if current != nil {
		transition.FromState = current.State
	}
	return next, transition
}
