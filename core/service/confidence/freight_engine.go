// Package confidence maps classification confidence to review and escalation actions.
package confidence

import (
	"freight_server/core/domain"
)

// Engine decides what happens to a classified document.
type Engine struct {
	policy domain.ConfidencePolicy
}

// DefaultPolicy returns the thresholds used when the rule book omits them.
func DefaultPolicy() domain.ConfidencePolicy {
	return domain.ConfidencePolicy{
		CommunicationAccept: 85,
		CriticalAccept:      85,
		CriticalSonnetFloor: 55,
		Default:             domain.TypeThreshold{Accept: 85, Review: 60},
	}
}

// NewEngine creates an Engine. Zero thresholds fall back to DefaultPolicy.
func NewEngine(policy domain.ConfidencePolicy) *Engine {
	def := DefaultPolicy()
	if policy.CommunicationAccept == 0 {
		policy.CommunicationAccept = def.CommunicationAccept
	}
	if policy.CriticalAccept == 0 {
		policy.CriticalAccept = def.CriticalAccept
	}
	if policy.CriticalSonnetFloor == 0 {
		policy.CriticalSonnetFloor = def.CriticalSonnetFloor
	}
	if policy.Default.Accept == 0 {
		policy.Default = def.Default
	}
	return &Engine{policy: policy}
}

// Decide returns the action for a document type, a 0-100 confidence and the
// completeness (0-1) of its extracted fields.
//
// Type category dominates the score: communication types never escalate,
// critical types always escalate below the accept line, and everything else
// follows its configured per-type threshold.
func (e *Engine) Decide(docType domain.DocumentType, confidence int, completeness float64) domain.ReviewAction {
	confidence = clamp(confidence)

	switch {
	case docType.IsCommunication():
		if confidence < e.policy.CommunicationAccept {
			return domain.ActionFlagReview
		}
		return domain.ActionAccept

	case docType.IsCritical():
		if confidence >= e.policy.CriticalAccept {
			return domain.ActionAccept
		}
		if confidence >= e.policy.CriticalSonnetFloor {
			return domain.ActionEscalateSonnet
		}
		return domain.ActionEscalateOpus

	default:
		th := e.policy.ThresholdFor(docType)
		if confidence >= th.Accept {
			if th.MinCompleteness > 0 && completeness < th.MinCompleteness {
				return domain.ActionFlagReview
			}
			return domain.ActionAccept
		}
		if confidence >= th.Review {
			return domain.ActionFlagReview
		}
		return domain.ActionEscalateSonnet
	}
}

// Completeness returns the share of required fields present for docType.
// Types without required fields are complete.
func (e *Engine) Completeness(docType domain.DocumentType, fields map[string]string) float64 {
	required := e.policy.RequiredFields[docType]
	if len(required) == 0 {
		return 1
	}
	present := 0
	for _, name := range required {
		if v, ok := fields[name]; ok && v != "" {
			present++
		}
	}
	return float64(present) / float64(len(required))
}

// TierFor maps an escalation action to the extraction tier it requests.
func TierFor(action domain.ReviewAction) domain.ExtractionTier {
	switch action {
	case domain.ActionEscalateSonnet:
		return domain.TierMid
	case domain.ActionEscalateOpus:
		return domain.TierTop
	default:
		return domain.TierBase
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
