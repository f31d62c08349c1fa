// Package thread anchors multi-email conversations to one shipment identifier.
package thread

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"freight_server/core/domain"
	"freight_server/core/port/out"

	"github.com/google/uuid"
)

// Identifier is one identifier observation carried by an email.
type Identifier struct {
	Kind       domain.IdentifierKind
	Value      string
	Confidence int
}

// Email is the view of a thread member used for authority resolution.
type Email struct {
	DocumentID  uuid.UUID
	IsReply     bool
	ReceivedAt  time.Time
	Identifiers []Identifier
}

// Resolve picks the thread authority: originals before replies, then oldest first,
// and the first email carrying any identifier wins. Within that email the strongest
// identifier kind wins, then the higher confidence.
func Resolve(threadID string, emails []*Email) (*domain.ThreadAuthority, bool) {
	sorted := make([]*Email, len(emails))
	copy(sorted, emails)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.IsReply != b.IsReply {
			return !a.IsReply
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.DocumentID.String() < b.DocumentID.String()
	})

	for _, e := range sorted {
		best, ok := strongest(e.Identifiers)
		if !ok {
			continue
		}
		return &domain.ThreadAuthority{
			ThreadID:            threadID,
			AuthorityDocumentID: e.DocumentID,
			IdentifierKind:      best.Kind,
			IdentifierValue:     best.Value,
			Confidence:          best.Confidence,
			ComputedAt:          time.Now().UTC(),
		}, true
	}
	return nil, false
}

func strongest(ids []Identifier) (Identifier, bool) {
	var best Identifier
	found := false
	for _, id := range ids {
		if strings.TrimSpace(id.Value) == "" || id.Kind.Rank() >= len(domain.IdentifierPriority) {
			continue
		}
		if !found ||
			id.Kind.Rank() < best.Kind.Rank() ||
			(id.Kind == best.Kind && id.Confidence > best.Confidence) ||
			(id.Kind == best.Kind && id.Confidence == best.Confidence && id.Value < best.Value) {
			best = id
			found = true
		}
	}
	return best, found
}

// identifiersOf turns identifier observations into thread identifiers.
// Container fields contribute one identifier per container.
func identifiersOf(obs []*domain.ExtractedField) []Identifier {
	var ids []Identifier
	for _, f := range obs {
		if f.Resolution == domain.ResolutionRejected {
			continue
		}
		kind := domain.IdentifierKind(f.FieldName)
		if kind.Rank() >= len(domain.IdentifierPriority) {
			continue
		}
		if kind == domain.IdentifierContainer {
			for _, c := range domain.SplitContainers(f.Value) {
				ids = append(ids, Identifier{Kind: kind, Value: c, Confidence: f.Confidence})
			}
			continue
		}
		ids = append(ids, Identifier{Kind: kind, Value: strings.ToUpper(strings.TrimSpace(f.Value)), Confidence: f.Confidence})
	}
	return ids
}

// =============================================================================
// Repair Planner
// =============================================================================

// Store is the persistence surface the planner reads.
type Store interface {
	out.DocumentRepository
	out.FieldRepository
	out.ShipmentRepository
	out.LinkRepository
	out.ThreadRepository
}

// Planner computes thread authorities and the link corrections they imply.
type Planner struct {
	store Store
}

// NewPlanner creates a Planner.
func NewPlanner(store Store) *Planner {
	return &Planner{store: store}
}

// Plan resolves and persists the authority for threadID and returns one correction
// per reply whose link is missing or points at a different shipment. The corrections
// are not applied.
func (p *Planner) Plan(ctx context.Context, threadID string) (*domain.ThreadAuthority, []*domain.LinkCorrection, error) {
	docs, err := p.store.ListByThread(ctx, threadID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list thread documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil, nil
	}

	ids := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	obs, err := p.store.ListByDocuments(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list thread observations: %w", err)
	}
	byDoc := make(map[uuid.UUID][]*domain.ExtractedField, len(docs))
	for _, f := range obs {
		byDoc[f.DocumentID] = append(byDoc[f.DocumentID], f)
	}

	emails := make([]*Email, 0, len(docs))
	for _, d := range docs {
		emails = append(emails, &Email{
			DocumentID:  d.ID,
			IsReply:     d.IsReply,
			ReceivedAt:  d.ReceivedAt,
			Identifiers: identifiersOf(byDoc[d.ID]),
		})
	}

	authority, ok := Resolve(threadID, emails)
	if !ok {
		return nil, nil, nil
	}
	if err := p.store.UpsertAuthority(ctx, authority); err != nil {
		return nil, nil, fmt.Errorf("failed to save thread authority: %w", err)
	}

	target, err := p.targetShipment(ctx, authority)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return authority, nil, nil
	}

	var corrections []*domain.LinkCorrection
	for _, d := range docs {
		if !d.IsReply || d.ID == authority.AuthorityDocumentID {
			continue
		}
		link, err := p.store.GetLink(ctx, d.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get link: %w", err)
		}
		if link != nil && link.ShipmentID == target.ID {
			continue
		}
		c := &domain.LinkCorrection{
			ID:              uuid.New(),
			DocumentID:      d.ID,
			ThreadID:        threadID,
			ToShipmentID:    target.ID,
			IdentifierKind:  authority.IdentifierKind,
			IdentifierValue: authority.IdentifierValue,
			CorrectedAt:     time.Now().UTC(),
		}
		if link != nil {
			from := link.ShipmentID
			c.FromShipmentID = &from
		}
		corrections = append(corrections, c)
	}
	return authority, corrections, nil
}

// targetShipment finds the shipment the authority identifier points at.
// Reference numbers do not key shipments, so they follow the authority document's link.
func (p *Planner) targetShipment(ctx context.Context, a *domain.ThreadAuthority) (*domain.Shipment, error) {
	var (
		sh  *domain.Shipment
		err error
	)
	switch a.IdentifierKind {
	case domain.IdentifierBooking:
		sh, err = p.store.FindByBooking(ctx, a.IdentifierValue)
	case domain.IdentifierBL:
		sh, err = p.store.FindByBL(ctx, a.IdentifierValue)
	case domain.IdentifierContainer:
		sh, err = p.store.FindByContainer(ctx, a.IdentifierValue)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find shipment by %s: %w", a.IdentifierKind, err)
	}
	if sh != nil {
		return sh, nil
	}

	link, err := p.store.GetLink(ctx, a.AuthorityDocumentID)
	if err != nil || link == nil {
		return nil, err
	}
	return p.store.GetShipment(ctx, link.ShipmentID)
}
