// Package authority resolves conflicting field values across documents of one shipment.
package authority

import (
	"sort"
	"time"

	"freight_server/core/domain"

	"github.com/google/uuid"
)

// Resolver applies field-granular authority rules.
type Resolver struct {
	table domain.AuthorityTable
}

// NewResolver creates a Resolver over an authority table.
func NewResolver(table domain.AuthorityTable) *Resolver {
	return &Resolver{table: table}
}

// Level returns the authority of docType for field.
func (r *Resolver) Level(field string, docType domain.DocumentType) int {
	return r.table.Level(field, docType)
}

// Rank returns p with the level the current table gives its document type for field.
// Levels recorded on stored rows are never trusted.
func (r *Resolver) Rank(field string, p domain.Provenance) domain.Provenance {
	p.AuthorityLevel = r.Level(field, p.DocumentType)
	return p
}

// Decide reports whether incoming may replace current.
// An unset field always accepts; otherwise the incoming observation must outrank the owner.
func (r *Resolver) Decide(current *domain.ShipmentField, incoming *domain.ExtractedField) domain.Resolution {
	if current == nil {
		return domain.ResolutionAccepted
	}
	if current.DocumentID == incoming.DocumentID {
		return domain.ResolutionAccepted
	}
	if r.Rank(incoming.FieldName, incoming.Provenance).Outranks(r.Rank(current.FieldName, current.Provenance)) {
		return domain.ResolutionAccepted
	}
	return domain.ResolutionDiscarded
}

// Resolve replays observations and returns the winning value per field.
// The result does not depend on the order of observations.
func (r *Resolver) Resolve(shipmentID uuid.UUID, observations []*domain.ExtractedField) map[string]*domain.ShipmentField {
	winners := make(map[string]*domain.ExtractedField)
	for _, obs := range observations {
		if !obs.Resolution.Replayable() || domain.IsShipmentKey(obs.FieldName) || obs.Value == "" {
			continue
		}
		ranked := *obs
		ranked.Provenance = r.Rank(obs.FieldName, obs.Provenance)
		cur, ok := winners[obs.FieldName]
		if !ok || ranked.Provenance.Outranks(cur.Provenance) {
			winners[obs.FieldName] = &ranked
		}
	}

	out := make(map[string]*domain.ShipmentField, len(winners))
	for name, obs := range winners {
		out[name] = ToShipmentField(shipmentID, obs)
	}
	return out
}

// ContainerSet returns the union of container numbers across replayable observations.
func ContainerSet(observations []*domain.ExtractedField) []string {
	seen := make(map[string]struct{})
	for _, obs := range observations {
		if obs.FieldName != domain.FieldContainerNumber || !obs.Resolution.Replayable() {
			continue
		}
		for _, c := range domain.SplitContainers(obs.Value) {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ToShipmentField converts a winning observation into the stored field value.
func ToShipmentField(shipmentID uuid.UUID, obs *domain.ExtractedField) *domain.ShipmentField {
	return &domain.ShipmentField{
		Provenance: obs.Provenance,
		ShipmentID: shipmentID,
		FieldName:  obs.FieldName,
		Value:      obs.Value,
		UpdatedAt:  time.Now().UTC(),
	}
}

// ChangedFields lists field names whose value differs between before and after.
func ChangedFields(before, after map[string]*domain.ShipmentField) []string {
	var changed []string
	for name, a := range after {
		b, ok := before[name]
		if !ok || b.Value != a.Value {
			changed = append(changed, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
