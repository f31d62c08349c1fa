package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Shipment field names produced by extraction.
const (
	FieldBookingNumber   = "booking_number"
	FieldBLNumber        = "bl_number"
	FieldContainerNumber = "container_number"
	FieldReferenceNumber = "reference_number"

	FieldCarrier          = "carrier"
	FieldVesselName       = "vessel_name"
	FieldVoyageNumber     = "voyage_number"
	FieldPortOfLoading    = "port_of_loading"
	FieldPortOfDischarge  = "port_of_discharge"
	FieldPlaceOfDelivery  = "place_of_delivery"
	FieldShipper          = "shipper"
	FieldConsignee        = "consignee"
	FieldCommodity        = "commodity"
	FieldGrossWeight      = "gross_weight"
	FieldContainerType    = "container_type"
	FieldETD              = "etd"
	FieldETA              = "eta"
	FieldATD              = "atd"
	FieldATA              = "ata"
	FieldSICutoff         = "si_cutoff"
	FieldVGMCutoff        = "vgm_cutoff"
	FieldCargoCutoff      = "cargo_cutoff"
	FieldGateCutoff       = "gate_cutoff"
	FieldDocCutoff        = "doc_cutoff"
	FieldFreightAmount    = "freight_amount"
	FieldInvoiceNumber    = "invoice_number"
	FieldCustomsEntryNo   = "customs_entry_number"
	FieldDeliveryLocation = "delivery_location"
)

// ExtractableFields lists every field the extraction oracle is asked for.
var ExtractableFields = []string{
	FieldBookingNumber, FieldBLNumber, FieldContainerNumber, FieldReferenceNumber,
	FieldCarrier, FieldVesselName, FieldVoyageNumber,
	FieldPortOfLoading, FieldPortOfDischarge, FieldPlaceOfDelivery,
	FieldShipper, FieldConsignee, FieldCommodity, FieldGrossWeight, FieldContainerType,
	FieldETD, FieldETA, FieldATD, FieldATA,
	FieldSICutoff, FieldVGMCutoff, FieldCargoCutoff, FieldGateCutoff, FieldDocCutoff,
	FieldFreightAmount, FieldInvoiceNumber, FieldCustomsEntryNo, FieldDeliveryLocation,
}

var dateFields = map[string]struct{}{
	FieldETD: {}, FieldETA: {}, FieldATD: {}, FieldATA: {},
	FieldSICutoff: {}, FieldVGMCutoff: {}, FieldCargoCutoff: {}, FieldGateCutoff: {}, FieldDocCutoff: {},
}

// IsDateField reports whether the field holds a calendar date.
func IsDateField(name string) bool {
	_, ok := dateFields[name]
	return ok
}

// IsShipmentKey reports whether the field keys the shipment itself rather than a resolved value.
func IsShipmentKey(name string) bool {
	return name == FieldBookingNumber || name == FieldContainerNumber || name == FieldReferenceNumber
}

// SplitContainers splits a container field value into a sorted, de-duplicated set.
func SplitContainers(value string) []string {
	parts := strings.FieldsFunc(strings.ToUpper(value), func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == ' ' || r == '\n' || r == '\t'
	})
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Provenance
// =============================================================================

// Provenance tags a value with the document that produced it.
type Provenance struct {
	DocumentID     uuid.UUID    `json:"document_id"`
	DocumentType   DocumentType `json:"document_type"`
	AuthorityLevel int          `json:"authority_level"`
	Confidence     int          `json:"confidence"`
	DocumentTime   time.Time    `json:"document_time"`
}

// Outranks reports whether p wins over other under authority rules.
// Higher authority wins, then confidence, then later document time, then larger document ID.
func (p Provenance) Outranks(other Provenance) bool {
	if p.AuthorityLevel != other.AuthorityLevel {
		return p.AuthorityLevel > other.AuthorityLevel
	}
	if p.Confidence != other.Confidence {
		return p.Confidence > other.Confidence
	}
	if !p.DocumentTime.Equal(other.DocumentTime) {
		return p.DocumentTime.After(other.DocumentTime)
	}
	return strings.Compare(p.DocumentID.String(), other.DocumentID.String()) > 0
}

// =============================================================================
// Extracted Field (append-only observation)
// =============================================================================

// Resolution is the outcome recorded for an observation.
type Resolution string

const (
	ResolutionPending   Resolution = "pending"
	ResolutionAccepted  Resolution = "accepted"
	ResolutionDiscarded Resolution = "discarded"
	ResolutionDuplicate Resolution = "duplicate"
	ResolutionRejected  Resolution = "rejected"
)

// Replayable reports whether the observation takes part in authority replay.
func (r Resolution) Replayable() bool {
	return r != ResolutionRejected && r != ResolutionDuplicate
}

// ExtractedField is one field observation from one document. Never updated except for its resolution.
type ExtractedField struct {
	Provenance
	FieldName   string     `json:"field_name"`
	Value       string     `json:"value"`
	Resolution  Resolution `json:"resolution"`
	Reason      string     `json:"reason,omitempty"`
	ExtractedAt time.Time  `json:"extracted_at"`
}

// ShipmentField is the current authoritative value for a shipment field.
type ShipmentField struct {
	Provenance
	ShipmentID uuid.UUID `json:"shipment_id"`
	FieldName  string    `json:"field_name"`
	Value      string    `json:"value"`
	UpdatedAt  time.Time `json:"updated_at"`
}
