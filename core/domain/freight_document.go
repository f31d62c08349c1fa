package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Document Types
// =============================================================================

// DocumentType is the classification label assigned to an inbound or outbound message.
type DocumentType string

const (
	// Booking
	DocBookingConfirmation DocumentType = "booking_confirmation"
	DocBookingAmendment    DocumentType = "booking_amendment"
	DocBookingCancellation DocumentType = "booking_cancellation"

	// Pre-departure
	DocShippingInstruction DocumentType = "shipping_instruction"
	DocSIDraft             DocumentType = "si_draft"
	DocSIConfirmation      DocumentType = "si_confirmation"
	DocVGMConfirmation     DocumentType = "vgm_confirmation"

	// Bills of lading
	DocDraftBL DocumentType = "draft_bl"
	DocFinalBL DocumentType = "final_bl"
	DocHouseBL DocumentType = "house_bl"

	// In transit / arrival / delivery
	DocSOBConfirmation  DocumentType = "sob_confirmation"
	DocArrivalNotice    DocumentType = "arrival_notice"
	DocCustomsClearance DocumentType = "customs_clearance"
	DocDeliveryOrder    DocumentType = "delivery_order"
	DocProofOfDelivery  DocumentType = "proof_of_delivery"
	DocInvoice          DocumentType = "invoice"

	// Communication only
	DocQuotation             DocumentType = "quotation"
	DocRequest               DocumentType = "request"
	DocApproval              DocumentType = "approval"
	DocAcknowledgement       DocumentType = "acknowledgement"
	DocNotification          DocumentType = "notification"
	DocGeneralCorrespondence DocumentType = "general_correspondence"
)

var knownDocumentTypes = map[DocumentType]struct{}{
	DocBookingConfirmation: {}, DocBookingAmendment: {}, DocBookingCancellation: {},
	DocShippingInstruction: {}, DocSIDraft: {}, DocSIConfirmation: {}, DocVGMConfirmation: {},
	DocDraftBL: {}, DocFinalBL: {}, DocHouseBL: {},
	DocSOBConfirmation: {}, DocArrivalNotice: {}, DocCustomsClearance: {},
	DocDeliveryOrder: {}, DocProofOfDelivery: {}, DocInvoice: {},
	DocQuotation: {}, DocRequest: {}, DocApproval: {}, DocAcknowledgement: {},
	DocNotification: {}, DocGeneralCorrespondence: {},
}

// DocumentTypes returns every known type in lexical order.
func DocumentTypes() []DocumentType {
	out := make([]DocumentType, 0, len(knownDocumentTypes))
	for t := range knownDocumentTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseDocumentType normalizes a label and reports whether it is a known type.
func ParseDocumentType(s string) (DocumentType, bool) {
	t := DocumentType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := knownDocumentTypes[t]
	return t, ok
}

// IsCommunication reports whether the type carries no shipment-defining payload.
func (t DocumentType) IsCommunication() bool {
	switch t {
	case DocRequest, DocApproval, DocAcknowledgement, DocQuotation, DocNotification, DocGeneralCorrespondence:
		return true
	}
	return false
}

// IsCritical reports whether the type carries financial or legal exposure.
func (t DocumentType) IsCritical() bool {
	switch t {
	case DocFinalBL, DocHouseBL, DocDraftBL, DocSIConfirmation:
		return true
	}
	return false
}

// CarriesAttachment reports whether the type is normally delivered as an attached document.
func (t DocumentType) CarriesAttachment() bool {
	return !t.IsCommunication()
}

// =============================================================================
// Sender / Direction
// =============================================================================

type SenderCategory string

const (
	SenderInternal SenderCategory = "internal"
	SenderCarrier  SenderCategory = "carrier"
	SenderCustomer SenderCategory = "customer"
	SenderUnknown  SenderCategory = "unknown"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionAny      Direction = "any"
)

// =============================================================================
// Document
// =============================================================================

// documentNamespace scopes deterministic document IDs derived from message IDs.
var documentNamespace = uuid.MustParse("6f1c9a52-3b7e-4d8a-9c61-2f0e4b5d7a13")

// DocumentIDFor derives the stable document ID for an external message ID.
func DocumentIDFor(externalID string) uuid.UUID {
	return uuid.NewSHA1(documentNamespace, []byte(strings.TrimSpace(externalID)))
}

// Document is one classified inbound or outbound message.
type Document struct {
	ID             uuid.UUID      `json:"id"`
	ExternalID     string         `json:"external_id"`
	ThreadID       string         `json:"thread_id"`
	Subject        string         `json:"subject"`
	SenderAddress  string         `json:"sender_address"`
	SenderCategory SenderCategory `json:"sender_category"`
	Direction      Direction      `json:"direction"`
	IsReply        bool           `json:"is_reply"`
	Attachments    []string       `json:"attachments,omitempty"`
	Fingerprint    string         `json:"fingerprint"`
	DocumentType   DocumentType   `json:"document_type,omitempty"`
	Confidence     int            `json:"confidence"`
	ReceivedAt     time.Time      `json:"received_at"`
	CreatedAt      time.Time      `json:"created_at"`
}

// HasAttachments reports whether any attachment names were supplied.
func (d *Document) HasAttachments() bool {
	return len(d.Attachments) > 0
}

// InboundMessage is the unit handed to the engine by ingestion callers.
// Attachment text is already extracted by an external collaborator.
type InboundMessage struct {
	ExternalID     string    `json:"external_id"`
	ThreadID       string    `json:"thread_id"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	Subject        string    `json:"subject"`
	SenderAddress  string    `json:"sender_address"`
	Body           string    `json:"body"`
	Attachments    []string  `json:"attachments,omitempty"`
	AttachmentText string    `json:"attachment_text,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Content joins body and attachment text for extraction.
func (m *InboundMessage) Content() string {
	if m.AttachmentText == "" {
		return m.Body
	}
	return m.Body + "\n\n" + m.AttachmentText
}

// LinkedDocument is the projection of a linked document used for workflow and thread decisions.
type LinkedDocument struct {
	DocumentID   uuid.UUID    `db:"document_id" json:"document_id"`
	ThreadID     string       `db:"thread_id" json:"thread_id"`
	DocumentType DocumentType `db:"document_type" json:"document_type"`
	Direction    Direction    `db:"direction" json:"direction"`
	IsReply      bool         `db:"is_reply" json:"is_reply"`
	ReviewStatus ReviewStatus `db:"review_status" json:"review_status"`
	ReceivedAt   time.Time    `db:"received_at" json:"received_at"`
}

// Eligible reports whether the document may influence shipment state.
func (l *LinkedDocument) Eligible() bool {
	return l.DocumentType != "" && l.ReviewStatus.Eligible()
}
