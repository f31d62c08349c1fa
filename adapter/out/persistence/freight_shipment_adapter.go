package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"freight_server/core/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// =============================================================================
// Shipment Row Mapping
// =============================================================================

type shipmentRow struct {
	ID               uuid.UUID      `db:"id"`
	BookingNumber    string         `db:"booking_number"`
	BLNumber         sql.NullString `db:"bl_number"`
	ContainerNumbers pq.StringArray `db:"container_numbers"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r *shipmentRow) toEntity() *domain.Shipment {
	return &domain.Shipment{
		ID:               r.ID,
		BookingNumber:    r.BookingNumber,
		BLNumber:         r.BLNumber.String,
		ContainerNumbers: r.ContainerNumbers,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

const shipmentColumns = `id, booking_number, bl_number, container_numbers, created_at, updated_at`

// =============================================================================
// Shipment Operations
// =============================================================================

func (s *Store) EnsureShipment(ctx context.Context, bookingNumber string) (*domain.Shipment, error) {
	booking := strings.ToUpper(strings.TrimSpace(bookingNumber))
	if booking == "" {
		return nil, fmt.Errorf("%w: booking number is empty", ErrInvalidInput)
	}

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO shipments (id, booking_number, container_numbers)
		VALUES ($1, $2, '{}')
		ON CONFLICT (booking_number) DO NOTHING`,
		uuid.New(), booking,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure shipment: %w", err)
	}

	sh, err := s.FindByBooking(ctx, booking)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return nil, fmt.Errorf("failed to ensure shipment %s: %w", booking, ErrNotFound)
	}
	return sh, nil
}

func (s *Store) getShipment(ctx context.Context, where string, arg any) (*domain.Shipment, error) {
	var row shipmentRow
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE ` + where + ` ORDER BY created_at ASC LIMIT 1`
	err := s.conn(ctx).GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	return s.getShipment(ctx, `id = $1`, id)
}

func (s *Store) FindByBooking(ctx context.Context, bookingNumber string) (*domain.Shipment, error) {
	return s.getShipment(ctx, `booking_number = $1`, strings.ToUpper(strings.TrimSpace(bookingNumber)))
}

func (s *Store) FindByBL(ctx context.Context, blNumber string) (*domain.Shipment, error) {
	return s.getShipment(ctx, `bl_number IS NOT NULL AND UPPER(bl_number) = $1`, strings.ToUpper(strings.TrimSpace(blNumber)))
}

func (s *Store) FindByContainer(ctx context.Context, containerNumber string) (*domain.Shipment, error) {
	return s.getShipment(ctx, `$1 = ANY(container_numbers)`, strings.ToUpper(strings.TrimSpace(containerNumber)))
}

func (s *Store) UpdateIdentifiers(ctx context.Context, sh *domain.Shipment) error {
	containers := sh.ContainerNumbers
	if containers == nil {
		containers = []string{}
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE shipments
		SET bl_number = NULLIF($1, ''), container_numbers = $2, updated_at = NOW()
		WHERE id = $3`,
		sh.BLNumber, pq.StringArray(containers), sh.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update shipment identifiers: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrShipmentNotFound
	}
	return nil
}

func (s *Store) ListShipmentIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := s.conn(ctx).SelectContext(ctx, &ids, `SELECT id FROM shipments ORDER BY id::text`); err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	return ids, nil
}

// =============================================================================
// Link Operations
// =============================================================================

type linkRow struct {
	ShipmentID uuid.UUID `db:"shipment_id"`
	DocumentID uuid.UUID `db:"document_id"`
	Method     string    `db:"method"`
	LinkedAt   time.Time `db:"linked_at"`
}

func (s *Store) GetLink(ctx context.Context, documentID uuid.UUID) (*domain.ShipmentLink, error) {
	var row linkRow
	err := s.conn(ctx).GetContext(ctx, &row,
		`SELECT shipment_id, document_id, method, linked_at FROM shipment_links WHERE document_id = $1`,
		documentID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &domain.ShipmentLink{
		ShipmentID: row.ShipmentID,
		DocumentID: row.DocumentID,
		Method:     domain.LinkMethod(row.Method),
		LinkedAt:   row.LinkedAt,
	}, nil
}

// Link attaches a document; a document belongs to at most one shipment.
func (s *Store) Link(ctx context.Context, link *domain.ShipmentLink) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO shipment_links (document_id, shipment_id, method, linked_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (document_id) DO UPDATE SET
			shipment_id = EXCLUDED.shipment_id,
			method = EXCLUDED.method,
			linked_at = NOW()`,
		link.DocumentID, link.ShipmentID, string(link.Method),
	)
	if err != nil {
		return fmt.Errorf("failed to link document: %w", err)
	}
	return nil
}

func (s *Store) Unlink(ctx context.Context, documentID uuid.UUID) error {
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM shipment_links WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to unlink document: %w", err)
	}
	return nil
}

type linkedDocumentRow struct {
	DocumentID   uuid.UUID      `db:"document_id"`
	ThreadID     string         `db:"thread_id"`
	DocumentType sql.NullString `db:"document_type"`
	Direction    string         `db:"direction"`
	IsReply      bool           `db:"is_reply"`
	ReviewStatus sql.NullString `db:"review_status"`
	ReceivedAt   time.Time      `db:"received_at"`
}

func (s *Store) ListLinkedDocuments(ctx context.Context, shipmentID uuid.UUID) ([]*domain.LinkedDocument, error) {
	var rows []linkedDocumentRow
	query := `
		SELECT d.id AS document_id, d.thread_id,
			COALESCE(c.document_type, d.document_type) AS document_type,
			d.direction, d.is_reply, c.review_status, d.received_at
		FROM shipment_links l
		JOIN documents d ON d.id = l.document_id
		LEFT JOIN classifications c ON c.document_id = d.id
		WHERE l.shipment_id = $1
		ORDER BY d.received_at ASC, d.id::text ASC`
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, shipmentID); err != nil {
		return nil, fmt.Errorf("failed to list linked documents: %w", err)
	}

	docs := make([]*domain.LinkedDocument, 0, len(rows))
	for _, r := range rows {
		status := domain.ReviewNone
		if r.ReviewStatus.Valid {
			status = domain.ReviewStatus(r.ReviewStatus.String)
		}
		docs = append(docs, &domain.LinkedDocument{
			DocumentID:   r.DocumentID,
			ThreadID:     r.ThreadID,
			DocumentType: domain.DocumentType(r.DocumentType.String),
			Direction:    domain.Direction(r.Direction),
			IsReply:      r.IsReply,
			ReviewStatus: status,
			ReceivedAt:   r.ReceivedAt,
		})
	}
	return docs, nil
}

type correctionRow struct {
	ID              uuid.UUID     `db:"id"`
	DocumentID      uuid.UUID     `db:"document_id"`
	ThreadID        string        `db:"thread_id"`
	FromShipmentID  uuid.NullUUID `db:"from_shipment_id"`
	ToShipmentID    uuid.UUID     `db:"to_shipment_id"`
	IdentifierKind  string        `db:"identifier_kind"`
	IdentifierValue string        `db:"identifier_value"`
	CorrectedAt     time.Time     `db:"corrected_at"`
}

func (r *correctionRow) toEntity() *domain.LinkCorrection {
	c := &domain.LinkCorrection{
		ID:              r.ID,
		DocumentID:      r.DocumentID,
		ThreadID:        r.ThreadID,
		ToShipmentID:    r.ToShipmentID,
		IdentifierKind:  domain.IdentifierKind(r.IdentifierKind),
		IdentifierValue: r.IdentifierValue,
		CorrectedAt:     r.CorrectedAt,
	}
	if r.FromShipmentID.Valid {
		from := r.FromShipmentID.UUID
		c.FromShipmentID = &from
	}
	return c
}

func (s *Store) RecordCorrection(ctx context.Context, c *domain.LinkCorrection) error {
	id := c.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var from uuid.NullUUID
	if c.FromShipmentID != nil {
		from = uuid.NullUUID{UUID: *c.FromShipmentID, Valid: true}
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO link_corrections (
			id, document_id, thread_id, from_shipment_id, to_shipment_id,
			identifier_kind, identifier_value, corrected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		id, c.DocumentID, c.ThreadID, from, c.ToShipmentID, string(c.IdentifierKind), c.IdentifierValue,
	)
	if err != nil {
		return fmt.Errorf("failed to record correction: %w", err)
	}
	return nil
}

// ListCorrections returns corrections for a thread, or all of them when threadID is empty.
func (s *Store) ListCorrections(ctx context.Context, threadID string) ([]*domain.LinkCorrection, error) {
	var rows []correctionRow
	query := `
		SELECT id, document_id, thread_id, from_shipment_id, to_shipment_id,
			identifier_kind, identifier_value, corrected_at
		FROM link_corrections
		WHERE ($1 = '' OR thread_id = $1)
		ORDER BY seq ASC`
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, threadID); err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}

	corrections := make([]*domain.LinkCorrection, 0, len(rows))
	for i := range rows {
		corrections = append(corrections, rows[i].toEntity())
	}
	return corrections, nil
}
