package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"freight_server/core/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// =============================================================================
// Observation Row Mapping
// =============================================================================

type observationRow struct {
	DocumentID     uuid.UUID `db:"document_id"`
	FieldName      string    `db:"field_name"`
	Value          string    `db:"value"`
	DocumentType   string    `db:"document_type"`
	AuthorityLevel int       `db:"authority_level"`
	Confidence     int       `db:"confidence"`
	DocumentTime   time.Time `db:"document_time"`
	Resolution     string    `db:"resolution"`
	Reason         string    `db:"reason"`
	ExtractedAt    time.Time `db:"extracted_at"`
}

func (r *observationRow) toEntity() *domain.ExtractedField {
	return &domain.ExtractedField{
		Provenance: domain.Provenance{
			DocumentID:     r.DocumentID,
			DocumentType:   domain.DocumentType(r.DocumentType),
			AuthorityLevel: r.AuthorityLevel,
			Confidence:     r.Confidence,
			DocumentTime:   r.DocumentTime,
		},
		FieldName:   r.FieldName,
		Value:       r.Value,
		Resolution:  domain.Resolution(r.Resolution),
		Reason:      r.Reason,
		ExtractedAt: r.ExtractedAt,
	}
}

const observationColumns = `document_id, field_name, value, document_type, authority_level, confidence,
	document_time, resolution, reason, extracted_at`

// =============================================================================
// Observation Operations
// =============================================================================

func (s *Store) InsertObservations(ctx context.Context, fields []*domain.ExtractedField) error {
	if len(fields) == 0 {
		return nil
	}

	query := `
		INSERT INTO field_observations (
			document_id, field_name, value, document_type, authority_level, confidence,
			document_time, resolution, reason, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (document_id, field_name) DO NOTHING`

	conn := s.conn(ctx)
	for _, f := range fields {
		extractedAt := f.ExtractedAt
		if extractedAt.IsZero() {
			extractedAt = time.Now().UTC()
		}
		_, err := conn.ExecContext(ctx, query,
			f.DocumentID, f.FieldName, f.Value, string(f.DocumentType), f.AuthorityLevel, f.Confidence,
			f.DocumentTime, string(f.Resolution), f.Reason, extractedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert observation %s: %w", f.FieldName, err)
		}
	}
	return nil
}

func (s *Store) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.ExtractedField, error) {
	return s.ListByDocuments(ctx, []uuid.UUID{documentID})
}

func (s *Store) ListByDocuments(ctx context.Context, documentIDs []uuid.UUID) ([]*domain.ExtractedField, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(documentIDs))
	for i, id := range documentIDs {
		ids[i] = id.String()
	}

	var rows []observationRow
	query := `SELECT ` + observationColumns + ` FROM field_observations
		WHERE document_id = ANY($1::uuid[])
		ORDER BY seq ASC`
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, pq.StringArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}

	fields := make([]*domain.ExtractedField, 0, len(rows))
	for i := range rows {
		fields = append(fields, rows[i].toEntity())
	}
	return fields, nil
}

func (s *Store) UpdateResolution(ctx context.Context, documentID uuid.UUID, fieldName string, res domain.Resolution) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE field_observations SET resolution = $1 WHERE document_id = $2 AND field_name = $3`,
		string(res), documentID, fieldName,
	)
	if err != nil {
		return fmt.Errorf("failed to update resolution: %w", err)
	}
	return nil
}

func (s *Store) ReclassifyObservations(ctx context.Context, documentID uuid.UUID, docType domain.DocumentType, levels map[string]int) error {
	conn := s.conn(ctx)
	for field, level := range levels {
		_, err := conn.ExecContext(ctx, `
			UPDATE field_observations
			SET document_type = $1,
				authority_level = $2,
				resolution = CASE WHEN resolution = $3 THEN resolution ELSE $4 END
			WHERE document_id = $5 AND field_name = $6`,
			string(docType), level, string(domain.ResolutionRejected), string(domain.ResolutionPending),
			documentID, field,
		)
		if err != nil {
			return fmt.Errorf("failed to reclassify observation %s: %w", field, err)
		}
	}
	return nil
}

func (s *Store) ReleaseDuplicates(ctx context.Context, documentID uuid.UUID) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE field_observations SET resolution = $1 WHERE document_id = $2 AND resolution = $3`,
		string(domain.ResolutionPending), documentID, string(domain.ResolutionDuplicate),
	)
	if err != nil {
		return fmt.Errorf("failed to release duplicates: %w", err)
	}
	return nil
}

// =============================================================================
// Shipment Field Row Mapping
// =============================================================================

type shipmentFieldRow struct {
	ShipmentID     uuid.UUID `db:"shipment_id"`
	FieldName      string    `db:"field_name"`
	Value          string    `db:"value"`
	DocumentID     uuid.UUID `db:"document_id"`
	DocumentType   string    `db:"document_type"`
	AuthorityLevel int       `db:"authority_level"`
	Confidence     int       `db:"confidence"`
	DocumentTime   time.Time `db:"document_time"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *shipmentFieldRow) toEntity() *domain.ShipmentField {
	return &domain.ShipmentField{
		Provenance: domain.Provenance{
			DocumentID:     r.DocumentID,
			DocumentType:   domain.DocumentType(r.DocumentType),
			AuthorityLevel: r.AuthorityLevel,
			Confidence:     r.Confidence,
			DocumentTime:   r.DocumentTime,
		},
		ShipmentID: r.ShipmentID,
		FieldName:  r.FieldName,
		Value:      r.Value,
		UpdatedAt:  r.UpdatedAt,
	}
}

// =============================================================================
// Shipment Field Operations
// =============================================================================

func (s *Store) GetFields(ctx context.Context, shipmentID uuid.UUID) (map[string]*domain.ShipmentField, error) {
	var rows []shipmentFieldRow
	query := `
		SELECT shipment_id, field_name, value, document_id, document_type, authority_level,
			confidence, document_time, updated_at
		FROM shipment_fields
		WHERE shipment_id = $1`
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, shipmentID); err != nil {
		return nil, fmt.Errorf("failed to get shipment fields: %w", err)
	}

	fields := make(map[string]*domain.ShipmentField, len(rows))
	for i := range rows {
		fields[rows[i].FieldName] = rows[i].toEntity()
	}
	return fields, nil
}

func (s *Store) UpsertField(ctx context.Context, f *domain.ShipmentField) error {
	query := `
		INSERT INTO shipment_fields (
			shipment_id, field_name, value, document_id, document_type, authority_level,
			confidence, document_time, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (shipment_id, field_name) DO UPDATE SET
			value = EXCLUDED.value,
			document_id = EXCLUDED.document_id,
			document_type = EXCLUDED.document_type,
			authority_level = EXCLUDED.authority_level,
			confidence = EXCLUDED.confidence,
			document_time = EXCLUDED.document_time,
			updated_at = NOW()`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		f.ShipmentID, f.FieldName, f.Value, f.DocumentID, string(f.DocumentType),
		f.AuthorityLevel, f.Confidence, f.DocumentTime,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert shipment field: %w", err)
	}
	return nil
}

func (s *Store) DeleteField(ctx context.Context, shipmentID uuid.UUID, fieldName string) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM shipment_fields WHERE shipment_id = $1 AND field_name = $2`,
		shipmentID, fieldName,
	)
	if err != nil {
		return fmt.Errorf("failed to delete shipment field: %w", err)
	}
	return nil
}

// =============================================================================
// Thread Authority
// =============================================================================

type authorityRow struct {
	ThreadID            string    `db:"thread_id"`
	AuthorityDocumentID uuid.UUID `db:"authority_document_id"`
	IdentifierKind      string    `db:"identifier_kind"`
	IdentifierValue     string    `db:"identifier_value"`
	Confidence          int       `db:"confidence"`
	ComputedAt          time.Time `db:"computed_at"`
}

func (s *Store) UpsertAuthority(ctx context.Context, a *domain.ThreadAuthority) error {
	computedAt := a.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO thread_authorities (
			thread_id, authority_document_id, identifier_kind, identifier_value, confidence, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (thread_id) DO UPDATE SET
			authority_document_id = EXCLUDED.authority_document_id,
			identifier_kind = EXCLUDED.identifier_kind,
			identifier_value = EXCLUDED.identifier_value,
			confidence = EXCLUDED.confidence,
			computed_at = EXCLUDED.computed_at`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		a.ThreadID, a.AuthorityDocumentID, string(a.IdentifierKind), a.IdentifierValue, a.Confidence, computedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert thread authority: %w", err)
	}
	return nil
}

func (s *Store) GetAuthority(ctx context.Context, threadID string) (*domain.ThreadAuthority, error) {
	var row authorityRow
	query := `
		SELECT thread_id, authority_document_id, identifier_kind, identifier_value, confidence, computed_at
		FROM thread_authorities WHERE thread_id = $1`
	err := s.conn(ctx).GetContext(ctx, &row, query, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread authority: %w", err)
	}
	return &domain.ThreadAuthority{
		ThreadID:            row.ThreadID,
		AuthorityDocumentID: row.AuthorityDocumentID,
		IdentifierKind:      domain.IdentifierKind(row.IdentifierKind),
		IdentifierValue:     row.IdentifierValue,
		Confidence:          row.Confidence,
		ComputedAt:          row.ComputedAt,
	}, nil
}
