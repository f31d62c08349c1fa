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
// Document Row Mapping
// =============================================================================

type documentRow struct {
	ID             uuid.UUID      `db:"id"`
	ExternalID     string         `db:"external_id"`
	ThreadID       string         `db:"thread_id"`
	Subject        string         `db:"subject"`
	SenderAddress  string         `db:"sender_address"`
	SenderCategory string         `db:"sender_category"`
	Direction      string         `db:"direction"`
	IsReply        bool           `db:"is_reply"`
	Attachments    pq.StringArray `db:"attachments"`
	Fingerprint    string         `db:"fingerprint"`
	DocumentType   sql.NullString `db:"document_type"`
	Confidence     int            `db:"confidence"`
	ReceivedAt     time.Time      `db:"received_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *documentRow) toEntity() *domain.Document {
	return &domain.Document{
		ID:             r.ID,
		ExternalID:     r.ExternalID,
		ThreadID:       r.ThreadID,
		Subject:        r.Subject,
		SenderAddress:  r.SenderAddress,
		SenderCategory: domain.SenderCategory(r.SenderCategory),
		Direction:      domain.Direction(r.Direction),
		IsReply:        r.IsReply,
		Attachments:    r.Attachments,
		Fingerprint:    r.Fingerprint,
		DocumentType:   domain.DocumentType(r.DocumentType.String),
		Confidence:     r.Confidence,
		ReceivedAt:     r.ReceivedAt,
		CreatedAt:      r.CreatedAt,
	}
}

const documentColumns = `id, external_id, thread_id, subject, sender_address, sender_category,
	direction, is_reply, attachments, fingerprint, document_type, confidence, received_at, created_at`

// =============================================================================
// Document Operations
// =============================================================================

func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO documents (
			id, external_id, thread_id, subject, sender_address, sender_category,
			direction, is_reply, attachments, fingerprint, document_type, confidence, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			subject = EXCLUDED.subject,
			sender_address = EXCLUDED.sender_address,
			sender_category = EXCLUDED.sender_category,
			direction = EXCLUDED.direction,
			is_reply = EXCLUDED.is_reply,
			attachments = EXCLUDED.attachments,
			fingerprint = EXCLUDED.fingerprint,
			document_type = EXCLUDED.document_type,
			confidence = EXCLUDED.confidence,
			received_at = EXCLUDED.received_at`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		doc.ID, doc.ExternalID, doc.ThreadID, doc.Subject, doc.SenderAddress, string(doc.SenderCategory),
		string(doc.Direction), doc.IsReply, pq.StringArray(doc.Attachments), doc.Fingerprint,
		string(doc.DocumentType), doc.Confidence, doc.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	var row documentRow
	err := s.conn(ctx).GetContext(ctx, &row, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) ListByThread(ctx context.Context, threadID string) ([]*domain.Document, error) {
	var rows []documentRow
	query := `SELECT ` + documentColumns + ` FROM documents WHERE thread_id = $1 ORDER BY received_at ASC, id::text ASC`
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, threadID); err != nil {
		return nil, fmt.Errorf("failed to list thread documents: %w", err)
	}

	docs := make([]*domain.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, rows[i].toEntity())
	}
	return docs, nil
}

func (s *Store) ListThreadIDs(ctx context.Context) ([]string, error) {
	var ids []string
	query := `SELECT DISTINCT thread_id FROM documents WHERE thread_id <> '' ORDER BY thread_id`
	if err := s.conn(ctx).SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return ids, nil
}

// =============================================================================
// Classification Row Mapping
// =============================================================================

type classificationRow struct {
	DocumentID     uuid.UUID `db:"document_id"`
	DocumentType   string    `db:"document_type"`
	Confidence     int       `db:"confidence"`
	Method         string    `db:"method"`
	MatchedRule    string    `db:"matched_rule"`
	Reasoning      string    `db:"reasoning"`
	ReviewAction   string    `db:"review_action"`
	ReviewStatus   string    `db:"review_status"`
	ExtractionTier string    `db:"extraction_tier"`
	ClassifiedAt   time.Time `db:"classified_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *classificationRow) toEntity() *domain.ClassificationRecord {
	return &domain.ClassificationRecord{
		DocumentID:     r.DocumentID,
		DocumentType:   domain.DocumentType(r.DocumentType),
		Confidence:     r.Confidence,
		Method:         domain.ClassificationMethod(r.Method),
		MatchedRule:    r.MatchedRule,
		Reasoning:      r.Reasoning,
		ReviewAction:   domain.ReviewAction(r.ReviewAction),
		ReviewStatus:   domain.ReviewStatus(r.ReviewStatus),
		ExtractionTier: domain.ExtractionTier(r.ExtractionTier),
		ClassifiedAt:   r.ClassifiedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const classificationColumns = `document_id, document_type, confidence, method, matched_rule, reasoning,
	review_action, review_status, extraction_tier, classified_at, updated_at`

// =============================================================================
// Classification Operations
// =============================================================================

func (s *Store) UpsertClassification(ctx context.Context, rec *domain.ClassificationRecord) error {
	classifiedAt := rec.ClassifiedAt
	if classifiedAt.IsZero() {
		classifiedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO classifications (
			document_id, document_type, confidence, method, matched_rule, reasoning,
			review_action, review_status, extraction_tier, classified_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (document_id) DO UPDATE SET
			document_type = EXCLUDED.document_type,
			confidence = EXCLUDED.confidence,
			method = EXCLUDED.method,
			matched_rule = EXCLUDED.matched_rule,
			reasoning = EXCLUDED.reasoning,
			review_action = EXCLUDED.review_action,
			review_status = EXCLUDED.review_status,
			extraction_tier = EXCLUDED.extraction_tier,
			updated_at = NOW()`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		rec.DocumentID, string(rec.DocumentType), rec.Confidence, string(rec.Method), rec.MatchedRule,
		rec.Reasoning, string(rec.ReviewAction), string(rec.ReviewStatus), string(rec.ExtractionTier), classifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert classification: %w", err)
	}
	return nil
}

func (s *Store) GetClassification(ctx context.Context, documentID uuid.UUID) (*domain.ClassificationRecord, error) {
	var row classificationRow
	query := `SELECT ` + classificationColumns + ` FROM classifications WHERE document_id = $1`
	err := s.conn(ctx).GetContext(ctx, &row, query, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) ListPendingReview(ctx context.Context, limit int) ([]*domain.ClassificationRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []classificationRow
	query := `SELECT ` + classificationColumns + ` FROM classifications
		WHERE review_status = $1
		ORDER BY classified_at ASC
		LIMIT $2`
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, string(domain.ReviewPending), limit); err != nil {
		return nil, fmt.Errorf("failed to list pending reviews: %w", err)
	}

	recs := make([]*domain.ClassificationRecord, 0, len(rows))
	for i := range rows {
		recs = append(recs, rows[i].toEntity())
	}
	return recs, nil
}

func (s *Store) UpdateReviewStatus(ctx context.Context, documentID uuid.UUID, status domain.ReviewStatus) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE classifications SET review_status = $1, updated_at = NOW() WHERE document_id = $2`,
		string(status), documentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update review status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
