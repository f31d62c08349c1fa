package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"freight_server/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// =============================================================================
// Revisions
// =============================================================================

type revisionRow struct {
	ID               uuid.UUID      `db:"id"`
	ShipmentID       uuid.UUID      `db:"shipment_id"`
	DocumentType     string         `db:"document_type"`
	Revision         int            `db:"revision"`
	Fingerprint      string         `db:"fingerprint"`
	ChangedFields    pq.StringArray `db:"changed_fields"`
	SourceDocumentID uuid.UUID      `db:"source_document_id"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r *revisionRow) toEntity() *domain.DocumentRevision {
	return &domain.DocumentRevision{
		ID:               r.ID,
		ShipmentID:       r.ShipmentID,
		DocumentType:     domain.DocumentType(r.DocumentType),
		Revision:         r.Revision,
		Fingerprint:      r.Fingerprint,
		ChangedFields:    r.ChangedFields,
		SourceDocumentID: r.SourceDocumentID,
		CreatedAt:        r.CreatedAt,
	}
}

const revisionColumns = `id, shipment_id, document_type, revision, fingerprint, changed_fields, source_document_id, created_at`

func (s *Store) findRevision(ctx context.Context, where string, args ...any) (*domain.DocumentRevision, error) {
	var row revisionRow
	query := `SELECT ` + revisionColumns + ` FROM document_revisions WHERE ` + where + ` ORDER BY revision ASC LIMIT 1`
	err := s.conn(ctx).GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) FindByFingerprint(ctx context.Context, shipmentID uuid.UUID, docType domain.DocumentType, fingerprint string) (*domain.DocumentRevision, error) {
	return s.findRevision(ctx, `shipment_id = $1 AND document_type = $2 AND fingerprint = $3`,
		shipmentID, string(docType), fingerprint)
}

func (s *Store) FindBySource(ctx context.Context, shipmentID, documentID uuid.UUID) (*domain.DocumentRevision, error) {
	return s.findRevision(ctx, `shipment_id = $1 AND source_document_id = $2`, shipmentID, documentID)
}

func (s *Store) MaxRevision(ctx context.Context, shipmentID uuid.UUID, docType domain.DocumentType) (int, error) {
	var max int
	err := s.conn(ctx).GetContext(ctx, &max,
		`SELECT COALESCE(MAX(revision), 0) FROM document_revisions WHERE shipment_id = $1 AND document_type = $2`,
		shipmentID, string(docType),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to get max revision: %w", err)
	}
	return max, nil
}

// CreateRevision fails with ErrDuplicate when the (shipment, type, revision) slot is taken.
func (s *Store) CreateRevision(ctx context.Context, rev *domain.DocumentRevision) error {
	id := rev.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	changed := rev.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO document_revisions (
			id, shipment_id, document_type, revision, fingerprint, changed_fields, source_document_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		id, rev.ShipmentID, string(rev.DocumentType), rev.Revision, rev.Fingerprint,
		pq.StringArray(changed), rev.SourceDocumentID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to create revision: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create revision: %w", err)
	}
	return nil
}

func (s *Store) ListRevisions(ctx context.Context, shipmentID uuid.UUID) ([]*domain.DocumentRevision, error) {
	var rows []revisionRow
	query := `SELECT ` + revisionColumns + ` FROM document_revisions
		WHERE shipment_id = $1
		ORDER BY seq ASC`
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, shipmentID); err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}

	revs := make([]*domain.DocumentRevision, 0, len(rows))
	for i := range rows {
		revs = append(revs, rows[i].toEntity())
	}
	return revs, nil
}

func (s *Store) DeleteRevision(ctx context.Context, id uuid.UUID) error {
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM document_revisions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete revision: %w", err)
	}
	return nil
}

// =============================================================================
// Workflow
// =============================================================================

type workflowStateRow struct {
	ShipmentID        uuid.UUID `db:"shipment_id"`
	State             string    `db:"state"`
	Phase             string    `db:"phase"`
	Priority          int       `db:"priority"`
	Terminal          bool      `db:"terminal"`
	TriggerDocType    string    `db:"trigger_document_type"`
	TriggerDocumentID uuid.UUID `db:"trigger_document_id"`
	UpdatedAt         time.Time `db:"updated_at"`
}

type transitionRow struct {
	ID                uuid.UUID      `db:"id"`
	ShipmentID        uuid.UUID      `db:"shipment_id"`
	FromState         sql.NullString `db:"from_state"`
	ToState           string         `db:"to_state"`
	Phase             string         `db:"phase"`
	Priority          int            `db:"priority"`
	TriggerDocType    string         `db:"trigger_document_type"`
	TriggerDocumentID uuid.UUID      `db:"trigger_document_id"`
	Source            string         `db:"source"`
	TransitionedAt    time.Time      `db:"transitioned_at"`
}

func (s *Store) GetState(ctx context.Context, shipmentID uuid.UUID) (*domain.WorkflowState, error) {
	var row workflowStateRow
	err := s.conn(ctx).GetContext(ctx, &row, `
		SELECT shipment_id, state, phase, priority, terminal, trigger_document_type, trigger_document_id, updated_at
		FROM workflow_states WHERE shipment_id = $1`,
		shipmentID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow state: %w", err)
	}
	return &domain.WorkflowState{
		ShipmentID:        row.ShipmentID,
		State:             row.State,
		Phase:             domain.Phase(row.Phase),
		Priority:          row.Priority,
		Terminal:          row.Terminal,
		TriggerDocType:    domain.DocumentType(row.TriggerDocType),
		TriggerDocumentID: row.TriggerDocumentID,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

// SaveState upserts the state and appends the transition when one is given.
func (s *Store) SaveState(ctx context.Context, state *domain.WorkflowState, transition *domain.WorkflowTransition) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		conn := s.conn(ctx)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO workflow_states (
				shipment_id, state, phase, priority, terminal, trigger_document_type, trigger_document_id, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (shipment_id) DO UPDATE SET
				state = EXCLUDED.state,
				phase = EXCLUDED.phase,
				priority = EXCLUDED.priority,
				terminal = EXCLUDED.terminal,
				trigger_document_type = EXCLUDED.trigger_document_type,
				trigger_document_id = EXCLUDED.trigger_document_id,
				updated_at = NOW()`,
			state.ShipmentID, state.State, string(state.Phase), state.Priority, state.Terminal,
			string(state.TriggerDocType), state.TriggerDocumentID,
		)
		if err != nil {
			return fmt.Errorf("failed to save workflow state: %w", err)
		}
		if transition == nil {
			return nil
		}

		id := transition.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO workflow_transitions (
				id, shipment_id, from_state, to_state, phase, priority,
				trigger_document_type, trigger_document_id, source, transitioned_at
			) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, NOW())`,
			id, transition.ShipmentID, transition.FromState, transition.ToState, string(transition.Phase),
			transition.Priority, string(transition.TriggerDocType), transition.TriggerDocumentID, string(transition.Source),
		)
		if err != nil {
			return fmt.Errorf("failed to record workflow transition: %w", err)
		}
		return nil
	})
}

func (s *Store) ListTransitions(ctx context.Context, shipmentID uuid.UUID) ([]*domain.WorkflowTransition, error) {
	var rows []transitionRow
	err := s.conn(ctx).SelectContext(ctx, &rows, `
		SELECT id, shipment_id, from_state, to_state, phase, priority,
			trigger_document_type, trigger_document_id, source, transitioned_at
		FROM workflow_transitions
		WHERE shipment_id = $1
		ORDER BY seq ASC`,
		shipmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow transitions: %w", err)
	}

	transitions := make([]*domain.WorkflowTransition, 0, len(rows))
	for _, r := range rows {
		transitions = append(transitions, &domain.WorkflowTransition{
			ID:                r.ID,
			ShipmentID:        r.ShipmentID,
			FromState:         r.FromState.String,
			ToState:           r.ToState,
			Phase:             domain.Phase(r.Phase),
			Priority:          r.Priority,
			TriggerDocType:    domain.DocumentType(r.TriggerDocType),
			TriggerDocumentID: r.TriggerDocumentID,
			Source:            domain.TransitionSource(r.Source),
			TransitionedAt:    r.TransitionedAt,
		})
	}
	return transitions, nil
}

// isUniqueViolation matches SQLSTATE 23505 from either pgx or lib/pq.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
