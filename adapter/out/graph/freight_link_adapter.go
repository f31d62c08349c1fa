package graph

import (
	"context"
	"fmt"

	"freight_server/core/port/out"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// =============================================================================
// Neo4j Link Projection Adapter
// =============================================================================

var _ out.LinkProjector = (*LinkAdapter)(nil)

// LinkAdapter projects (Shipment)-[:HAS_DOCUMENT]->(Document)<-[:CONTAINS]-(Thread).
type LinkAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

// NewLinkAdapter creates a new LinkAdapter.
func NewLinkAdapter(driver neo4j.DriverWithContext, dbName string) *LinkAdapter {
	return &LinkAdapter{driver: driver, dbName: dbName}
}

// EnsureIndexes creates uniqueness constraints for the projected nodes.
func (a *LinkAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT shipment_id_unique IF NOT EXISTS FOR (s:Shipment) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT thread_id_unique IF NOT EXISTS FOR (t:Thread) REQUIRE t.id IS UNIQUE`,
		`CREATE INDEX shipment_booking_idx IF NOT EXISTS FOR (s:Shipment) ON (s.booking_number)`,
	}

	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to ensure graph index: %w", err)
		}
	}
	return nil
}

// ProjectLink merges the shipment, document and thread nodes and moves the
// document's HAS_DOCUMENT edge to the given shipment.
func (a *LinkAdapter) ProjectLink(ctx context.Context, p *out.LinkProjection) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MERGE (s:Shipment {id: $shipmentID})
			SET s.booking_number = $booking
			MERGE (d:Document {id: $documentID})
			SET d.document_type = $docType
			WITH s, d
			OPTIONAL MATCH (:Shipment)-[old:HAS_DOCUMENT]->(d)
			DELETE old
			WITH s, d
			MERGE (s)-[r:HAS_DOCUMENT]->(d)
			SET r.method = $method, r.linked_at = timestamp()
		`
		params := map[string]any{
			"shipmentID": p.ShipmentID.String(),
			"booking":    p.BookingNumber,
			"documentID": p.DocumentID.String(),
			"docType":    string(p.DocumentType),
			"method":     string(p.Method),
		}
		if _, err := tx.Run(ctx, query, params); err != nil {
			return nil, err
		}

		if p.ThreadID == "" {
			return nil, nil
		}
		threadQuery := `
			MERGE (t:Thread {id: $threadID})
			WITH t
			MATCH (d:Document {id: $documentID})
			MERGE (t)-[:CONTAINS]->(d)
		`
		_, err := tx.Run(ctx, threadQuery, map[string]any{
			"threadID":   p.ThreadID,
			"documentID": p.DocumentID.String(),
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to project link: %w", err)
	}
	return nil
}

// RemoveLink deletes the HAS_DOCUMENT edge between a shipment and a document.
func (a *LinkAdapter) RemoveLink(ctx context.Context, shipmentID, documentID uuid.UUID) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	query := `
		MATCH (:Shipment {id: $shipmentID})-[r:HAS_DOCUMENT]->(:Document {id: $documentID})
		DELETE r
	`
	_, err := session.Run(ctx, query, map[string]any{
		"shipmentID": shipmentID.String(),
		"documentID": documentID.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to remove link: %w", err)
	}
	return nil
}
