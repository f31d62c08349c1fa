package mongodb

import (
	"context"
	"fmt"
	"time"

	"freight_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Oracle Audit Adapter
// =============================================================================

const (
	collectionOracleCalls = "oracle_calls"

	// 90일 보관
	oracleCallRetention = 90 * 24 * time.Hour
)

var _ out.OracleAuditStore = (*AuditAdapter)(nil)

// AuditAdapter keeps every raw oracle response for later inspection.
type AuditAdapter struct {
	collection *mongo.Collection
}

// NewAuditAdapter creates a new AuditAdapter.
func NewAuditAdapter(db *mongo.Database) *AuditAdapter {
	return &AuditAdapter{collection: db.Collection(collectionOracleCalls)}
}

// EnsureIndexes creates the lookup and TTL indexes.
func (a *AuditAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "called_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type oracleCallDocument struct {
	DocumentID string    `bson:"document_id"`
	Kind       string    `bson:"kind"`
	Tier       string    `bson:"tier,omitempty"`
	Model      string    `bson:"model"`
	Response   string    `bson:"response"`
	Error      string    `bson:"error,omitempty"`
	LatencyMS  int64     `bson:"latency_ms"`
	CalledAt   time.Time `bson:"called_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

// RecordCall appends one oracle exchange.
func (a *AuditAdapter) RecordCall(ctx context.Context, call *out.OracleCall) error {
	now := time.Now().UTC()
	doc := &oracleCallDocument{
		DocumentID: call.DocumentID.String(),
		Kind:       call.Kind,
		Tier:       string(call.Tier),
		Model:      call.Model,
		Response:   call.Response,
		Error:      call.Error,
		LatencyMS:  call.LatencyMS,
		CalledAt:   now,
		ExpiresAt:  now.Add(oracleCallRetention),
	}

	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to record oracle call: %w", err)
	}
	return nil
}
