package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"freight_server/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Document Content Adapter
// =============================================================================

const (
	collectionDocumentContent = "document_content"

	// Compression threshold - only compress if content is larger than this
	compressionThreshold = 1024 // 1KB
)

var _ out.ContentStore = (*ContentAdapter)(nil)

// ContentAdapter implements out.ContentStore.
type ContentAdapter struct {
	collection *mongo.Collection
}

// NewContentAdapter creates a new ContentAdapter.
func NewContentAdapter(db *mongo.Database) *ContentAdapter {
	return &ContentAdapter{collection: db.Collection(collectionDocumentContent)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ContentAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "external_id", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type contentDocument struct {
	DocumentID string `bson:"document_id"`
	ExternalID string `bson:"external_id"`
	InReplyTo  string `bson:"in_reply_to,omitempty"`
	Subject    string `bson:"subject"`

	// Content (potentially compressed)
	Body           []byte `bson:"body"`
	AttachmentText []byte `bson:"attachment_text"`
	IsCompressed   bool   `bson:"is_compressed"`

	OriginalSize   int64     `bson:"original_size"`
	CompressedSize int64     `bson:"compressed_size"`
	StoredAt       time.Time `bson:"stored_at"`
}

// =============================================================================
// Operations
// =============================================================================

// SaveContent upserts the raw content of a document.
func (a *ContentAdapter) SaveContent(ctx context.Context, c *out.DocumentContent) error {
	doc, err := toContentDocument(c)
	if err != nil {
		return fmt.Errorf("failed to convert content: %w", err)
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"document_id": doc.DocumentID}
	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save document content: %w", err)
	}
	return nil
}

// GetContent returns nil when no content was stored for the document.
func (a *ContentAdapter) GetContent(ctx context.Context, documentID uuid.UUID) (*out.DocumentContent, error) {
	var doc contentDocument
	err := a.collection.FindOne(ctx, bson.M{"document_id": documentID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document content: %w", err)
	}
	return fromContentDocument(&doc)
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func toContentDocument(c *out.DocumentContent) (*contentDocument, error) {
	body := []byte(c.Body)
	attachment := []byte(c.AttachmentText)
	originalSize := int64(len(body) + len(attachment))

	isCompressed := false
	compressedSize := originalSize

	if originalSize > compressionThreshold {
		var err error
		if body, err = compress(body); err != nil {
			return nil, fmt.Errorf("failed to compress body: %w", err)
		}
		if attachment, err = compress(attachment); err != nil {
			return nil, fmt.Errorf("failed to compress attachment text: %w", err)
		}
		isCompressed = true
		compressedSize = int64(len(body) + len(attachment))
	}

	storedAt := c.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	return &contentDocument{
		DocumentID:     c.DocumentID.String(),
		ExternalID:     c.ExternalID,
		InReplyTo:      c.InReplyTo,
		Subject:        c.Subject,
		Body:           body,
		AttachmentText: attachment,
		IsCompressed:   isCompressed,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		StoredAt:       storedAt,
	}, nil
}

func fromContentDocument(doc *contentDocument) (*out.DocumentContent, error) {
	id, err := uuid.Parse(doc.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", doc.DocumentID, err)
	}

	body, attachment := doc.Body, doc.AttachmentText
	if doc.IsCompressed {
		if body, err = decompress(doc.Body); err != nil {
			return nil, fmt.Errorf("failed to decompress body: %w", err)
		}
		if attachment, err = decompress(doc.AttachmentText); err != nil {
			return nil, fmt.Errorf("failed to decompress attachment text: %w", err)
		}
	}

	return &out.DocumentContent{
		DocumentID:     id,
		ExternalID:     doc.ExternalID,
		InReplyTo:      doc.InReplyTo,
		Subject:        doc.Subject,
		Body:           string(body),
		AttachmentText: string(attachment),
		StoredAt:       doc.StoredAt,
	}, nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
