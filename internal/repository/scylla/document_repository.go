package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"merchant-verification/internal/bucketing"
	"merchant-verification/internal/model"
	"merchant-verification/internal/util"
)

const (
	documentColumns = `document_id, document_type, number_cipher, number_masked, blob_path, blob_url,
		mime_type, size_bytes, status, uploaded_at, reviewed_at, reviewer, rejection_reason`

	insertDocument = `INSERT INTO identity_documents (owner_bucket, owner_id, ` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectOwnerDocuments = `SELECT ` + documentColumns + ` FROM identity_documents
		WHERE owner_bucket = ? AND owner_id = ?`
	selectOwnerDocumentsByType = selectOwnerDocuments + ` AND document_type = ?`

	selfieColumns = `selfie_id, blob_path, blob_url, mime_type, size_bytes, status,
		uploaded_at, reviewed_at, reviewer, rejection_reason`

	insertSelfie = `INSERT INTO selfie_verifications (owner_bucket, owner_id, ` + selfieColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectOwnerSelfies = `SELECT ` + selfieColumns + ` FROM selfie_verifications
		WHERE owner_bucket = ? AND owner_id = ?`
)

// DocumentRepository stores identity documents and selfies partitioned by
// (owner_bucket, owner_id). Rows are only ever inserted; reviewers update
// status out of band.
type DocumentRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewDocumentRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *DocumentRepository {
	return &DocumentRepository{client: client, buckets: buckets}
}

func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *model.IdentityDocument) error {
	q := r.client.Query(ctx, insertDocument,
		r.buckets.OwnerBucket(doc.OwnerID), doc.OwnerID,
		doc.DocumentID, string(doc.DocumentType), doc.NumberCipher, doc.NumberMasked,
		doc.BlobPath, doc.BlobURL, doc.MimeType, doc.SizeBytes, string(doc.Status),
		doc.UploadedAt, doc.ReviewedAt, doc.Reviewer, doc.RejectionReason)

	if err := r.client.ExecuteWithRetry(ctx, q, 2); err != nil {
		util.Error("Failed to create identity document",
			zap.String("owner_id", doc.OwnerID),
			zap.String("document_id", doc.DocumentID),
			zap.Error(err))
		return fmt.Errorf("failed to create identity document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListOwnerDocuments(ctx context.Context, ownerID string) ([]*model.IdentityDocument, error) {
	return r.listDocuments(ctx, r.client.Query(ctx, selectOwnerDocuments, r.buckets.OwnerBucket(ownerID), ownerID), ownerID)
}

func (r *DocumentRepository) ListDocuments(ctx context.Context, ownerID string, docType model.DocumentType) ([]*model.IdentityDocument, error) {
	return r.listDocuments(ctx, r.client.Query(ctx, selectOwnerDocumentsByType, r.buckets.OwnerBucket(ownerID), ownerID, string(docType)), ownerID)
}

func (r *DocumentRepository) listDocuments(_ context.Context, q *gocql.Query, ownerID string) ([]*model.IdentityDocument, error) {
	iter := q.Iter()

	var docs []*model.IdentityDocument
	for {
		var (
			d               model.IdentityDocument
			docType, status string
			reviewedAt      *time.Time
		)
		if !iter.Scan(&d.DocumentID, &docType, &d.NumberCipher, &d.NumberMasked, &d.BlobPath, &d.BlobURL,
			&d.MimeType, &d.SizeBytes, &status, &d.UploadedAt, &reviewedAt, &d.Reviewer, &d.RejectionReason) {
			break
		}
		d.OwnerID = ownerID
		d.DocumentType = model.DocumentType(docType)
		d.Status = model.ReviewStatus(status)
		d.ReviewedAt = nonZero(reviewedAt)
		docs = append(docs, &d)
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to list identity documents", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("failed to list identity documents: %w", err)
	}
	return docs, nil
}

func (r *DocumentRepository) CreateSelfie(ctx context.Context, s *model.SelfieVerification) error {
	q := r.client.Query(ctx, insertSelfie,
		r.buckets.OwnerBucket(s.OwnerID), s.OwnerID,
		s.SelfieID, s.BlobPath, s.BlobURL, s.MimeType, s.SizeBytes, string(s.Status),
		s.UploadedAt, s.ReviewedAt, s.Reviewer, s.RejectionReason)

	if err := r.client.ExecuteWithRetry(ctx, q, 2); err != nil {
		util.Error("Failed to create selfie verification",
			zap.String("owner_id", s.OwnerID),
			zap.String("selfie_id", s.SelfieID),
			zap.Error(err))
		return fmt.Errorf("failed to create selfie verification: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListSelfies(ctx context.Context, ownerID string) ([]*model.SelfieVerification, error) {
	iter := r.client.Query(ctx, selectOwnerSelfies, r.buckets.OwnerBucket(ownerID), ownerID).Iter()

	var selfies []*model.SelfieVerification
	for {
		var (
			s          model.SelfieVerification
			status     string
			reviewedAt *time.Time
		)
		if !iter.Scan(&s.SelfieID, &s.BlobPath, &s.BlobURL, &s.MimeType, &s.SizeBytes, &status,
			&s.UploadedAt, &reviewedAt, &s.Reviewer, &s.RejectionReason) {
			break
		}
		s.OwnerID = ownerID
		s.Status = model.ReviewStatus(status)
		s.ReviewedAt = nonZero(reviewedAt)
		selfies = append(selfies, &s)
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to list selfie verifications", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("failed to list selfie verifications: %w", err)
	}
	return selfies, nil
}

func nonZero(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}
