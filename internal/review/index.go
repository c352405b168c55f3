// Package review feeds the reviewer queue: every artifact awaiting a manual
// decision is indexed so reviewers can search pending work.
package review

import (
	"context"
	"time"

	"merchant-verification/internal/model"
)

type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// QueueEntry is the searchable projection of an artifact. It never carries
// the document number, masked or not.
type QueueEntry struct {
	ArtifactID   string             `json:"artifact_id"`
	Kind         string             `json:"kind"`
	OwnerID      string             `json:"owner_id"`
	DocumentType model.DocumentType `json:"document_type,omitempty"`
	BlobURL      string             `json:"blob_url"`
	MimeType     string             `json:"mime_type"`
	SizeBytes    int64              `json:"size_bytes"`
	Status       model.ReviewStatus `json:"status"`
	UploadedAt   time.Time          `json:"uploaded_at"`
}

type ESReviewIndex struct {
	indexer Indexer
	index   string
}

func NewESReviewIndex(indexer Indexer, index string) *ESReviewIndex {
	return &ESReviewIndex{indexer: indexer, index: index}
}

func (r *ESReviewIndex) IndexDocument(ctx context.Context, doc *model.IdentityDocument) error {
	return r.indexer.IndexDocument(ctx, r.index, doc.DocumentID, QueueEntry{
		ArtifactID:   doc.DocumentID,
		Kind:         "document",
		OwnerID:      doc.OwnerID,
		DocumentType: doc.DocumentType,
		BlobURL:      doc.BlobURL,
		MimeType:     doc.MimeType,
		SizeBytes:    doc.SizeBytes,
		Status:       doc.Status,
		UploadedAt:   doc.UploadedAt,
	})
}

func (r *ESReviewIndex) IndexSelfie(ctx context.Context, s *model.SelfieVerification) error {
	return r.indexer.IndexDocument(ctx, r.index, s.SelfieID, QueueEntry{
		ArtifactID: s.SelfieID,
		Kind:       "selfie",
		OwnerID:    s.OwnerID,
		BlobURL:    s.BlobURL,
		MimeType:   s.MimeType,
		SizeBytes:  s.SizeBytes,
		Status:     s.Status,
		UploadedAt: s.UploadedAt,
	})
}
