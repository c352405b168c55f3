package service

import (
	"context"
	"fmt"
	"strings"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/model"
	"merchant-verification/internal/observability/metrics"
	"merchant-verification/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultDocumentMaxBytes = 5 * 1024 * 1024
	DefaultSelfieMaxBytes   = 3 * 1024 * 1024
)

var (
	documentMimeTypes = map[string]string{
		"image/jpeg":      ".jpg",
		"image/png":       ".png",
		"application/pdf": ".pdf",
	}
	selfieMimeTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
	}
)

type IntakeConfig struct {
	DocumentMaxBytes int64
	SelfieMaxBytes   int64
}

// IntakeService validates identity artifacts, stores the file and records a
// PendingReview row. A blob left behind by a failed metadata write is not
// cleaned up; the caller retries the submission.
type IntakeService struct {
	documents DocumentStore
	blobs     BlobStore
	encryptor FieldEncryptor
	review    ReviewIndex
	clock     clock.Clock
	cfg       IntakeConfig
	logger    *zap.Logger
}

func NewIntakeService(documents DocumentStore, blobs BlobStore, encryptor FieldEncryptor, review ReviewIndex, clk clock.Clock, cfg IntakeConfig, logger *zap.Logger) *IntakeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DocumentMaxBytes <= 0 {
		cfg.DocumentMaxBytes = DefaultDocumentMaxBytes
	}
	if cfg.SelfieMaxBytes <= 0 {
		cfg.SelfieMaxBytes = DefaultSelfieMaxBytes
	}
	return &IntakeService{
		documents: documents,
		blobs:     blobs,
		encryptor: encryptor,
		review:    review,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *IntakeService) SubmitDocument(ctx context.Context, ownerID string, docType model.DocumentType, upload *model.Upload, documentNumber string) (*model.IdentityDocument, error) {
	ext, err := validateUpload(upload, documentMimeTypes, s.cfg.DocumentMaxBytes)
	if err != nil {
		metrics.IntakeSubmissionsTotal.WithLabelValues("document", "invalid").Inc()
		return nil, err
	}

	existing, err := s.documents.ListDocuments(ctx, ownerID, docType)
	if err != nil {
		return nil, wrapError(KindStorageError, "failed to read existing documents", err)
	}
	for _, d := range existing {
		if d.Status == model.StatusApproved {
			metrics.IntakeSubmissionsTotal.WithLabelValues("document", "already_approved").Inc()
			return nil, newError(KindAlreadyApproved, "an approved document of this type already exists").
				WithDetail("document_type", string(docType)).
				WithDetail("document_id", d.DocumentID)
		}
	}

	doc := &model.IdentityDocument{
		DocumentID:   uuid.NewString(),
		OwnerID:      ownerID,
		DocumentType: docType,
		MimeType:     upload.MimeType,
		SizeBytes:    upload.Size,
		Status:       model.StatusPendingReview,
	}

	if number := strings.TrimSpace(documentNumber); number != "" {
		doc.NumberMasked = util.MaskTail(number, 4)
		if s.encryptor != nil {
			cipher, err := s.encryptor.EncryptString(ctx, number, "document_number")
			if err != nil {
				s.logger.Error("Failed to encrypt document number", zap.String("owner_id", ownerID), zap.Error(err))
				return nil, wrapError(KindStorageError, "failed to protect document number", err)
			}
			doc.NumberCipher = cipher
		}
	}

	doc.BlobPath = fmt.Sprintf("verification/%s/documents/%s/%s%s", ownerID, docType, doc.DocumentID, ext)
	url, err := s.blobs.Put(ctx, doc.BlobPath, upload)
	if err != nil {
		metrics.IntakeSubmissionsTotal.WithLabelValues("document", "storage_error").Inc()
		s.logger.Error("Document upload failed", zap.String("owner_id", ownerID), zap.String("path", doc.BlobPath), zap.Error(err))
		return nil, wrapError(KindStorageError, "failed to store document", err)
	}
	doc.BlobURL = url
	doc.UploadedAt = s.clock.Now()

	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		metrics.IntakeSubmissionsTotal.WithLabelValues("document", "storage_error").Inc()
		s.logger.Warn("Document metadata write failed after upload, blob left orphaned",
			zap.String("owner_id", ownerID), zap.String("path", doc.BlobPath), zap.Error(err))
		return nil, wrapError(KindStorageError, "failed to record document", err)
	}

	if s.review != nil {
		if err := s.review.IndexDocument(ctx, doc); err != nil {
			s.logger.Warn("Failed to index document for review", zap.String("document_id", doc.DocumentID), zap.Error(err))
		}
	}

	metrics.IntakeSubmissionsTotal.WithLabelValues("document", "accepted").Inc()
	s.logger.Info("Document submitted",
		zap.String("owner_id", ownerID),
		zap.String("document_id", doc.DocumentID),
		zap.String("document_type", string(docType)),
		zap.Int64("size_bytes", doc.SizeBytes))

	return doc, nil
}

func (s *IntakeService) SubmitSelfie(ctx context.Context, ownerID string, upload *model.Upload) (*model.SelfieVerification, error) {
	ext, err := validateUpload(upload, selfieMimeTypes, s.cfg.SelfieMaxBytes)
	if err != nil {
		metrics.IntakeSubmissionsTotal.WithLabelValues("selfie", "invalid").Inc()
		return nil, err
	}

	existing, err := s.documents.ListSelfies(ctx, ownerID)
	if err != nil {
		return nil, wrapError(KindStorageError, "failed to read existing selfies", err)
	}
	for _, sv := range existing {
		if sv.Status == model.StatusApproved {
			metrics.IntakeSubmissionsTotal.WithLabelValues("selfie", "already_approved").Inc()
			return nil, newError(KindAlreadyApproved, "an approved selfie already exists").
				WithDetail("selfie_id", sv.SelfieID)
		}
	}

	selfie := &model.SelfieVerification{
		SelfieID:  uuid.NewString(),
		OwnerID:   ownerID,
		MimeType:  upload.MimeType,
		SizeBytes: upload.Size,
		Status:    model.StatusPendingReview,
	}
	selfie.BlobPath = fmt.Sprintf("verification/%s/selfies/%s%s", ownerID, selfie.SelfieID, ext)

	url, err := s.blobs.Put(ctx, selfie.BlobPath, upload)
	if err != nil {
		metrics.IntakeSubmissionsTotal.WithLabelValues("selfie", "storage_error").Inc()
		s.logger.Error("Selfie upload failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, wrapError(KindStorageError, "failed to store selfie", err)
	}
	selfie.BlobURL = url
	selfie.UploadedAt = s.clock.Now()

	if err := s.documents.CreateSelfie(ctx, selfie); err != nil {
		metrics.IntakeSubmissionsTotal.WithLabelValues("selfie", "storage_error").Inc()
		s.logger.Warn("Selfie metadata write failed after upload, blob left orphaned",
			zap.String("owner_id", ownerID), zap.String("path", selfie.BlobPath), zap.Error(err))
		return nil, wrapError(KindStorageError, "failed to record selfie", err)
	}

	if s.review != nil {
		if err := s.review.IndexSelfie(ctx, selfie); err != nil {
			s.logger.Warn("Failed to index selfie for review", zap.String("selfie_id", selfie.SelfieID), zap.Error(err))
		}
	}

	metrics.IntakeSubmissionsTotal.WithLabelValues("selfie", "accepted").Inc()
	s.logger.Info("Selfie submitted", zap.String("owner_id", ownerID), zap.String("selfie_id", selfie.SelfieID))
	return selfie, nil
}

func validateUpload(upload *model.Upload, allowed map[string]string, maxBytes int64) (string, error) {
	if upload == nil || upload.Body == nil {
		return "", newError(KindInvalidInput, "file is required").WithDetail("field", "file")
	}
	mimeType := strings.ToLower(strings.TrimSpace(strings.SplitN(upload.MimeType, ";", 2)[0]))
	ext, ok := allowed[mimeType]
	if !ok {
		accepted := make([]string, 0, len(allowed))
		for m := range allowed {
			accepted = append(accepted, m)
		}
		return "", newError(KindInvalidFileType, "unsupported file type").
			WithDetail("mime_type", upload.MimeType).
			WithDetail("accepted", accepted)
	}
	if upload.Size > maxBytes {
		return "", newError(KindFileTooLarge, "file exceeds the size limit").
			WithDetail("max_bytes", maxBytes).
			WithDetail("size_bytes", upload.Size)
	}
	upload.MimeType = mimeType
	return ext, nil
}
