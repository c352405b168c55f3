package service

import (
	"context"
	"strings"
	"testing"

	"merchant-verification/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

func TestSubmitDocument_Accepted(t *testing.T) {
	p := newPipeline(t)

	doc, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/jpeg", 1024), "ABCDE1234F")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, doc.Status)
	assert.NotEmpty(t, doc.DocumentID)
	assert.Equal(t, "******234F", doc.NumberMasked)
	assert.Equal(t, "enc:document_number:ABCDE1234F", doc.NumberCipher)
	assert.True(t, strings.HasSuffix(doc.BlobPath, ".jpg"))
	assert.Equal(t, "memory://"+doc.BlobPath, doc.BlobURL)
	assert.Equal(t, testStart, doc.UploadedAt)

	stored, ok := p.blobs.Get(doc.BlobPath)
	require.True(t, ok)
	assert.Len(t, stored, 1024)
}

func TestSubmitDocument_FileTooLarge(t *testing.T) {
	p := newPipeline(t)
	_, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/jpeg", 6*mb), "")
	ve := requireKind(t, err, KindFileTooLarge)
	assert.Equal(t, int64(5*mb), ve.Details["max_bytes"])
	assert.Zero(t, p.blobs.Len())
}

func TestSubmitDocument_ExactLimitAccepted(t *testing.T) {
	p := newPipeline(t)
	_, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("application/pdf", 5*mb), "")
	require.NoError(t, err)
}

func TestSubmitDocument_InvalidFileType(t *testing.T) {
	p := newPipeline(t)
	_, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("application/x-msdownload", 2048), "")
	ve := requireKind(t, err, KindInvalidFileType)
	assert.Equal(t, "application/x-msdownload", ve.Details["mime_type"])
}

func TestSubmitDocument_AlreadyApproved(t *testing.T) {
	p := newPipeline(t)
	doc, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/png", 100), "")
	require.NoError(t, err)
	require.NoError(t, p.documents.Review(doc.DocumentID, model.StatusApproved, "reviewer-7", "", testStart))

	_, err = p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/png", 100), "")
	requireKind(t, err, KindAlreadyApproved)

	// Other types are unaffected.
	_, err = p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentAadhaar, upload("image/png", 100), "")
	require.NoError(t, err)
}

func TestSubmitDocument_RejectedAllowsNewRow(t *testing.T) {
	p := newPipeline(t)
	first, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/png", 100), "")
	require.NoError(t, err)
	require.NoError(t, p.documents.Review(first.DocumentID, model.StatusRejected, "reviewer-7", "blurry", testStart))

	second, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/png", 100), "")
	require.NoError(t, err)
	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, model.StatusPendingReview, second.Status)

	docs, err := p.documents.ListDocuments(context.Background(), testOwner, model.DocumentPAN)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, model.StatusRejected, docs[0].Status)
	assert.Equal(t, model.StatusPendingReview, docs[1].Status)
}

func TestSubmitDocument_PendingAllowsNewRow(t *testing.T) {
	p := newPipeline(t)
	for i := 0; i < 2; i++ {
		_, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/png", 100), "")
		require.NoError(t, err)
	}
	docs, _ := p.documents.ListDocuments(context.Background(), testOwner, model.DocumentPAN)
	assert.Len(t, docs, 2)
}

func TestSubmitDocument_BlobFailure(t *testing.T) {
	p := newPipeline(t)
	p.intake.blobs = failingBlobStore{}

	_, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/png", 100), "")
	requireKind(t, err, KindStorageError)
	docs, _ := p.documents.ListOwnerDocuments(context.Background(), testOwner)
	assert.Empty(t, docs)
}

func TestSubmitDocument_MetadataFailureLeavesBlob(t *testing.T) {
	p := newPipeline(t)
	p.intake.documents = failingDocumentStore{p.documents}

	_, err := p.intake.SubmitDocument(context.Background(), testOwner, model.DocumentPAN, upload("image/png", 100), "")
	requireKind(t, err, KindStorageError)
	assert.Equal(t, 1, p.blobs.Len(), "orphaned blob is an accepted gap")
}

func TestSubmitSelfie(t *testing.T) {
	p := newPipeline(t)

	selfie, err := p.intake.SubmitSelfie(context.Background(), testOwner, upload("image/jpeg", 2*mb))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, selfie.Status)

	_, err = p.intake.SubmitSelfie(context.Background(), testOwner, upload("image/jpeg", 3*mb+1))
	requireKind(t, err, KindFileTooLarge)

	_, err = p.intake.SubmitSelfie(context.Background(), testOwner, upload("application/pdf", 100))
	requireKind(t, err, KindInvalidFileType)

	require.NoError(t, p.documents.Review(selfie.SelfieID, model.StatusApproved, "reviewer-7", "", testStart))
	_, err = p.intake.SubmitSelfie(context.Background(), testOwner, upload("image/png", 100))
	requireKind(t, err, KindAlreadyApproved)
}

func TestSubmit_MissingFile(t *testing.T) {
	p := newPipeline(t)
	_, err := p.intake.SubmitSelfie(context.Background(), testOwner, nil)
	requireKind(t, err, KindInvalidInput)
}
