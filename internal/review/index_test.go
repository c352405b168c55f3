package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verification/internal/model"
)

type captureIndexer struct {
	index, id string
	doc       interface{}
}

func (c *captureIndexer) IndexDocument(_ context.Context, index, id string, document interface{}) error {
	c.index, c.id, c.doc = index, id, document
	return nil
}

func TestIndexDocumentOmitsNumber(t *testing.T) {
	c := &captureIndexer{}
	idx := NewESReviewIndex(c, "verification-review")

	err := idx.IndexDocument(context.Background(), &model.IdentityDocument{
		DocumentID:   "d1",
		OwnerID:      "o1",
		DocumentType: model.DocumentPAN,
		NumberCipher: "cipher",
		NumberMasked: "****234F",
		Status:       model.StatusPendingReview,
		UploadedAt:   time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, "verification-review", c.index)
	assert.Equal(t, "d1", c.id)
	entry := c.doc.(QueueEntry)
	assert.Equal(t, "document", entry.Kind)
	assert.Equal(t, model.DocumentPAN, entry.DocumentType)
}

func TestIndexSelfie(t *testing.T) {
	c := &captureIndexer{}
	idx := NewESReviewIndex(c, "verification-review")

	require.NoError(t, idx.IndexSelfie(context.Background(), &model.SelfieVerification{SelfieID: "s1", OwnerID: "o1"}))
	assert.Equal(t, "s1", c.id)
	assert.Equal(t, "selfie", c.doc.(QueueEntry).Kind)
}
