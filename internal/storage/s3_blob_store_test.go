package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verification/internal/config"
	"merchant-verification/internal/model"
)

type fakeS3 struct {
	last   *s3.PutObjectInput
	body   string
	putErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.last = in
	data, _ := io.ReadAll(in.Body)
	f.body = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func upload(body string) *model.Upload {
	return &model.Upload{Filename: "pan.pdf", MimeType: "application/pdf", Size: int64(len(body)), Body: strings.NewReader(body)}
}

func TestPut(t *testing.T) {
	fake := &fakeS3{}
	store, err := NewS3BlobStore(fake, config.StorageConfig{Bucket: "kyc", Region: "ap-south-1"})
	require.NoError(t, err)

	u, err := store.Put(context.Background(), "verification/o1/documents/pan/d1.pdf", upload("%PDF-1.4"))
	require.NoError(t, err)

	assert.Equal(t, "https://kyc.s3.ap-south-1.amazonaws.com/verification/o1/documents/pan/d1.pdf", u)
	assert.Equal(t, "kyc", aws.ToString(fake.last.Bucket))
	assert.Equal(t, "application/pdf", aws.ToString(fake.last.ContentType))
	assert.Equal(t, types.ServerSideEncryptionAes256, fake.last.ServerSideEncryption)
	assert.Equal(t, "%PDF-1.4", fake.body)
}

func TestObjectURL(t *testing.T) {
	store, err := NewS3BlobStore(&fakeS3{}, config.StorageConfig{Bucket: "kyc", PublicBaseURL: "https://cdn.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a/b%20c.png", store.ObjectURL("a/b c.png"))

	store, err = NewS3BlobStore(&fakeS3{}, config.StorageConfig{Bucket: "kyc", Endpoint: "http://minio:9000"})
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/kyc/a.png", store.ObjectURL("a.png"))
}

func TestPutFailure(t *testing.T) {
	store, err := NewS3BlobStore(&fakeS3{putErr: errors.New("access denied")}, config.StorageConfig{Bucket: "kyc"})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "x", upload("x"))
	assert.ErrorContains(t, err, "access denied")
}

func TestBucketRequired(t *testing.T) {
	_, err := NewS3BlobStore(&fakeS3{}, config.StorageConfig{})
	assert.ErrorIs(t, err, ErrBucketNotConfigured)
}
