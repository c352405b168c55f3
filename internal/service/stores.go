package service

import (
	"context"
	"time"

	"merchant-verification/internal/geo"
	"merchant-verification/internal/model"
)

// ChallengeStore holds one challenge per (identifier, channel). Get returns
// repository.ErrNotFound when absent; Update returns
// repository.ErrVersionConflict when the stored version is not expectedVersion.
type ChallengeStore interface {
	SaveChallenge(ctx context.Context, c *model.Challenge) error
	GetChallenge(ctx context.Context, identifier string, channel model.Channel) (*model.Challenge, error)
	UpdateChallenge(ctx context.Context, c *model.Challenge, expectedVersion int64) error
}

// AttemptLog is the append-only record behind the abuse guard.
type AttemptLog interface {
	AppendAttempt(ctx context.Context, e *model.AttemptLogEntry, retention time.Duration) error
	CountAttempts(ctx context.Context, identifier string, channel model.Channel, since time.Time) (int, error)
	DeviceIdentifiers(ctx context.Context, fingerprint string) ([]string, error)
}

type UserDirectory interface {
	UsersByPhone(ctx context.Context, phone string) ([]model.UserPhone, error)
}

type VenueDirectory interface {
	GetVenue(ctx context.Context, venueID string) (*model.Venue, error)
}

type MerchantProfileStore interface {
	RecordLocationVerification(ctx context.Context, rec *model.MerchantLocationRecord) error
}

type DocumentStore interface {
	ListDocuments(ctx context.Context, ownerID string, docType model.DocumentType) ([]*model.IdentityDocument, error)
	ListOwnerDocuments(ctx context.Context, ownerID string) ([]*model.IdentityDocument, error)
	CreateDocument(ctx context.Context, doc *model.IdentityDocument) error
	ListSelfies(ctx context.Context, ownerID string) ([]*model.SelfieVerification, error)
	CreateSelfie(ctx context.Context, s *model.SelfieVerification) error
}

// BlobStore is an opaque URL-returning file store.
type BlobStore interface {
	Put(ctx context.Context, path string, upload *model.Upload) (string, error)
}

// Sender delivers a plaintext code to a destination on a channel.
type Sender interface {
	Send(ctx context.Context, channel model.Channel, destination, code string) error
}

// PositionSource yields the caller's current fix or a PositionUnavailable error.
type PositionSource interface {
	CurrentPosition(ctx context.Context, opts model.PositionOptions) (*model.Position, error)
}

type CityLookup interface {
	City(ctx context.Context, c geo.Coordinates) string
}

// FieldEncryptor encrypts sensitive free-text fields before persistence.
type FieldEncryptor interface {
	EncryptString(ctx context.Context, plaintext, field string) (string, error)
}

// Best-effort collaborators. Failures are logged, never surfaced.

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, key string, payload interface{}) error
}

type ReviewIndex interface {
	IndexDocument(ctx context.Context, doc *model.IdentityDocument) error
	IndexSelfie(ctx context.Context, s *model.SelfieVerification) error
}

type AuditSink interface {
	RecordAttempt(ctx context.Context, e *model.AttemptLogEntry) error
}
