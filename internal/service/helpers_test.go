package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/config"
	"merchant-verification/internal/geo"
	"merchant-verification/internal/hashing"
	"merchant-verification/internal/model"
	"merchant-verification/internal/repository/memory"

	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type sentCode struct {
	Channel     model.Channel
	Destination string
	Code        string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (s *recordingSender) Send(_ context.Context, channel model.Channel, destination, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentCode{Channel: channel, Destination: destination, Code: code})
	return nil
}

func (s *recordingSender) last(t *testing.T) sentCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent, "no code was sent")
	return s.sent[len(s.sent)-1]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEvents) Publish(_ context.Context, eventType, _ string, _ interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
	return nil
}

type failingBlobStore struct{}

func (failingBlobStore) Put(context.Context, string, *model.Upload) (string, error) {
	return "", errors.New("bucket unavailable")
}

type failingDocumentStore struct {
	*memory.DocumentStore
}

func (failingDocumentStore) CreateDocument(context.Context, *model.IdentityDocument) error {
	return errors.New("write timeout")
}

type upperEncryptor struct{}

func (upperEncryptor) EncryptString(_ context.Context, plaintext, field string) (string, error) {
	return "enc:" + field + ":" + plaintext, nil
}

type pipeline struct {
	clock     *clock.Fake
	sender    *recordingSender
	events    *recordingEvents
	attempts  *memory.AttemptLog
	directory *memory.Directory
	documents *memory.DocumentStore
	blobs     *memory.BlobStore

	guard    *AbuseGuard
	otp      *OTPService
	location *LocationService
	intake   *IntakeService
	orch     *Orchestrator
}

const (
	testOwner = "owner-1"
	testVenue = "venue-1"
)

var venueCoords = geo.Coordinates{Latitude: 19.0760, Longitude: 72.8777}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	p := &pipeline{
		clock:     clock.NewFake(testStart),
		sender:    &recordingSender{},
		events:    &recordingEvents{},
		attempts:  memory.NewAttemptLog(),
		directory: memory.NewDirectory(),
		documents: memory.NewDocumentStore(),
		blobs:     memory.NewBlobStore(),
	}
	loc := venueCoords
	p.directory.PutVenue(model.Venue{VenueID: testVenue, OwnerID: testOwner, Name: "Sea Breeze Lawns", Location: &loc})
	p.directory.PutVenue(model.Venue{VenueID: "venue-unpinned", OwnerID: testOwner, Name: "No Pin Hall"})

	hasher := hashing.NewHasher(config.HashingConfig{Algorithm: hashing.AlgorithmSHA256, ServerSalt: "test-salt"})

	p.guard = NewAbuseGuard(p.attempts, p.directory, nil, p.clock, AbuseLimits{
		MaxVerificationAttempts: 3,
		Cooldown:                24 * time.Hour,
		MaxAccountsPerDevice:    2,
		MaxAccountsPerPhone:     1,
	}, nil)
	p.otp = NewOTPService(memory.NewChallengeStore(), p.guard, p.sender, hasher, p.clock, OTPConfig{
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		SendTimeout: time.Second,
	}, nil)
	p.location = NewLocationService(p.directory, nil, p.clock, LocationConfig{
		ToleranceKm:     0.5,
		PositionTimeout: 10 * time.Second,
		PositionMaxAge:  5 * time.Minute,
		HighAccuracy:    true,
	}, nil)
	p.intake = NewIntakeService(p.documents, p.blobs, upperEncryptor{}, nil, p.clock, IntakeConfig{}, nil)
	p.orch = NewOrchestrator(p.otp, p.location, p.intake, p.documents, p.directory, p.events, p.clock, nil)
	return p
}

func upload(mimeType string, size int) *model.Upload {
	return &model.Upload{
		Filename: "file",
		MimeType: mimeType,
		Size:     int64(size),
		Body:     bytes.NewReader(make([]byte, size)),
	}
}

// offsetNorth returns coordinates km kilometres north of c.
func offsetNorth(c geo.Coordinates, km float64) geo.Coordinates {
	return geo.Coordinates{Latitude: c.Latitude + km/111.195, Longitude: c.Longitude}
}

func fixAt(c geo.Coordinates, at time.Time) *ReportedPosition {
	return &ReportedPosition{Fix: &model.Position{Coordinates: c, AccuracyM: 12, Timestamp: at}}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *VerificationError {
	t.Helper()
	require.Error(t, err)
	var ve *VerificationError
	require.True(t, errors.As(err, &ve), "expected VerificationError, got %T: %v", err, err)
	require.Equal(t, kind, ve.Kind, ve.Error())
	return ve
}
