package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/config"
	"merchant-verification/internal/fingerprint"
	"merchant-verification/internal/geo"
	"merchant-verification/internal/hashing"
	"merchant-verification/internal/model"
	"merchant-verification/internal/repository/memory"
	"merchant-verification/internal/service"
)

const (
	testSecret = "test-secret"
	testIssuer = "test-issuer"
	ownerID    = "owner-1"
	venueID    = "venue-1"
)

var venueAt = geo.Coordinates{Latitude: 12.9716, Longitude: 77.5946}

var (
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
)

type codeSink struct {
	mu    sync.Mutex
	codes []string
}

func (c *codeSink) Send(_ context.Context, _ model.Channel, _, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
	return nil
}

func (c *codeSink) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[len(c.codes)-1]
}

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

type server struct {
	t      *testing.T
	router http.Handler
	sender *codeSink
}

func newServer(t *testing.T, health HealthChecker) *server {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	directory := memory.NewDirectory()
	loc := venueAt
	directory.PutVenue(model.Venue{VenueID: venueID, OwnerID: ownerID, Name: "Garden Court", Location: &loc})
	documents := memory.NewDocumentStore()
	sender := &codeSink{}

	factory := service.NewServiceFactory(service.Dependencies{
		Challenges: memory.NewChallengeStore(),
		Attempts:   memory.NewAttemptLog(),
		Users:      directory,
		Venues:     directory,
		Profiles:   directory,
		Documents:  documents,
		Blobs:      memory.NewBlobStore(),
		Sender:     sender,
	}, hashing.NewHasher(config.HashingConfig{Algorithm: hashing.AlgorithmSHA256, ServerSalt: "salt"}), config.VerificationConfig{
		OTPTTL:                  5 * time.Minute,
		MaxConfirmAttempts:      3,
		MaxVerificationAttempts: 3,
		Cooldown:                24 * time.Hour,
		MaxAccountsPerDevice:    2,
		MaxAccountsPerPhone:     1,
		SendTimeout:             time.Second,
		LocationToleranceKm:     0.5,
		PositionTimeout:         5 * time.Second,
		PositionMaxAge:          5 * time.Minute,
		HighAccuracy:            true,
		DocumentMaxBytes:        5 << 20,
		SelfieMaxBytes:          3 << 20,
	}, clk, nil)

	verification := NewVerificationHandler(factory.Orchestrator(), memory.NewSessionStore(), fingerprint.NewSignalStrategy(), clk,
		UploadLimits{DocumentMaxBytes: 5 << 20, SelfieMaxBytes: 3 << 20}, nil)
	router := NewRouter(RouterConfig{ServiceName: "merchant-verification"}, verification,
		NewAuthenticator(testSecret, testIssuer), health, zapNop())

	return &server{t: t, router: router, sender: sender}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func (s *server) do(method, path, owner string, body interface{}) (*httptest.ResponseRecorder, Response) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+token(s.t, owner))
	}
	return s.serve(req)
}

func (s *server) upload(path, owner string, fields map[string]string, content []byte) (*httptest.ResponseRecorder, Response) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", "upload.bin")
	require.NoError(s.t, err)
	_, err = fw.Write(content)
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(s.t, owner))
	return s.serve(req)
}

func (s *server) serve(req *http.Request) (*httptest.ResponseRecorder, Response) {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	var resp Response
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func (s *server) createSession(owner string) string {
	s.t.Helper()
	rec, resp := s.do(http.MethodPost, "/api/v1/verification/sessions", owner, map[string]string{"venue_id": venueID})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return resp.Data.(map[string]interface{})["session_id"].(string)
}

func stageOf(resp Response) string {
	data := resp.Data.(map[string]interface{})
	if sess, ok := data["session"].(map[string]interface{}); ok {
		return sess["stage"].(string)
	}
	return data["stage"].(string)
}

func TestFullVerificationFlow(t *testing.T) {
	s := newServer(t, nil)
	id := s.createSession(ownerID)
	base := "/api/v1/verification/sessions/" + id

	rec, resp := s.do(http.MethodPost, base+"/contact/send", ownerID, map[string]interface{}{
		"identifier": "Owner@Example.com",
		"channel":    "email",
		"device":     map[string]interface{}{"user_agent": "Mozilla/5.0", "timezone": "Asia/Kolkata", "screen_resolution": "1920x1080"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 300000, resp.Data.(map[string]interface{})["expires_in_ms"])

	// Issued codes are six digits in [100000, 999999].
	rec, resp = s.do(http.MethodPost, base+"/contact/confirm", ownerID, map[string]string{"code": "000000"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "InvalidCode", resp.Error)
	assert.EqualValues(t, 2, resp.Details["attempts_remaining"])

	rec, resp = s.do(http.MethodPost, base+"/contact/confirm", ownerID, map[string]string{"code": s.sender.last()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "location", stageOf(resp))

	far := geo.Coordinates{Latitude: venueAt.Latitude + 0.02, Longitude: venueAt.Longitude}
	rec, resp = s.do(http.MethodPost, base+"/location", ownerID, map[string]interface{}{
		"position": map[string]float64{"latitude": far.Latitude, "longitude": far.Longitude, "accuracy": 15},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := resp.Data.(map[string]interface{})["result"].(map[string]interface{})
	assert.Equal(t, false, result["is_within_tolerance"])
	assert.InDelta(t, 2.22, result["distance_km"].(float64), 0.01)
	assert.Equal(t, "location", stageOf(resp))

	rec, resp = s.do(http.MethodPost, base+"/location", ownerID, map[string]interface{}{
		"position": map[string]float64{"latitude": venueAt.Latitude + 0.001, "longitude": venueAt.Longitude, "accuracy": 10},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "identity", stageOf(resp))

	rec, resp = s.upload(base+"/documents", ownerID, map[string]string{"document_type": "pan", "document_number": "ABCDE1234F"}, pdfBytes)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending_review", resp.Data.(map[string]interface{})["status"])
	assert.Equal(t, "identity", stageOf(resp))

	rec, resp = s.upload(base+"/selfie", ownerID, nil, pngBytes)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "complete", stageOf(resp))

	rec, resp = s.do(http.MethodGet, base, ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "complete", data["stage"])
	assert.NotContains(t, data["contact"], "owner@example.com")
}

func TestRequiresBearerToken(t *testing.T) {
	s := newServer(t, nil)

	rec, _ := s.do(http.MethodPost, "/api/v1/verification/sessions", "", map[string]string{"venue_id": venueID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verification/sessions/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec, _ = s.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionsAreScopedToOwner(t *testing.T) {
	s := newServer(t, nil)
	id := s.createSession(ownerID)

	rec, resp := s.do(http.MethodGet, "/api/v1/verification/sessions/"+id, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", resp.Error)
}

func TestStagePreconditions(t *testing.T) {
	s := newServer(t, nil)
	id := s.createSession(ownerID)

	rec, resp := s.do(http.MethodPost, "/api/v1/verification/sessions/"+id+"/location", ownerID, map[string]interface{}{
		"position": map[string]float64{"latitude": venueAt.Latitude, "longitude": venueAt.Longitude},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidStage", resp.Error)

	rec, resp = s.upload("/api/v1/verification/sessions/"+id+"/selfie", ownerID, nil, pngBytes)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidStage", resp.Error)
}

func TestSendRejectsBadInput(t *testing.T) {
	s := newServer(t, nil)
	base := "/api/v1/verification/sessions/" + s.createSession(ownerID)

	rec, _ := s.do(http.MethodPost, base+"/contact/send", ownerID, map[string]string{"identifier": "a@b.co", "channel": "fax"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp := s.do(http.MethodPost, base+"/contact/send", ownerID, map[string]string{"identifier": "not-an-email", "channel": "email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", resp.Error)
}

func TestCreateSessionRequiresVenue(t *testing.T) {
	s := newServer(t, nil)
	rec, resp := s.do(http.MethodPost, "/api/v1/verification/sessions", ownerID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", resp.Error)
}

func TestHealthAndReady(t *testing.T) {
	s := newServer(t, stubHealth{})
	rec, _ := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newServer(t, stubHealth{err: errors.New("redis: connection refused")})
	rec, _ = s.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForKind(t *testing.T) {
	cases := map[service.ErrorKind]int{
		service.KindAbuseLimitExceeded:   http.StatusTooManyRequests,
		service.KindNotFound:             http.StatusNotFound,
		service.KindExpired:              http.StatusGone,
		service.KindAttemptsExhausted:    http.StatusTooManyRequests,
		service.KindInvalidCode:          http.StatusUnauthorized,
		service.KindAlreadyVerified:      http.StatusConflict,
		service.KindAlreadyApproved:      http.StatusConflict,
		service.KindVenueLocationMissing: http.StatusUnprocessableEntity,
		service.KindPositionUnavailable:  http.StatusUnprocessableEntity,
		service.KindInvalidFileType:      http.StatusUnsupportedMediaType,
		service.KindFileTooLarge:         http.StatusRequestEntityTooLarge,
		service.KindDeliveryFailed:       http.StatusBadGateway,
		service.KindStorageError:         http.StatusServiceUnavailable,
		service.KindInvalidStage:         http.StatusConflict,
		service.KindInvalidInput:         http.StatusBadRequest,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), string(kind))
	}
}
