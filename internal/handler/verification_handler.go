package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/fingerprint"
	"merchant-verification/internal/geo"
	"merchant-verification/internal/model"
	"merchant-verification/internal/repository"
	"merchant-verification/internal/service"
	"merchant-verification/internal/util"
)

// SessionStore persists orchestrator sessions between requests.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	SaveSession(ctx context.Context, sess *model.Session) error
}

type UploadLimits struct {
	DocumentMaxBytes int64
	SelfieMaxBytes   int64
}

// VerificationHandler exposes the merchant verification session API.
type VerificationHandler struct {
	orchestrator *service.Orchestrator
	sessions     SessionStore
	devices      fingerprint.Strategy
	clock        clock.Clock
	limits       UploadLimits
	logger       *zap.Logger
}

func NewVerificationHandler(orchestrator *service.Orchestrator, sessions SessionStore, devices fingerprint.Strategy, clk clock.Clock, limits UploadLimits, logger *zap.Logger) *VerificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationHandler{
		orchestrator: orchestrator,
		sessions:     sessions,
		devices:      devices,
		clock:        clk,
		limits:       limits,
		logger:       logger,
	}
}

func (h *VerificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/verification/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/contact/send", h.SendContactCode)
			r.Post("/contact/confirm", h.ConfirmContact)
			r.Post("/location", h.VerifyLocation)
			r.Post("/documents", h.SubmitDocument)
			r.Post("/selfie", h.SubmitSelfie)
		})
	})
}

type createSessionRequest struct {
	VenueID string `json:"venue_id"`
}

// SessionView is the client-facing projection of a session. The contact
// identifier is masked.
type SessionView struct {
	SessionID          string                `json:"session_id"`
	VenueID            string                `json:"venue_id"`
	Stage              model.Stage           `json:"stage"`
	Contact            string                `json:"contact,omitempty"`
	ContactChannel     model.Channel         `json:"contact_channel,omitempty"`
	ContactVerifiedAt  *time.Time            `json:"contact_verified_at,omitempty"`
	LastLocation       *model.LocationResult `json:"last_location,omitempty"`
	LocationVerifiedAt *time.Time            `json:"location_verified_at,omitempty"`
	DocumentIDs        []string              `json:"document_ids,omitempty"`
	SelfieID           string                `json:"selfie_id,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
	PositionOptions    model.PositionOptions `json:"position_options"`
}

func (h *VerificationHandler) view(sess *model.Session) SessionView {
	return SessionView{
		SessionID:          sess.SessionID,
		VenueID:            sess.VenueID,
		Stage:              sess.Stage,
		Contact:            util.MaskIdentifier(sess.ContactIdentifier),
		ContactChannel:     sess.ContactChannel,
		ContactVerifiedAt:  sess.ContactVerifiedAt,
		LastLocation:       sess.LastLocation,
		LocationVerifiedAt: sess.LocationVerifiedAt,
		DocumentIDs:        sess.DocumentIDs,
		SelfieID:           sess.SelfieID,
		CompletedAt:        sess.CompletedAt,
		PositionOptions:    h.orchestrator.PositionOptions(),
	}
}

func (h *VerificationHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	sess, err := h.orchestrator.NewSession(OwnerIDFromContext(r.Context()), strings.TrimSpace(req.VenueID))
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if !h.save(w, r.Context(), sess) {
		return
	}

	h.logger.Info("Verification session created",
		zap.String("session_id", sess.SessionID),
		zap.String("owner_id", sess.OwnerID),
		zap.String("venue_id", sess.VenueID))
	respondWithJSON(w, http.StatusCreated, successResponse(h.view(sess), "verification session created"))
}

func (h *VerificationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(h.view(sess), ""))
}

type sendContactRequest struct {
	Identifier string              `json:"identifier"`
	Channel    string              `json:"channel"`
	Device     fingerprint.Signals `json:"device"`
}

func (h *VerificationHandler) SendContactCode(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}

	var req sendContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	channel, ok := model.ParseChannel(req.Channel)
	if !ok {
		respondBadRequest(w, "channel must be email or sms")
		return
	}

	res, err := h.orchestrator.SendContactCode(r.Context(), sess, req.Identifier, channel, h.requestMeta(r, req.Device))
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if !h.save(w, r.Context(), sess) {
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"expires_in_ms": res.ExpiresInMs,
		"expires_at":    res.ExpiresAt,
		"session":       h.view(sess),
	}, "verification code sent"))
}

type confirmContactRequest struct {
	Code string `json:"code"`
}

func (h *VerificationHandler) ConfirmContact(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}

	var req confirmContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	if _, err := h.orchestrator.ConfirmContact(r.Context(), sess, strings.TrimSpace(req.Code)); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if !h.save(w, r.Context(), sess) {
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(h.view(sess), "contact verified"))
}

type reportedFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"` // epoch ms, as the browser reports it
}

type verifyLocationRequest struct {
	Position  *reportedFix `json:"position"`
	ErrorCode string       `json:"error_code"`
}

func (h *VerificationHandler) VerifyLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}

	var req verifyLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	src := &service.ReportedPosition{ErrorCode: req.ErrorCode, Clock: h.clock}
	if req.Position != nil {
		src.Fix = &model.Position{
			Coordinates: geo.Coordinates{Latitude: req.Position.Latitude, Longitude: req.Position.Longitude},
			AccuracyM:   req.Position.Accuracy,
		}
		if req.Position.Timestamp > 0 {
			src.Fix.Timestamp = time.UnixMilli(req.Position.Timestamp).UTC()
		}
	}

	result, err := h.orchestrator.VerifyLocation(r.Context(), sess, src, h.orchestrator.PositionOptions())
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if !h.save(w, r.Context(), sess) {
		return
	}

	message := "location verified"
	if !result.IsWithinTolerance {
		message = "you appear to be too far from the venue"
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"result":  result,
		"session": h.view(sess),
	}, message))
}

func (h *VerificationHandler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}

	upload, err := readUpload(w, r, "file", h.limits.DocumentMaxBytes)
	if err != nil {
		h.respondUploadError(w, err)
		return
	}
	docType, ok := model.ParseDocumentType(r.FormValue("document_type"))
	if !ok {
		respondBadRequest(w, "document_type must be pan, aadhaar or other")
		return
	}

	number := r.FormValue("document_number")
	if util.ContainsSuspicious(number) {
		respondBadRequest(w, "document_number contains invalid characters")
		return
	}

	doc, err := h.orchestrator.SubmitDocument(r.Context(), sess, docType, upload, number)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if !h.save(w, r.Context(), sess) {
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(map[string]interface{}{
		"document_id": doc.DocumentID,
		"status":      doc.Status,
		"session":     h.view(sess),
	}, "document submitted for review"))
}

func (h *VerificationHandler) SubmitSelfie(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}

	upload, err := readUpload(w, r, "file", h.limits.SelfieMaxBytes)
	if err != nil {
		h.respondUploadError(w, err)
		return
	}

	selfie, err := h.orchestrator.SubmitSelfie(r.Context(), sess, upload)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if !h.save(w, r.Context(), sess) {
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(map[string]interface{}{
		"selfie_id": selfie.SelfieID,
		"status":    selfie.Status,
		"session":   h.view(sess),
	}, "selfie submitted for review"))
}

// load fetches the session named in the path. Sessions of other owners are
// reported as missing.
func (h *VerificationHandler) load(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.GetSession(r.Context(), sessionID)
	if err == nil && sess.OwnerID != OwnerIDFromContext(r.Context()) {
		err = repository.ErrNotFound
	}
	if errors.Is(err, repository.ErrNotFound) {
		respondWithError(w, h.logger, &service.VerificationError{
			Kind:    service.KindNotFound,
			Message: "verification session not found",
		})
		return nil, false
	}
	if err != nil {
		respondWithError(w, h.logger, &service.VerificationError{
			Kind:    service.KindStorageError,
			Message: "failed to load verification session",
			Err:     err,
		})
		return nil, false
	}
	return sess, true
}

func (h *VerificationHandler) save(w http.ResponseWriter, ctx context.Context, sess *model.Session) bool {
	if err := h.sessions.SaveSession(ctx, sess); err != nil {
		respondWithError(w, h.logger, &service.VerificationError{
			Kind:    service.KindStorageError,
			Message: "failed to save verification session",
			Err:     err,
		})
		return false
	}
	return true
}

func (h *VerificationHandler) requestMeta(r *http.Request, signals fingerprint.Signals) model.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if signals.UserAgent == "" {
		signals.UserAgent = r.UserAgent()
	}
	signals.SourceIP = ip

	return model.RequestMeta{
		DeviceFingerprint: h.devices.Fingerprint(signals),
		SourceIP:          ip,
		UserAgent:         r.UserAgent(),
	}
}

func (h *VerificationHandler) respondUploadError(w http.ResponseWriter, err error) {
	if _, ok := service.KindOf(err); ok {
		respondWithError(w, h.logger, err)
		return
	}
	respondBadRequest(w, err.Error())
}
