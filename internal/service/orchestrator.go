package service

import (
	"context"
	"fmt"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/model"
	"merchant-verification/internal/observability/metrics"
	"merchant-verification/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	EventStageAdvanced     = "verification.stage_advanced"
	EventArtifactSubmitted = "verification.artifact_submitted"
)

// Orchestrator sequences Contact -> Location -> Identity -> Complete for one
// merchant session. It holds no session state itself: every operation
// mutates the Session it is handed, and the caller persists it.
type Orchestrator struct {
	otp       *OTPService
	location  *LocationService
	intake    *IntakeService
	documents DocumentStore
	profiles  MerchantProfileStore
	events    EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

func NewOrchestrator(otp *OTPService, location *LocationService, intake *IntakeService, documents DocumentStore, profiles MerchantProfileStore, events EventPublisher, clk clock.Clock, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		otp:       otp,
		location:  location,
		intake:    intake,
		documents: documents,
		profiles:  profiles,
		events:    events,
		clock:     clk,
		logger:    logger,
	}
}

func (o *Orchestrator) NewSession(ownerID, venueID string) (*model.Session, error) {
	if ownerID == "" {
		return nil, newError(KindInvalidInput, "owner is required").WithDetail("field", "owner_id")
	}
	if venueID == "" {
		return nil, newError(KindInvalidInput, "venue is required").WithDetail("field", "venue_id")
	}
	now := o.clock.Now()
	return &model.Session{
		SessionID: uuid.NewString(),
		OwnerID:   ownerID,
		VenueID:   venueID,
		Stage:     model.StageContact,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// PositionOptions returns the acquisition knobs the caller should apply.
func (o *Orchestrator) PositionOptions() model.PositionOptions {
	return o.location.DefaultPositionOptions()
}

// SendContactCode issues (or re-issues) the contact OTP. Re-entry keeps the
// session in Contact.
func (o *Orchestrator) SendContactCode(ctx context.Context, sess *model.Session, identifier string, channel model.Channel, meta model.RequestMeta) (*IssueResult, error) {
	if err := requireStage(sess, model.StageContact); err != nil {
		return nil, err
	}

	normalized, err := NormalizeIdentifier(identifier, channel)
	if err != nil {
		return nil, err
	}
	res, err := o.otp.Issue(ctx, IssueRequest{
		OwnerID:    sess.OwnerID,
		Identifier: normalized,
		Channel:    channel,
		Meta:       meta,
	})
	if err != nil {
		return nil, err
	}

	sess.ContactIdentifier = normalized
	sess.ContactChannel = channel
	sess.UpdatedAt = o.clock.Now()
	return res, nil
}

func (o *Orchestrator) ConfirmContact(ctx context.Context, sess *model.Session, code string) (*ConfirmResult, error) {
	if err := requireStage(sess, model.StageContact); err != nil {
		return nil, err
	}
	if sess.ContactIdentifier == "" {
		return nil, newError(KindInvalidStage, "no code has been sent for this session").
			WithDetail("stage", string(sess.Stage))
	}

	res, err := o.otp.Confirm(ctx, sess.ContactIdentifier, sess.ContactChannel, code)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	sess.ContactVerifiedAt = &now
	o.advance(ctx, sess, model.StageLocation)
	return res, nil
}

// VerifyLocation runs the proximity check. An out-of-tolerance result is not
// an error: it is returned with the measured distance and the session stays
// in Location.
func (o *Orchestrator) VerifyLocation(ctx context.Context, sess *model.Session, src PositionSource, opts model.PositionOptions) (*model.LocationResult, error) {
	if err := requireStage(sess, model.StageLocation); err != nil {
		return nil, err
	}

	result, _, err := o.location.VerifyVenue(ctx, sess.VenueID, src, opts)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	sess.LastLocation = result
	sess.UpdatedAt = now

	if o.profiles != nil {
		rec := &model.MerchantLocationRecord{
			OwnerID:         sess.OwnerID,
			VenueID:         sess.VenueID,
			DistanceKm:      result.DistanceKm,
			ToleranceKm:     result.ToleranceKm,
			WithinTolerance: result.IsWithinTolerance,
			City:            result.City,
			VerifiedAt:      now,
		}
		if err := o.profiles.RecordLocationVerification(ctx, rec); err != nil {
			if result.IsWithinTolerance {
				return nil, wrapError(KindStorageError, "failed to record location verification", err)
			}
			o.logger.Warn("Failed to record out-of-tolerance location", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
	}

	if result.IsWithinTolerance {
		sess.LocationVerifiedAt = &now
		o.advance(ctx, sess, model.StageIdentity)
	}
	return result, nil
}

func (o *Orchestrator) SubmitDocument(ctx context.Context, sess *model.Session, docType model.DocumentType, upload *model.Upload, documentNumber string) (*model.IdentityDocument, error) {
	if err := requireIdentityStage(sess); err != nil {
		return nil, err
	}

	doc, err := o.intake.SubmitDocument(ctx, sess.OwnerID, docType, upload, documentNumber)
	if err != nil {
		return nil, err
	}

	sess.DocumentIDs = append(sess.DocumentIDs, doc.DocumentID)
	sess.UpdatedAt = o.clock.Now()
	o.publish(ctx, EventArtifactSubmitted, sess, map[string]interface{}{
		"artifact":      "document",
		"artifact_id":   doc.DocumentID,
		"document_type": string(doc.DocumentType),
	})

	o.tryComplete(ctx, sess)
	return doc, nil
}

func (o *Orchestrator) SubmitSelfie(ctx context.Context, sess *model.Session, upload *model.Upload) (*model.SelfieVerification, error) {
	if err := requireIdentityStage(sess); err != nil {
		return nil, err
	}

	selfie, err := o.intake.SubmitSelfie(ctx, sess.OwnerID, upload)
	if err != nil {
		return nil, err
	}

	sess.SelfieID = selfie.SelfieID
	sess.UpdatedAt = o.clock.Now()
	o.publish(ctx, EventArtifactSubmitted, sess, map[string]interface{}{
		"artifact":    "selfie",
		"artifact_id": selfie.SelfieID,
	})

	o.tryComplete(ctx, sess)
	return selfie, nil
}

// tryComplete moves Identity to Complete once the owner has at least one
// document and one selfie in PendingReview or better. Completion does not
// mean approval. The artifact is already persisted when this runs, so a
// failed check leaves the session in Identity and the next submission
// re-evaluates it.
func (o *Orchestrator) tryComplete(ctx context.Context, sess *model.Session) {
	if sess.Stage != model.StageIdentity {
		return
	}

	var (
		docs    []*model.IdentityDocument
		selfies []*model.SelfieVerification
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = o.documents.ListOwnerDocuments(gctx, sess.OwnerID)
		return err
	})
	g.Go(func() error {
		var err error
		selfies, err = o.documents.ListSelfies(gctx, sess.OwnerID)
		return err
	})
	if err := g.Wait(); err != nil {
		o.logger.Warn("Identity completion check failed, session stays in identity",
			zap.String("session_id", sess.SessionID),
			zap.String("owner_id", sess.OwnerID),
			zap.Error(err))
		return
	}

	if !anyDocument(docs) || !anySelfie(selfies) {
		return
	}

	now := o.clock.Now()
	sess.CompletedAt = &now
	o.advance(ctx, sess, model.StageComplete)
}

func (o *Orchestrator) advance(ctx context.Context, sess *model.Session, to model.Stage) {
	from := sess.Stage
	if to.Index() != from.Index()+1 {
		// Stages only move forward one step at a time.
		o.logger.Error("Refusing non-sequential stage transition",
			zap.String("session_id", sess.SessionID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return
	}
	sess.Stage = to
	sess.UpdatedAt = o.clock.Now()

	metrics.StageTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	o.logger.Info("Verification stage advanced",
		zap.String("session_id", sess.SessionID),
		zap.String("owner_id", sess.OwnerID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	o.publish(ctx, EventStageAdvanced, sess, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, sess *model.Session, extra map[string]interface{}) {
	if o.events == nil {
		return
	}
	payload := map[string]interface{}{
		"session_id": sess.SessionID,
		"owner_id":   sess.OwnerID,
		"venue_id":   sess.VenueID,
		"stage":      string(sess.Stage),
		"at":         o.clock.Now(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := o.events.Publish(ctx, eventType, sess.OwnerID, payload); err != nil {
		o.logger.Warn("Failed to publish verification event",
			zap.String("event_type", eventType),
			zap.String("session_id", sess.SessionID),
			util.ErrorField(err))
	}
}

func requireStage(sess *model.Session, want model.Stage) error {
	if sess == nil {
		return newError(KindInvalidInput, "session is required")
	}
	if sess.Stage != want {
		return newError(KindInvalidStage, fmt.Sprintf("operation requires the %s stage", want)).
			WithDetail("stage", string(sess.Stage)).
			WithDetail("required_stage", string(want))
	}
	return nil
}

// Identity artifacts may also be resubmitted after completion, e.g. after a
// reviewer rejection.
func requireIdentityStage(sess *model.Session) error {
	if sess != nil && sess.Stage == model.StageComplete {
		return nil
	}
	return requireStage(sess, model.StageIdentity)
}

func anyDocument(docs []*model.IdentityDocument) bool {
	for _, d := range docs {
		if d.Status.CountsTowardCompletion() {
			return true
		}
	}
	return false
}

func anySelfie(selfies []*model.SelfieVerification) bool {
	for _, s := range selfies {
		if s.Status.CountsTowardCompletion() {
			return true
		}
	}
	return false
}
