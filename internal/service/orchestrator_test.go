package service

import (
	"context"
	"errors"
	"testing"

	"merchant-verification/internal/model"
	"merchant-verification/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, p *pipeline) *model.Session {
	t.Helper()
	sess, err := p.orch.NewSession(testOwner, testVenue)
	require.NoError(t, err)
	return sess
}

func passContact(t *testing.T, p *pipeline, sess *model.Session) {
	t.Helper()
	_, err := p.orch.SendContactCode(context.Background(), sess, "owner@venue.in", model.ChannelEmail, model.RequestMeta{DeviceFingerprint: "fp-1"})
	require.NoError(t, err)
	_, err = p.orch.ConfirmContact(context.Background(), sess, p.sender.last(t).Code)
	require.NoError(t, err)
}

func passLocation(t *testing.T, p *pipeline, sess *model.Session) {
	t.Helper()
	res, err := p.orch.VerifyLocation(context.Background(), sess, fixAt(offsetNorth(venueCoords, 0.2), testStart), p.orch.PositionOptions())
	require.NoError(t, err)
	require.True(t, res.IsWithinTolerance)
}

func TestOrchestrator_FreshSessionStartsAtContact(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)
	assert.Equal(t, model.StageContact, sess.Stage)
	assert.NotEmpty(t, sess.SessionID)

	_, err := p.orch.NewSession("", testVenue)
	requireKind(t, err, KindInvalidInput)
}

func TestOrchestrator_IdentityBeforeEarlierStagesRejected(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)

	_, err := p.orch.SubmitDocument(context.Background(), sess, model.DocumentPAN, upload("image/png", 100), "")
	ve := requireKind(t, err, KindInvalidStage)
	assert.Equal(t, "contact", ve.Details["stage"])

	_, err = p.orch.SubmitSelfie(context.Background(), sess, upload("image/png", 100))
	requireKind(t, err, KindInvalidStage)

	_, err = p.orch.VerifyLocation(context.Background(), sess, fixAt(venueCoords, testStart), model.PositionOptions{})
	requireKind(t, err, KindInvalidStage)

	passContact(t, p, sess)
	_, err = p.orch.SubmitDocument(context.Background(), sess, model.DocumentPAN, upload("image/png", 100), "")
	requireKind(t, err, KindInvalidStage)
	assert.Zero(t, p.blobs.Len())
}

func TestOrchestrator_ConfirmBeforeSend(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)
	_, err := p.orch.ConfirmContact(context.Background(), sess, "123456")
	requireKind(t, err, KindInvalidStage)
}

func TestOrchestrator_FailedConfirmStaysInContact(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)
	_, err := p.orch.SendContactCode(context.Background(), sess, "owner@venue.in", model.ChannelEmail, model.RequestMeta{})
	require.NoError(t, err)

	_, err = p.orch.ConfirmContact(context.Background(), sess, wrongCode(p.sender.last(t).Code))
	requireKind(t, err, KindInvalidCode)
	assert.Equal(t, model.StageContact, sess.Stage)

	// Re-entering the stage to resend does not advance it.
	_, err = p.orch.SendContactCode(context.Background(), sess, "owner@venue.in", model.ChannelEmail, model.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, model.StageContact, sess.Stage)
}

func TestOrchestrator_OutOfToleranceStaysInLocation(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)
	passContact(t, p, sess)
	require.Equal(t, model.StageLocation, sess.Stage)

	res, err := p.orch.VerifyLocation(context.Background(), sess, fixAt(offsetNorth(venueCoords, 2.4), testStart), model.PositionOptions{})
	require.NoError(t, err)
	assert.False(t, res.IsWithinTolerance)
	assert.InDelta(t, 2.4, res.DistanceKm, 0.01)
	assert.Equal(t, model.StageLocation, sess.Stage)
	assert.Equal(t, res, sess.LastLocation)

	history := p.directory.LocationHistory(testOwner)
	require.Len(t, history, 1)
	assert.False(t, history[0].WithinTolerance)
}

func TestOrchestrator_PositionFailureStaysInLocation(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)
	passContact(t, p, sess)

	_, err := p.orch.VerifyLocation(context.Background(), sess, &ReportedPosition{ErrorCode: "permission_denied"}, model.PositionOptions{})
	requireKind(t, err, KindPositionUnavailable)
	assert.Equal(t, model.StageLocation, sess.Stage)
}

func TestOrchestrator_FullFlowReachesComplete(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)

	passContact(t, p, sess)
	assert.Equal(t, model.StageLocation, sess.Stage)
	assert.NotNil(t, sess.ContactVerifiedAt)

	passLocation(t, p, sess)
	assert.Equal(t, model.StageIdentity, sess.Stage)
	assert.NotNil(t, sess.LocationVerifiedAt)

	doc, err := p.orch.SubmitDocument(context.Background(), sess, model.DocumentAadhaar, upload("application/pdf", 4096), "1234 5678 9012")
	require.NoError(t, err)
	assert.Equal(t, model.StageIdentity, sess.Stage, "a document alone does not complete intake")
	assert.Equal(t, []string{doc.DocumentID}, sess.DocumentIDs)

	selfie, err := p.orch.SubmitSelfie(context.Background(), sess, upload("image/jpeg", 4096))
	require.NoError(t, err)
	assert.Equal(t, selfie.SelfieID, sess.SelfieID)
	assert.Equal(t, model.StageComplete, sess.Stage)
	assert.NotNil(t, sess.CompletedAt)

	// Completion is not approval.
	docs, _ := p.documents.ListOwnerDocuments(context.Background(), testOwner)
	assert.Equal(t, model.StatusPendingReview, docs[0].Status)

	assert.Equal(t, []string{
		EventStageAdvanced,
		EventStageAdvanced,
		EventArtifactSubmitted,
		EventArtifactSubmitted,
		EventStageAdvanced,
	}, p.events.events)
}

func TestOrchestrator_SelfieFirstThenDocument(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)
	passContact(t, p, sess)
	passLocation(t, p, sess)

	_, err := p.orch.SubmitSelfie(context.Background(), sess, upload("image/png", 100))
	require.NoError(t, err)
	assert.Equal(t, model.StageIdentity, sess.Stage)

	_, err = p.orch.SubmitDocument(context.Background(), sess, model.DocumentPAN, upload("image/png", 100), "")
	require.NoError(t, err)
	assert.Equal(t, model.StageComplete, sess.Stage)
}

func TestOrchestrator_RejectedArtifactsDoNotComplete(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)
	passContact(t, p, sess)
	passLocation(t, p, sess)

	selfie, err := p.intake.SubmitSelfie(context.Background(), testOwner, upload("image/png", 100))
	require.NoError(t, err)
	require.NoError(t, p.documents.Review(selfie.SelfieID, model.StatusRejected, "reviewer-7", "face not visible", testStart))

	_, err = p.orch.SubmitDocument(context.Background(), sess, model.DocumentPAN, upload("image/png", 100), "")
	require.NoError(t, err)
	assert.Equal(t, model.StageIdentity, sess.Stage)
}

func TestOrchestrator_NeverRegresses(t *testing.T) {
	p := newPipeline(t)
	sess := newSession(t, p)
	passContact(t, p, sess)
	passLocation(t, p, sess)

	_, err := p.orch.SendContactCode(context.Background(), sess, "owner@venue.in", model.ChannelEmail, model.RequestMeta{})
	requireKind(t, err, KindInvalidStage)
	_, err = p.orch.VerifyLocation(context.Background(), sess, fixAt(offsetNorth(venueCoords, 50), testStart), model.PositionOptions{})
	requireKind(t, err, KindInvalidStage)
	assert.Equal(t, model.StageIdentity, sess.Stage)
}

type failingProfiles struct{}

func (failingProfiles) RecordLocationVerification(context.Context, *model.MerchantLocationRecord) error {
	return errors.New("profile table unavailable")
}

func TestOrchestrator_ProfileWriteFailureBlocksOnlyPassingVerdicts(t *testing.T) {
	p := newPipeline(t)
	p.orch = NewOrchestrator(p.otp, p.location, p.intake, p.documents, failingProfiles{}, p.events, p.clock, nil)
	sess := newSession(t, p)
	passContact(t, p, sess)

	res, err := p.orch.VerifyLocation(context.Background(), sess, fixAt(offsetNorth(venueCoords, 3), testStart), model.PositionOptions{})
	require.NoError(t, err)
	assert.False(t, res.IsWithinTolerance)

	_, err = p.orch.VerifyLocation(context.Background(), sess, fixAt(offsetNorth(venueCoords, 0.1), testStart), model.PositionOptions{})
	requireKind(t, err, KindStorageError)
	assert.Equal(t, model.StageLocation, sess.Stage)
	assert.Nil(t, sess.LocationVerifiedAt)
}

type unlistableDocuments struct {
	*memory.DocumentStore
}

func (unlistableDocuments) ListOwnerDocuments(context.Context, string) ([]*model.IdentityDocument, error) {
	return nil, errors.New("read timeout")
}

func TestOrchestrator_CompletionCheckFailureStillReturnsArtifact(t *testing.T) {
	p := newPipeline(t)
	docs := unlistableDocuments{p.documents}
	p.orch = NewOrchestrator(p.otp, p.location, p.intake, docs, p.directory, p.events, p.clock, nil)
	sess := newSession(t, p)
	passContact(t, p, sess)
	passLocation(t, p, sess)

	_, err := p.orch.SubmitSelfie(context.Background(), sess, upload("image/png", 100))
	require.NoError(t, err)

	doc, err := p.orch.SubmitDocument(context.Background(), sess, model.DocumentPAN, upload("image/png", 100), "")
	require.NoError(t, err)
	assert.Equal(t, []string{doc.DocumentID}, sess.DocumentIDs)
	assert.Equal(t, model.StageIdentity, sess.Stage)

	stored, err := p.documents.ListOwnerDocuments(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
