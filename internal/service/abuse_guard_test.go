package service

import (
	"context"
	"testing"
	"time"

	"merchant-verification/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue_FourthWithinWindowRejected(t *testing.T) {
	p := newPipeline(t)

	for i := 0; i < 3; i++ {
		_, err := issue(t, p, "owner@venue.in", model.ChannelEmail)
		require.NoError(t, err)
		p.clock.Advance(time.Hour)
	}
	sentBefore := len(p.sender.sent)

	_, err := issue(t, p, "owner@venue.in", model.ChannelEmail)
	ve := requireKind(t, err, KindAbuseLimitExceeded)
	assert.Equal(t, CeilingIdentifierRate, ve.Details["ceiling"])
	assert.Equal(t, 3, ve.Details["limit"])
	assert.Len(t, p.sender.sent, sentBefore, "no code is sent when the guard rejects")
}

func TestIssue_FourthAfterWindowSucceeds(t *testing.T) {
	p := newPipeline(t)

	for i := 0; i < 3; i++ {
		_, err := issue(t, p, "owner@venue.in", model.ChannelEmail)
		require.NoError(t, err)
	}

	p.clock.Advance(24*time.Hour + time.Second)
	_, err := issue(t, p, "owner@venue.in", model.ChannelEmail)
	require.NoError(t, err)
}

func TestIssue_RateWindowIsPerChannel(t *testing.T) {
	p := newPipeline(t)
	for i := 0; i < 3; i++ {
		_, err := issue(t, p, "+919876543210", model.ChannelSMS)
		require.NoError(t, err)
	}
	_, err := issue(t, p, "owner@venue.in", model.ChannelEmail)
	require.NoError(t, err)
}

func TestGuard_DeviceCap(t *testing.T) {
	p := newPipeline(t)

	_, err := issue(t, p, "first@venue.in", model.ChannelEmail)
	require.NoError(t, err)
	_, err = issue(t, p, "second@venue.in", model.ChannelEmail)
	require.NoError(t, err)

	_, err = issue(t, p, "third@venue.in", model.ChannelEmail)
	ve := requireKind(t, err, KindAbuseLimitExceeded)
	assert.Equal(t, CeilingDevice, ve.Details["ceiling"])

	// Identifiers already tied to the device may keep using it.
	_, err = issue(t, p, "first@venue.in", model.ChannelEmail)
	require.NoError(t, err)
}

func TestGuard_DeviceCapIgnoresMissingFingerprint(t *testing.T) {
	p := newPipeline(t)
	for _, id := range []string{"a@venue.in", "b@venue.in", "c@venue.in"} {
		err := p.guard.Check(context.Background(), testOwner, id, model.ChannelEmail, "")
		require.NoError(t, err)
		_, err = p.guard.Record(context.Background(), id, model.ChannelEmail, model.RequestMeta{})
		require.NoError(t, err)
	}
}

func TestGuard_PhoneCap(t *testing.T) {
	p := newPipeline(t)
	p.directory.AddUser(model.UserPhone{UserID: "someone-else", PhoneNumber: "+919876543210"})

	_, err := issue(t, p, "+91 98765-43210", model.ChannelSMS)
	ve := requireKind(t, err, KindAbuseLimitExceeded)
	assert.Equal(t, CeilingPhone, ve.Details["ceiling"])
	assert.Equal(t, 1, ve.Details["limit"])
}

func TestGuard_PhoneCapAllowsRequestersOwnRecord(t *testing.T) {
	p := newPipeline(t)
	p.directory.AddUser(model.UserPhone{UserID: testOwner, PhoneNumber: "+919876543210"})

	_, err := issue(t, p, "+919876543210", model.ChannelSMS)
	require.NoError(t, err)
}

func TestGuard_PhoneCapOnlyForSMS(t *testing.T) {
	p := newPipeline(t)
	p.directory.AddUser(model.UserPhone{UserID: "someone-else", PhoneNumber: "owner@venue.in"})

	_, err := issue(t, p, "owner@venue.in", model.ChannelEmail)
	require.NoError(t, err)
}

func TestGuard_RecordPrunesOutsideCooldown(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.guard.Record(ctx, "owner@venue.in", model.ChannelEmail, model.RequestMeta{})
	require.NoError(t, err)
	p.clock.Advance(25 * time.Hour)
	_, err = p.guard.Record(ctx, "owner@venue.in", model.ChannelEmail, model.RequestMeta{})
	require.NoError(t, err)

	n, err := p.attempts.CountAttempts(ctx, "owner@venue.in", model.ChannelEmail, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
