package service

import (
	"context"
	"time"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/model"
	"merchant-verification/internal/observability/metrics"
	"merchant-verification/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AbuseLimits struct {
	MaxVerificationAttempts int
	Cooldown                time.Duration
	MaxAccountsPerDevice    int
	MaxAccountsPerPhone     int
}

// AbuseGuard enforces the per-identifier, per-device and per-phone ceilings
// in front of OTP issue. It narrows volume; it does not authenticate.
type AbuseGuard struct {
	attempts AttemptLog
	users    UserDirectory
	audit    AuditSink
	clock    clock.Clock
	limits   AbuseLimits
	logger   *zap.Logger
}

func NewAbuseGuard(attempts AttemptLog, users UserDirectory, audit AuditSink, clk clock.Clock, limits AbuseLimits, logger *zap.Logger) *AbuseGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AbuseGuard{
		attempts: attempts,
		users:    users,
		audit:    audit,
		clock:    clk,
		limits:   limits,
		logger:   logger,
	}
}

// Check evaluates the ceilings in order: identifier rate, device, phone.
// Store read failures admit the request.
func (g *AbuseGuard) Check(ctx context.Context, ownerID, identifier string, channel model.Channel, fingerprint string) error {
	since := g.clock.Now().Add(-g.limits.Cooldown)
	count, err := g.attempts.CountAttempts(ctx, identifier, channel, since)
	if err != nil {
		g.logger.Warn("Attempt window read failed, admitting request",
			util.Identifier("identifier", identifier), zap.Error(err))
	} else if count >= g.limits.MaxVerificationAttempts {
		return g.reject(CeilingIdentifierRate, g.limits.MaxVerificationAttempts, count, identifier).
			WithDetail("retry_after_seconds", int(g.limits.Cooldown.Seconds()))
	}

	if fingerprint != "" && g.limits.MaxAccountsPerDevice > 0 {
		ids, err := g.attempts.DeviceIdentifiers(ctx, fingerprint)
		if err != nil {
			g.logger.Warn("Device registration read failed, admitting request",
				zap.String("device_fingerprint", fingerprint), zap.Error(err))
		} else if !contains(ids, identifier) && len(ids) >= g.limits.MaxAccountsPerDevice {
			return g.reject(CeilingDevice, g.limits.MaxAccountsPerDevice, len(ids), identifier)
		}
	}

	if channel == model.ChannelSMS && g.users != nil && g.limits.MaxAccountsPerPhone > 0 {
		users, err := g.users.UsersByPhone(ctx, identifier)
		if err != nil {
			g.logger.Warn("User directory read failed, admitting request",
				util.Identifier("identifier", identifier), zap.Error(err))
		} else {
			others := 0
			for _, u := range users {
				if u.UserID != ownerID {
					others++
				}
			}
			if others >= g.limits.MaxAccountsPerPhone {
				return g.reject(CeilingPhone, g.limits.MaxAccountsPerPhone, others, identifier)
			}
		}
	}

	return nil
}

// Record appends an attempt to the log and mirrors it to the audit sink.
func (g *AbuseGuard) Record(ctx context.Context, identifier string, channel model.Channel, meta model.RequestMeta) (*model.AttemptLogEntry, error) {
	entry := &model.AttemptLogEntry{
		ID:                uuid.NewString(),
		Identifier:        identifier,
		Channel:           channel,
		Timestamp:         g.clock.Now(),
		DeviceFingerprint: meta.DeviceFingerprint,
		SourceIP:          meta.SourceIP,
		UserAgent:         meta.UserAgent,
	}
	if err := g.attempts.AppendAttempt(ctx, entry, g.limits.Cooldown); err != nil {
		return nil, err
	}

	if g.audit != nil {
		if err := g.audit.RecordAttempt(ctx, entry); err != nil {
			g.logger.Warn("Attempt audit mirror failed", zap.String("attempt_id", entry.ID), zap.Error(err))
		}
	}
	return entry, nil
}

func (g *AbuseGuard) reject(ceiling string, limit, observed int, identifier string) *VerificationError {
	metrics.AbuseRejectionsTotal.WithLabelValues(ceiling).Inc()
	g.logger.Info("Abuse ceiling tripped",
		zap.String("ceiling", ceiling),
		util.Identifier("identifier", identifier),
		zap.Int("limit", limit),
		zap.Int("observed", observed))

	return newError(KindAbuseLimitExceeded, "too many verification requests").
		WithDetail("ceiling", ceiling).
		WithDetail("limit", limit)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
