package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/hashing"
	"merchant-verification/internal/model"
	"merchant-verification/internal/observability/metrics"
	"merchant-verification/internal/repository"
	"merchant-verification/internal/util"

	"go.uber.org/zap"
)

const (
	otpMin = 100000
	otpMax = 999999

	maxConfirmRetries = 5
	confirmBackoff    = 5 * time.Millisecond
)

var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)

type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	SendTimeout time.Duration
}

type IssueRequest struct {
	OwnerID    string
	Identifier string
	Channel    model.Channel
	Meta       model.RequestMeta
}

type IssueResult struct {
	ExpiresInMs int64     `json:"expires_in_ms"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type ConfirmResult struct {
	Verified bool `json:"verified"`
}

// OTPService issues and confirms time-boxed one-time codes.
type OTPService struct {
	challenges ChallengeStore
	guard      *AbuseGuard
	sender     Sender
	hasher     *hashing.Hasher
	clock      clock.Clock
	cfg        OTPConfig
	logger     *zap.Logger
}

func NewOTPService(challenges ChallengeStore, guard *AbuseGuard, sender Sender, hasher *hashing.Hasher, clk clock.Clock, cfg OTPConfig, logger *zap.Logger) *OTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPService{
		challenges: challenges,
		guard:      guard,
		sender:     sender,
		hasher:     hasher,
		clock:      clk,
		cfg:        cfg,
		logger:     logger,
	}
}

// NormalizeIdentifier lower-cases emails and strips phone punctuation.
func NormalizeIdentifier(identifier string, channel model.Channel) (string, error) {
	id := strings.TrimSpace(identifier)
	switch channel {
	case model.ChannelEmail:
		addr, err := mail.ParseAddress(id)
		if err != nil || addr.Address != id {
			return "", newError(KindInvalidInput, "invalid email address").WithDetail("field", "identifier")
		}
		return strings.ToLower(id), nil
	case model.ChannelSMS:
		r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
		id = r.Replace(id)
		if !phonePattern.MatchString(id) {
			return "", newError(KindInvalidInput, "invalid phone number").WithDetail("field", "identifier")
		}
		return id, nil
	}
	return "", newError(KindInvalidInput, "unsupported channel").WithDetail("field", "channel")
}

// Issue generates a fresh code for (identifier, channel), replacing any prior
// challenge, and dispatches it. The attempt is logged before dispatch so a
// failed delivery still counts against the rate window.
func (s *OTPService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	identifier, err := NormalizeIdentifier(req.Identifier, req.Channel)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Check(ctx, req.OwnerID, identifier, req.Channel, req.Meta.DeviceFingerprint); err != nil {
		metrics.OTPIssuedTotal.WithLabelValues(string(req.Channel), "rejected").Inc()
		return nil, err
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	codeHash, err := s.hasher.HashCode(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.clock.Now()
	challenge := &model.Challenge{
		Identifier: identifier,
		Channel:    req.Channel,
		CodeHash:   codeHash,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.TTL),
	}
	if err := s.challenges.SaveChallenge(ctx, challenge); err != nil {
		s.logger.Error("Failed to persist challenge", util.Identifier("identifier", identifier), zap.Error(err))
		return nil, wrapError(KindStorageError, "failed to persist challenge", err)
	}

	if _, err := s.guard.Record(ctx, identifier, req.Channel, req.Meta); err != nil {
		s.logger.Error("Failed to log attempt", util.Identifier("identifier", identifier), zap.Error(err))
		return nil, wrapError(KindStorageError, "failed to log attempt", err)
	}

	sendCtx := ctx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}
	if err := s.sender.Send(sendCtx, req.Channel, identifier, code); err != nil {
		metrics.OTPIssuedTotal.WithLabelValues(string(req.Channel), "delivery_failed").Inc()
		s.logger.Warn("OTP delivery failed", util.Identifier("identifier", identifier), zap.String("channel", string(req.Channel)), zap.Error(err))
		return nil, wrapError(KindDeliveryFailed, "could not deliver code", err).WithDetail("channel", string(req.Channel))
	}

	metrics.OTPIssuedTotal.WithLabelValues(string(req.Channel), "issued").Inc()
	s.logger.Info("OTP issued",
		util.Identifier("identifier", identifier),
		zap.String("channel", string(req.Channel)),
		zap.Time("expires_at", challenge.ExpiresAt))

	return &IssueResult{
		ExpiresInMs: s.cfg.TTL.Milliseconds(),
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// Confirm checks submittedCode against the stored challenge. Every
// read-modify-write is a conditional update on the challenge version, so
// concurrent guesses cannot both spend the same attempt.
func (s *OTPService) Confirm(ctx context.Context, identifier string, channel model.Channel, submittedCode string) (*ConfirmResult, error) {
	id, err := NormalizeIdentifier(identifier, channel)
	if err != nil {
		return nil, err
	}

	// Every conflict means another writer spent an attempt or verified the
	// challenge, and those writes are capped by MaxAttempts. A run of
	// conflicts longer than the retry budget is reported as contention.
	for i := 0; i < maxConfirmRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				s.recordConfirm(channel, ErrStorageError)
				return nil, wrapError(KindStorageError, "confirm was cancelled", ctx.Err())
			case <-time.After(time.Duration(i) * confirmBackoff):
			}
		}
		result, err := s.tryConfirm(ctx, id, channel, strings.TrimSpace(submittedCode))
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		s.recordConfirm(channel, err)
		return result, err
	}

	s.recordConfirm(channel, ErrStorageError)
	s.logger.Warn("Challenge confirm gave up under contention",
		util.Identifier("identifier", id), zap.Int("retries", maxConfirmRetries))
	return nil, newError(KindStorageError, "challenge is under contention, retry").
		WithDetail("reason", "contention")
}

func (s *OTPService) tryConfirm(ctx context.Context, identifier string, channel model.Channel, code string) (*ConfirmResult, error) {
	c, err := s.challenges.GetChallenge(ctx, identifier, channel)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, "no code was issued for this contact")
	}
	if err != nil {
		return nil, wrapError(KindStorageError, "failed to load challenge", err)
	}

	if c.Verified {
		return nil, newError(KindAlreadyVerified, "code was already confirmed")
	}
	if !s.clock.Now().Before(c.ExpiresAt) {
		return nil, newError(KindExpired, "code has expired").WithDetail("expired_at", c.ExpiresAt)
	}
	if c.Attempts >= s.cfg.MaxAttempts {
		return nil, newError(KindAttemptsExhausted, "too many incorrect codes").WithDetail("attempts_remaining", 0)
	}

	match, err := s.hasher.VerifyCode(code, c.CodeHash)
	if err != nil {
		s.logger.Error("Stored challenge hash unreadable", util.Identifier("identifier", identifier), zap.Error(err))
		return nil, wrapError(KindStorageError, "stored challenge is corrupt", err)
	}

	version := c.Version
	if !match {
		c.Attempts++
		if err := s.challenges.UpdateChallenge(ctx, c, version); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return nil, err
			}
			return nil, wrapError(KindStorageError, "failed to record attempt", err)
		}
		return nil, newError(KindInvalidCode, "incorrect code").
			WithDetail("attempts_remaining", s.cfg.MaxAttempts-c.Attempts)
	}

	c.Verified = true
	if err := s.challenges.UpdateChallenge(ctx, c, version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		return nil, wrapError(KindStorageError, "failed to mark challenge verified", err)
	}

	s.logger.Info("OTP confirmed", util.Identifier("identifier", identifier), zap.String("channel", string(channel)))
	return &ConfirmResult{Verified: true}, nil
}

func (s *OTPService) recordConfirm(channel model.Channel, err error) {
	result := "verified"
	if kind, ok := KindOf(err); ok {
		result = string(kind)
	} else if err != nil {
		result = "error"
	}
	metrics.OTPConfirmTotal.WithLabelValues(string(channel), result).Inc()
}

// generateCode draws uniformly from [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}
