package service

import (
	"merchant-verification/internal/clock"
	"merchant-verification/internal/config"
	"merchant-verification/internal/hashing"

	"go.uber.org/zap"
)

// Dependencies are the storage and delivery backends the services run on.
// Events, Review, Audit and Cities are optional.
type Dependencies struct {
	Challenges ChallengeStore
	Attempts   AttemptLog
	Users      UserDirectory
	Venues     VenueDirectory
	Profiles   MerchantProfileStore
	Documents  DocumentStore
	Blobs      BlobStore
	Sender     Sender
	Encryptor  FieldEncryptor
	Cities     CityLookup
	Events     EventPublisher
	Review     ReviewIndex
	Audit      AuditSink
}

// ServiceFactory creates and manages service instances. It is used from the
// startup goroutine only.
type ServiceFactory struct {
	deps   Dependencies
	hasher *hashing.Hasher
	cfg    config.VerificationConfig
	clock  clock.Clock
	logger *zap.Logger

	guard        *AbuseGuard
	otp          *OTPService
	location     *LocationService
	intake       *IntakeService
	orchestrator *Orchestrator
}

func NewServiceFactory(deps Dependencies, hasher *hashing.Hasher, cfg config.VerificationConfig, clk clock.Clock, logger *zap.Logger) *ServiceFactory {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceFactory{
		deps:   deps,
		hasher: hasher,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
	}
}

func (f *ServiceFactory) AbuseGuard() *AbuseGuard {
	if f.guard == nil {
		f.guard = NewAbuseGuard(f.deps.Attempts, f.deps.Users, f.deps.Audit, f.clock, AbuseLimits{
			MaxVerificationAttempts: f.cfg.MaxVerificationAttempts,
			Cooldown:                f.cfg.Cooldown,
			MaxAccountsPerDevice:    f.cfg.MaxAccountsPerDevice,
			MaxAccountsPerPhone:     f.cfg.MaxAccountsPerPhone,
		}, f.logger.Named("abuse_guard"))
	}
	return f.guard
}

func (f *ServiceFactory) OTPService() *OTPService {
	if f.otp == nil {
		f.otp = NewOTPService(f.deps.Challenges, f.AbuseGuard(), f.deps.Sender, f.hasher, f.clock, OTPConfig{
			TTL:         f.cfg.OTPTTL,
			MaxAttempts: f.cfg.MaxConfirmAttempts,
			SendTimeout: f.cfg.SendTimeout,
		}, f.logger.Named("otp"))
	}
	return f.otp
}

func (f *ServiceFactory) LocationService() *LocationService {
	if f.location == nil {
		f.location = NewLocationService(f.deps.Venues, f.deps.Cities, f.clock, LocationConfig{
			ToleranceKm:     f.cfg.LocationToleranceKm,
			PositionTimeout: f.cfg.PositionTimeout,
			PositionMaxAge:  f.cfg.PositionMaxAge,
			HighAccuracy:    f.cfg.HighAccuracy,
		}, f.logger.Named("location"))
	}
	return f.location
}

func (f *ServiceFactory) IntakeService() *IntakeService {
	if f.intake == nil {
		f.intake = NewIntakeService(f.deps.Documents, f.deps.Blobs, f.deps.Encryptor, f.deps.Review, f.clock, IntakeConfig{
			DocumentMaxBytes: f.cfg.DocumentMaxBytes,
			SelfieMaxBytes:   f.cfg.SelfieMaxBytes,
		}, f.logger.Named("intake"))
	}
	return f.intake
}

func (f *ServiceFactory) Orchestrator() *Orchestrator {
	if f.orchestrator == nil {
		f.orchestrator = NewOrchestrator(f.OTPService(), f.LocationService(), f.IntakeService(),
			f.deps.Documents, f.deps.Profiles, f.deps.Events, f.clock, f.logger.Named("orchestrator"))
	}
	return f.orchestrator
}
