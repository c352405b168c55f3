package service

import (
	"context"
	"errors"
	"time"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/geo"
	"merchant-verification/internal/model"
	"merchant-verification/internal/observability/metrics"
	"merchant-verification/internal/repository"

	"go.uber.org/zap"
)

const DefaultToleranceKm = 0.5

type LocationConfig struct {
	ToleranceKm     float64
	PositionTimeout time.Duration
	PositionMaxAge  time.Duration
	HighAccuracy    bool
}

// LocationService compares the caller's live position with a venue's
// registered coordinates.
type LocationService struct {
	venues VenueDirectory
	cities CityLookup
	clock  clock.Clock
	cfg    LocationConfig
	logger *zap.Logger
}

func NewLocationService(venues VenueDirectory, cities CityLookup, clk clock.Clock, cfg LocationConfig, logger *zap.Logger) *LocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ToleranceKm <= 0 {
		cfg.ToleranceKm = DefaultToleranceKm
	}
	return &LocationService{venues: venues, cities: cities, clock: clk, cfg: cfg, logger: logger}
}

// DefaultPositionOptions are the acquisition knobs offered to the browser.
func (s *LocationService) DefaultPositionOptions() model.PositionOptions {
	return model.PositionOptions{
		HighAccuracy:  s.cfg.HighAccuracy,
		TimeoutMs:     int(s.cfg.PositionTimeout.Milliseconds()),
		MaxCacheAgeMs: int(s.cfg.PositionMaxAge.Milliseconds()),
	}
}

// Verify is the pure proximity check. A toleranceKm <= 0 selects the default.
func (s *LocationService) Verify(userCoords geo.Coordinates, venueCoords *geo.Coordinates, toleranceKm float64) (*model.LocationResult, error) {
	if venueCoords == nil {
		return nil, newError(KindVenueLocationMissing, "venue has no registered coordinates")
	}
	if !userCoords.Valid() {
		return nil, PositionError(ReasonUnavailable, "reported coordinates are out of range")
	}
	if toleranceKm <= 0 {
		toleranceKm = s.cfg.ToleranceKm
	}

	distance := geo.DistanceKm(userCoords, *venueCoords)
	return &model.LocationResult{
		DistanceKm:        distance,
		IsWithinTolerance: distance <= toleranceKm,
		ToleranceKm:       toleranceKm,
	}, nil
}

// VerifyVenue resolves the venue, acquires a position from src and runs the
// proximity check. City enrichment never fails the call.
func (s *LocationService) VerifyVenue(ctx context.Context, venueID string, src PositionSource, opts model.PositionOptions) (*model.LocationResult, *model.Position, error) {
	venue, err := s.venues.GetVenue(ctx, venueID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, newError(KindNotFound, "venue not found").WithDetail("venue_id", venueID)
	}
	if err != nil {
		return nil, nil, wrapError(KindStorageError, "failed to load venue", err)
	}
	if venue.Location == nil {
		return nil, nil, newError(KindVenueLocationMissing, "venue has no registered coordinates").WithDetail("venue_id", venueID)
	}

	pos, err := s.acquire(ctx, src, opts)
	if err != nil {
		reason, _ := PositionReasonOf(err)
		metrics.LocationVerdictsTotal.WithLabelValues("position_" + string(reason)).Inc()
		return nil, nil, err
	}

	result, err := s.Verify(pos.Coordinates, venue.Location, s.cfg.ToleranceKm)
	if err != nil {
		return nil, nil, err
	}
	if s.cities != nil {
		result.City = s.cities.City(ctx, pos.Coordinates)
	}

	verdict := "outside"
	if result.IsWithinTolerance {
		verdict = "within"
	}
	metrics.LocationVerdictsTotal.WithLabelValues(verdict).Inc()
	metrics.LocationDistanceKm.Observe(result.DistanceKm)

	s.logger.Info("Proximity checked",
		zap.String("venue_id", venueID),
		zap.Float64("distance_km", result.DistanceKm),
		zap.Float64("tolerance_km", result.ToleranceKm),
		zap.Bool("within", result.IsWithinTolerance),
		zap.Float64("accuracy_m", pos.AccuracyM))

	return result, pos, nil
}

func (s *LocationService) acquire(ctx context.Context, src PositionSource, opts model.PositionOptions) (*model.Position, error) {
	if src == nil {
		return nil, PositionError(ReasonUnavailable, "no position source")
	}
	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = int(s.cfg.PositionTimeout.Milliseconds())
	}
	if opts.MaxCacheAgeMs <= 0 {
		opts.MaxCacheAgeMs = int(s.cfg.PositionMaxAge.Milliseconds())
	}

	posCtx := ctx
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		posCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	pos, err := src.CurrentPosition(posCtx, opts)
	if err != nil {
		if _, ok := PositionReasonOf(err); ok {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, PositionError(ReasonTimeout, "position fix timed out")
		}
		return nil, PositionError(ReasonUnavailable, "position could not be determined")
	}
	if pos == nil {
		return nil, PositionError(ReasonUnavailable, "position could not be determined")
	}
	return pos, nil
}
