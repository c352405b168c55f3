package service

import (
	"context"
	"strings"
	"time"

	"merchant-verification/internal/clock"
	"merchant-verification/internal/model"
)

// ReportedPosition is a PositionSource backed by what the browser reported:
// either a fix or a geolocation error code.
type ReportedPosition struct {
	Fix       *model.Position
	ErrorCode string
	Clock     clock.Clock
}

func (p *ReportedPosition) CurrentPosition(ctx context.Context, opts model.PositionOptions) (*model.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, PositionError(ReasonTimeout, "position fix timed out")
	}

	switch strings.ToLower(strings.TrimSpace(p.ErrorCode)) {
	case "":
	case "permission_denied", "1":
		return nil, PositionError(ReasonPermissionDenied, "location permission was denied")
	case "timeout", "3":
		return nil, PositionError(ReasonTimeout, "position fix timed out")
	default:
		return nil, PositionError(ReasonUnavailable, "device could not determine its position")
	}

	if p.Fix == nil {
		return nil, PositionError(ReasonUnavailable, "no position was reported")
	}
	if !p.Fix.Coordinates.Valid() {
		return nil, PositionError(ReasonUnavailable, "reported coordinates are out of range")
	}

	if opts.MaxCacheAgeMs > 0 && !p.Fix.Timestamp.IsZero() && p.Clock != nil {
		age := p.Clock.Now().Sub(p.Fix.Timestamp)
		if age > time.Duration(opts.MaxCacheAgeMs)*time.Millisecond {
			return nil, PositionError(ReasonTimeout, "reported fix is too old").
				WithDetail("age_ms", age.Milliseconds())
		}
	}
	return p.Fix, nil
}
