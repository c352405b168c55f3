package scylla

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"merchant-verification/internal/geo"
	"merchant-verification/internal/model"
	"merchant-verification/internal/repository"
	"merchant-verification/internal/util"
)

const (
	selectUsersByPhone = `SELECT user_id FROM phone_to_user WHERE phone_hash = ?`
	selectVenue        = `SELECT owner_id, name, latitude, longitude FROM venues WHERE venue_id = ?`

	insertLocationVerification = `INSERT INTO merchant_location_verifications (
		owner_id, verified_at, venue_id, distance_km, tolerance_km, within_tolerance, city
	) VALUES (?, ?, ?, ?, ?, ?, ?)`
	updateProfileLocation = `UPDATE merchant_profiles SET
		location_verified = ?, location_venue_id = ?, location_distance_km = ?,
		location_city = ?, location_verified_at = ?
		WHERE owner_id = ?`
)

// DirectoryRepository reads the marketplace's user and venue tables and
// writes location verdicts onto the merchant profile.
type DirectoryRepository struct {
	client *ScyllaClient
}

func NewDirectoryRepository(client *ScyllaClient) *DirectoryRepository {
	return &DirectoryRepository{client: client}
}

// PhoneHash normalises a phone number and returns its SHA-256 hex digest,
// the key of phone_to_user.
func PhoneHash(phone string) string {
	normalized := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(phone)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (r *DirectoryRepository) UsersByPhone(ctx context.Context, phone string) ([]model.UserPhone, error) {
	iter := r.client.Query(ctx, selectUsersByPhone, PhoneHash(phone)).Iter()

	var (
		users  []model.UserPhone
		userID string
	)
	for iter.Scan(&userID) {
		users = append(users, model.UserPhone{UserID: userID, PhoneNumber: phone})
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to look up users by phone", util.Identifier("phone", phone), zap.Error(err))
		return nil, fmt.Errorf("failed to look up users by phone: %w", err)
	}
	return users, nil
}

func (r *DirectoryRepository) GetVenue(ctx context.Context, venueID string) (*model.Venue, error) {
	var (
		v        = model.Venue{VenueID: venueID}
		lat, lon *float64
	)
	err := r.client.Query(ctx, selectVenue, venueID).Scan(&v.OwnerID, &v.Name, &lat, &lon)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		util.Error("Failed to load venue", zap.String("venue_id", venueID), zap.Error(err))
		return nil, fmt.Errorf("failed to load venue: %w", err)
	}
	if lat != nil && lon != nil {
		v.Location = &geo.Coordinates{Latitude: *lat, Longitude: *lon}
	}
	return &v, nil
}

// RecordLocationVerification appends the verdict to the history table and,
// for a passing verdict, stamps the merchant profile.
func (r *DirectoryRepository) RecordLocationVerification(ctx context.Context, rec *model.MerchantLocationRecord) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(insertLocationVerification,
		rec.OwnerID, rec.VerifiedAt, rec.VenueID, rec.DistanceKm, rec.ToleranceKm, rec.WithinTolerance, rec.City)
	if rec.WithinTolerance {
		batch.Query(updateProfileLocation,
			true, rec.VenueID, rec.DistanceKm, rec.City, rec.VerifiedAt, rec.OwnerID)
	}

	if err := r.client.ExecuteBatch(ctx, batch); err != nil {
		util.Error("Failed to record location verification",
			zap.String("owner_id", rec.OwnerID),
			zap.String("venue_id", rec.VenueID),
			zap.Error(err))
		return fmt.Errorf("failed to record location verification: %w", err)
	}
	return nil
}
