package memory

import (
	"context"
	"sync"

	"merchant-verification/internal/model"
	"merchant-verification/internal/repository"
)

// Directory serves users, venues and merchant profiles for dev mode and tests.
type Directory struct {
	mu       sync.RWMutex
	users    map[string][]model.UserPhone
	venues   map[string]model.Venue
	profiles map[string][]model.MerchantLocationRecord
}

func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[string][]model.UserPhone),
		venues:   make(map[string]model.Venue),
		profiles: make(map[string][]model.MerchantLocationRecord),
	}
}

func (d *Directory) AddUser(u model.UserPhone) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.PhoneNumber] = append(d.users[u.PhoneNumber], u)
}

func (d *Directory) UsersByPhone(_ context.Context, phone string) ([]model.UserPhone, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.UserPhone(nil), d.users[phone]...), nil
}

func (d *Directory) PutVenue(v model.Venue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.venues[v.VenueID] = v
}

func (d *Directory) GetVenue(_ context.Context, venueID string) (*model.Venue, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.venues[venueID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (d *Directory) RecordLocationVerification(_ context.Context, rec *model.MerchantLocationRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[rec.OwnerID] = append(d.profiles[rec.OwnerID], *rec)
	return nil
}

func (d *Directory) LocationHistory(ownerID string) []model.MerchantLocationRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.MerchantLocationRecord(nil), d.profiles[ownerID]...)
}
