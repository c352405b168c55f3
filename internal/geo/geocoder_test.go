package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCityResolver_PrimarySucceeds(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`{"address":{"town":"Lonavala"}}`))
	}))
	defer primary.Close()

	r := NewCityResolver(&NominatimGeocoder{BaseURL: primary.URL}, nil, time.Second)
	assert.Equal(t, "Lonavala", r.City(context.Background(), Coordinates{18.75, 73.40}))
}

func TestCityResolver_FallsBackOnce(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	calls := 0
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "en", r.URL.Query().Get("localityLanguage"))
		_, _ = w.Write([]byte(`{"city":"Pune"}`))
	}))
	defer fallback.Close()

	r := NewCityResolver(
		&NominatimGeocoder{BaseURL: primary.URL},
		&BigDataCloudGeocoder{BaseURL: fallback.URL},
		time.Second,
	)
	assert.Equal(t, "Pune", r.City(context.Background(), Coordinates{18.52, 73.85}))
	assert.Equal(t, 1, calls)
}

func TestCityResolver_BothFailYieldsEmpty(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer down.Close()

	r := NewCityResolver(&NominatimGeocoder{BaseURL: down.URL}, &BigDataCloudGeocoder{BaseURL: down.URL}, time.Second)
	assert.Equal(t, "", r.City(context.Background(), Coordinates{0, 0}))

	var nilResolver *CityResolver
	assert.Equal(t, "", nilResolver.City(context.Background(), Coordinates{0, 0}))
}
