package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"merchant-verification/internal/config"
	"merchant-verification/internal/util"
)

var ErrNoCity = errors.New("no city in geocoder response")

// ReverseGeocoder resolves coordinates to a city name.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, c Coordinates) (string, error)
}

// CityResolver queries a primary provider and, on its first failure, exactly
// one fallback. A failed lookup yields "" and is never surfaced.
type CityResolver struct {
	primary  ReverseGeocoder
	fallback ReverseGeocoder
	timeout  time.Duration
}

func NewCityResolver(primary, fallback ReverseGeocoder, timeout time.Duration) *CityResolver {
	return &CityResolver{primary: primary, fallback: fallback, timeout: timeout}
}

// NewCityResolverFromConfig wires the Nominatim and BigDataCloud style providers.
func NewCityResolverFromConfig(cfg config.GeoConfig) *CityResolver {
	client := &http.Client{Timeout: cfg.Timeout}
	var primary, fallback ReverseGeocoder
	if cfg.PrimaryURL != "" {
		primary = &NominatimGeocoder{BaseURL: cfg.PrimaryURL, UserAgent: cfg.UserAgent, Client: client}
	}
	if cfg.FallbackURL != "" {
		fallback = &BigDataCloudGeocoder{BaseURL: cfg.FallbackURL, Client: client}
	}
	return NewCityResolver(primary, fallback, cfg.Timeout)
}

func (r *CityResolver) City(ctx context.Context, c Coordinates) string {
	if r == nil {
		return ""
	}
	city, err := r.lookup(ctx, r.primary, c)
	if err == nil {
		return city
	}
	util.Debug("Primary reverse geocoder failed", util.ErrorField(err))

	city, err = r.lookup(ctx, r.fallback, c)
	if err != nil {
		util.Debug("Fallback reverse geocoder failed", util.ErrorField(err))
		return ""
	}
	return city
}

func (r *CityResolver) lookup(ctx context.Context, g ReverseGeocoder, c Coordinates) (string, error) {
	if g == nil {
		return "", errors.New("geocoder not configured")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return g.ReverseGeocode(ctx, c)
}

type NominatimGeocoder struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, c Coordinates) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", formatCoord(c.Latitude))
	q.Set("lon", formatCoord(c.Longitude))

	var body struct {
		Address struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
			County  string `json:"county"`
		} `json:"address"`
	}
	if err := getJSON(ctx, g.Client, g.BaseURL+"?"+q.Encode(), g.UserAgent, &body); err != nil {
		return "", err
	}
	for _, name := range []string{body.Address.City, body.Address.Town, body.Address.Village, body.Address.County} {
		if name != "" {
			return name, nil
		}
	}
	return "", ErrNoCity
}

type BigDataCloudGeocoder struct {
	BaseURL string
	Client  *http.Client
}

func (g *BigDataCloudGeocoder) ReverseGeocode(ctx context.Context, c Coordinates) (string, error) {
	q := url.Values{}
	q.Set("latitude", formatCoord(c.Latitude))
	q.Set("longitude", formatCoord(c.Longitude))
	q.Set("localityLanguage", "en")

	var body struct {
		City     string `json:"city"`
		Locality string `json:"locality"`
	}
	if err := getJSON(ctx, g.Client, g.BaseURL+"?"+q.Encode(), "", &body); err != nil {
		return "", err
	}
	if body.City != "" {
		return body.City, nil
	}
	if body.Locality != "" {
		return body.Locality, nil
	}
	return "", ErrNoCity
}

func getJSON(ctx context.Context, client *http.Client, rawURL, userAgent string, out interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build geocoder request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("geocoder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
