package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/common"
	"github.com/i474232898/solar-viability/internal/solar"
)

// keyOnce guards the library's package-level ApiKey.
var keyOnce sync.Once

// GoogleGeocoder implements solar.Geocoder with kelvins/geocoder.
type GoogleGeocoder struct {
	geocode func(geocoder.Address) (geocoder.Location, error)
}

// NewGoogleGeocoder sets the process-wide API key used by the library.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	keyOnce.Do(func() { geocoder.ApiKey = apiKey })
	return &GoogleGeocoder{geocode: geocoder.Geocoding}
}

// Geocode resolves addr. The library call is not context aware; an
// abandoned call finishes in the background and its result is dropped.
func (g *GoogleGeocoder) Geocode(ctx context.Context, addr solar.Address) (solar.Coordinate, error) {
	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := g.geocode(geocoder.Address{
			Street:     addr.Street,
			Number:     addr.Number,
			City:       addr.City,
			State:      addr.State,
			Country:    addr.Country,
			PostalCode: addr.PostalCode,
		})
		done <- result{loc, err}
	}()

	select {
	case <-ctx.Done():
		return solar.Coordinate{}, apierr.Newf(apierr.NetworkError, "geocoding abandoned: %v", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return solar.Coordinate{}, geocodeFailure(r.err)
		}
		return solar.Coordinate{Lat: r.loc.Latitude, Lng: r.loc.Longitude}, nil
	}
}

func geocodeFailure(err error) *apierr.Record {
	msg := strings.ToLower(err.Error())
	switch {
	case common.HasAny(msg, "zero_results", "empty response", "verify address"):
		return apierr.New(apierr.InvalidAddress, err.Error())
	case common.HasAny(msg, "request_denied", "api key"):
		return apierr.New(apierr.FunctionNotFound, fmt.Sprintf("geocoder rejected the request: %v", err))
	default:
		return apierr.New(apierr.GeocodingFailed, err.Error())
	}
}
