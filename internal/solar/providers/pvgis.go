package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sony/gobreaker"

	"github.com/i474232898/solar-viability/internal/solar"
)

const defaultPVGISURL = "https://re.jrc.ec.europa.eu/api/v5_2"

// PVGISProvider implements solar.IrradiationProvider with the JRC PVGIS
// PVcalc endpoint. It has no imagery, so results carry no layers and no
// flux-derived shading.
type PVGISProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewPVGISProvider(client *http.Client, baseURL string) *PVGISProvider {
	if baseURL == "" {
		baseURL = defaultPVGISURL
	}
	return &PVGISProvider{
		name:    "pvgis",
		baseURL: baseURL,
		httpCfg: DefaultHTTPConfig(client),
		circuit: newBreaker("pvgis"),
	}
}

func (p *PVGISProvider) Name() string {
	return p.name
}

type pvgisValue struct {
	Value float64 `json:"value"`
}

type pvgisResponse struct {
	Inputs struct {
		MountingSystem struct {
			Fixed struct {
				Slope   pvgisValue `json:"slope"`
				Azimuth pvgisValue `json:"azimuth"`
			} `json:"fixed"`
		} `json:"mounting_system"`
	} `json:"inputs"`
	Outputs struct {
		Totals struct {
			Fixed struct {
				EY  float64 `json:"E_y"`
				HIY float64 `json:"H(i)_y"`
			} `json:"fixed"`
		} `json:"totals"`
	} `json:"outputs"`
}

func (p *PVGISProvider) Fetch(ctx context.Context, req solar.LayerRequest) (solar.IrradiationResult, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(req.Coordinate.Lat, 'f', 6, 64))
		values.Set("lon", strconv.FormatFloat(req.Coordinate.Lng, 'f', 6, 64))
		values.Set("peakpower", "1")
		values.Set("loss", "14")
		values.Set("optimalangles", "1")
		values.Set("outputformat", "json")
		return http.NewRequest(http.MethodGet, p.baseURL+"/PVcalc?"+values.Encode(), nil)
	}

	payload, err := fetchJSON[pvgisResponse](ctx, p.name, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return solar.IrradiationResult{}, err
	}

	fixed := payload.Outputs.Totals.Fixed
	if fixed.HIY <= 0 {
		return solar.IrradiationResult{}, fmt.Errorf("%s: response carries no irradiation totals", p.name)
	}

	res := solar.IrradiationResult{
		AnnualKWhPerM2: fixed.HIY,
		Source:         p.name,
	}
	if fixed.EY > 0 {
		y := fixed.EY
		res.ProductionPerKWp = &y
	}

	mount := payload.Inputs.MountingSystem.Fixed
	tilt := mount.Slope.Value
	// PVGIS azimuth is the aspect: 0 = south, -90 = east, 90 = west.
	az := math.Mod(mount.Azimuth.Value+180+360, 360)
	res.TiltDeg, res.AzimuthDeg = &tilt, &az
	return res, nil
}
