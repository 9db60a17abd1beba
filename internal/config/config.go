package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/solar-viability/internal/logging"
	"github.com/i474232898/solar-viability/internal/solar"
)

type AppConfig struct {
	Port        string
	HTTPTimeout time.Duration

	Log logging.Config

	GoogleSolarAPIKey string
	GeocoderAPIKey    string
	GoogleSolarURL    string
	OverpassURL       string
	PVGISURL          string

	FootprintRadiusM   float64
	FootprintTimeout   time.Duration
	IrradiationTimeout time.Duration

	// StoreBackend is memory or postgres.
	StoreBackend    string
	StoreMaxHistory int           // max number of records per site (0 = unlimited)
	StoreMaxAge     time.Duration // max age of records in the memory store (0 = unlimited)

	// Redis is used for provider responses when RedisAddr is set,
	// otherwise an in-process cache is used.
	RedisAddr       string
	RedisPass       string
	RedisDB         int
	CacheTTL        time.Duration
	CacheMaxEntries int

	// TrackedSites are re-analyzed every ReanalyzeInterval.
	TrackedSites      []solar.Coordinate
	ReanalyzeInterval time.Duration

	Fusion solar.FusionConfig
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	cfg.Log = logging.FromEnv()

	cfg.GoogleSolarAPIKey = os.Getenv("GOOGLE_SOLAR_API_KEY")
	cfg.GeocoderAPIKey = getenvDefault("GEOCODER_API_KEY", cfg.GoogleSolarAPIKey)
	cfg.GoogleSolarURL = os.Getenv("GOOGLE_SOLAR_URL")
	cfg.OverpassURL = os.Getenv("OVERPASS_URL")
	cfg.PVGISURL = os.Getenv("PVGIS_URL")

	if cfg.FootprintRadiusM, err = getenvFloat("FOOTPRINT_RADIUS_M", 30); err != nil {
		return nil, err
	}
	if cfg.FootprintTimeout, err = getenvDuration("FOOTPRINT_TIMEOUT", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.IrradiationTimeout, err = getenvDuration("IRRADIATION_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	cfg.StoreBackend = strings.ToLower(getenvDefault("STORE_BACKEND", "memory"))
	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "postgres" {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want memory or postgres", cfg.StoreBackend)
	}
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 50)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", 0); err != nil {
		return nil, err
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPass = os.Getenv("REDIS_PASS")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)
	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", 6*time.Hour); err != nil {
		return nil, err
	}
	cfg.CacheMaxEntries = getenvInt("CACHE_MAX_ENTRIES", 10000)

	if cfg.TrackedSites, err = ParseSites(os.Getenv("TRACKED_SITES")); err != nil {
		return nil, err
	}
	if cfg.ReanalyzeInterval, err = getenvDuration("REANALYZE_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.Fusion, err = loadFusion(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseSites parses "lat,lng;lat,lng". Empty input yields no sites.
func ParseSites(raw string) ([]solar.Coordinate, error) {
	var sites []solar.Coordinate
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		latlng := strings.Split(part, ",")
		if len(latlng) != 2 {
			return nil, fmt.Errorf("invalid TRACKED_SITES entry %q: want lat,lng", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latlng[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TRACKED_SITES latitude %q: %w", latlng[0], err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(latlng[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TRACKED_SITES longitude %q: %w", latlng[1], err)
		}
		c := solar.Coordinate{Lat: lat, Lng: lng}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid TRACKED_SITES entry %q: %w", part, err)
		}
		sites = append(sites, c)
	}
	return sites, nil
}

// loadFusion applies env overrides on top of solar.DefaultFusionConfig.
func loadFusion() (solar.FusionConfig, error) {
	f := solar.DefaultFusionConfig()
	floats := []struct {
		key    string
		dst    *float64
		lo, hi float64
	}{
		{"MODULE_EFFICIENCY", &f.ModuleEfficiency, 0.01, 1},
		{"PERFORMANCE_RATIO", &f.PerformanceRatio, 0.01, 1},
		{"PANEL_POWER_W", &f.PanelPowerW, 1, 2000},
		{"PANEL_AREA_M2", &f.PanelAreaM2, 0.1, 10},
		{"USAGE_FACTOR", &f.UsageFactor, 0.01, 1},
		{"MIN_VIABLE_AREA_M2", &f.MinViableAreaM2, 0, 10000},
		{"MIN_VIABLE_IRRADIATION", &f.MinViableIrradiation, 0, 4000},
		{"ESTIMATED_ROOF_AREA_M2", &f.EstimatedRoofAreaM2, 1, 10000},
	}
	for _, o := range floats {
		v, err := getenvFloat(o.key, *o.dst)
		if err != nil {
			return f, err
		}
		if v < o.lo || v > o.hi {
			return f, fmt.Errorf("invalid %s %v: want [%v, %v]", o.key, v, o.lo, o.hi)
		}
		*o.dst = v
	}

	f.MaxShadingPercent = getenvInt("MAX_SHADING_PERCENT", f.MaxShadingPercent)
	f.CautionShadingPercent = getenvInt("CAUTION_SHADING_PERCENT", f.CautionShadingPercent)
	if f.MaxShadingPercent < 0 || f.MaxShadingPercent > 100 {
		return f, fmt.Errorf("invalid MAX_SHADING_PERCENT %d: want [0, 100]", f.MaxShadingPercent)
	}
	if f.CautionShadingPercent < 0 || f.CautionShadingPercent > f.MaxShadingPercent {
		return f, fmt.Errorf("invalid CAUTION_SHADING_PERCENT %d: want [0, %d]", f.CautionShadingPercent, f.MaxShadingPercent)
	}
	if q := solar.Quality(strings.ToUpper(os.Getenv("MIN_FLUX_QUALITY"))); q != "" {
		if q.Rank() == 0 {
			return f, fmt.Errorf("invalid MIN_FLUX_QUALITY %q", q)
		}
		f.MinFluxQuality = q
	}
	return f, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
