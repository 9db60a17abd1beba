package httpapi

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/solar-viability/internal/metrics"
	"github.com/i474232898/solar-viability/internal/solar"
)

var validate = validator.New()

// NewApp returns a fiber app using the API envelope for errors and
// goccy/go-json for bodies.
func NewApp(name string) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
}

// RegisterOps wires the health and metrics endpoints.
func RegisterOps(app *fiber.App, service string) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": service,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *solar.Service) {
	v1 := app.Group("/api/v1")

	v1.Post("/analyses", func(c *fiber.Ctx) error {
		var body analysisBody
		if err := bindBody(c, &body); err != nil {
			return fail(c, fiber.StatusBadRequest, badRequest(err.Error()))
		}

		rec, aerr := service.Analyze(c.UserContext(), body.toRequest())
		if aerr != nil {
			return failRecord(c, aerr)
		}
		c.Location("/api/v1/analyses/" + rec.ID)
		return ok(c, fiber.StatusCreated, toResponse(rec))
	})

	v1.Get("/analyses/:id", func(c *fiber.Ctx) error {
		rec, err := service.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return failError(c, err)
		}
		return ok(c, fiber.StatusOK, toResponse(rec))
	})

	v1.Post("/analyses/:id/reanalyze", func(c *fiber.Ctx) error {
		rec, err := service.Reanalyze(c.UserContext(), c.Params("id"))
		if err != nil {
			return failError(c, err)
		}
		c.Location("/api/v1/analyses/" + rec.ID)
		return ok(c, fiber.StatusCreated, toResponse(rec))
	})

	v1.Get("/analyses", func(c *fiber.Ctx) error {
		coord, err := parseCoordinateQuery(c)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, badRequest(err.Error()))
		}

		recs, aerr := service.History(c.UserContext(), coord)
		if aerr != nil {
			return failRecord(c, aerr)
		}
		out := make([]analysisResponse, 0, len(recs))
		for _, r := range recs {
			out = append(out, toResponse(r))
		}
		return ok(c, fiber.StatusOK, fiber.Map{
			"coordinate": coord,
			"analyses":   out,
		})
	})

	v1.Post("/geocode", func(c *fiber.Ctx) error {
		var body geocodeBody
		if err := bindBody(c, &body); err != nil {
			return fail(c, fiber.StatusBadRequest, badRequest(err.Error()))
		}

		coord, aerr := service.Geocode(c.UserContext(), body.toAddress())
		if aerr != nil {
			return failRecord(c, aerr)
		}
		return ok(c, fiber.StatusOK, fiber.Map{"coordinate": coord})
	})

	v1.Get("/layers", func(c *fiber.Ctx) error {
		var q layersQuery
		if err := q.bind(c); err != nil {
			return fail(c, fiber.StatusBadRequest, badRequest(err.Error()))
		}

		catalog, aerr := service.Layers(c.UserContext(), q.toRequest())
		if aerr != nil {
			return failRecord(c, aerr)
		}
		return ok(c, fiber.StatusOK, catalog)
	})
}

func bindBody(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return errors.New("request body is required")
	}
	if err := c.BodyParser(dst); err != nil {
		return errors.New("request body is not valid JSON")
	}
	return validate.Struct(dst)
}

type coordinateBody struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

// polygonBody carries a roof outline as latitude-first pairs.
type polygonBody struct {
	Ring   [][2]float64 `json:"ring" validate:"required"`
	Source string       `json:"source" validate:"omitempty,oneof=user-drawn building-footprint-db imagery-derived"`
}

// analysisBody is the body of POST /analyses.
type analysisBody struct {
	Coordinate *coordinateBody `json:"coordinate" validate:"required"`
	Polygon    *polygonBody    `json:"polygon"`
}

func (b analysisBody) toRequest() solar.AnalysisRequest {
	req := solar.AnalysisRequest{
		Coordinate: solar.Coordinate{Lat: *b.Coordinate.Lat, Lng: *b.Coordinate.Lng},
	}
	if b.Polygon != nil {
		source := solar.SourceUserDrawn
		if b.Polygon.Source != "" {
			source = solar.PolygonSource(b.Polygon.Source)
		}
		req.Polygon = solar.PolygonFromLatLng(b.Polygon.Ring, source)
	}
	return req
}

type geocodeBody struct {
	Street     string `json:"street" validate:"max=200"`
	Number     int    `json:"number" validate:"gte=0"`
	City       string `json:"city" validate:"max=100"`
	State      string `json:"state" validate:"max=100"`
	Country    string `json:"country" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"max=20"`
}

func (b geocodeBody) toAddress() solar.Address {
	return solar.Address{
		Street:     strings.TrimSpace(b.Street),
		Number:     b.Number,
		City:       strings.TrimSpace(b.City),
		State:      strings.TrimSpace(b.State),
		Country:    strings.TrimSpace(b.Country),
		PostalCode: strings.TrimSpace(b.PostalCode),
	}
}

// coordinateQuery holds lat/lng query parameters.
type coordinateQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lng float64 `validate:"gte=-180,lte=180"`
}

func parseCoordinateQuery(c *fiber.Ctx) (solar.Coordinate, error) {
	var q coordinateQuery
	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if latStr == "" || lngStr == "" {
		return solar.Coordinate{}, errors.New("lat and lng query parameters are required")
	}
	var err error
	if q.Lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return solar.Coordinate{}, errors.New("lat must be a number")
	}
	if q.Lng, err = strconv.ParseFloat(lngStr, 64); err != nil {
		return solar.Coordinate{}, errors.New("lng must be a number")
	}
	if err := validate.Struct(q); err != nil {
		return solar.Coordinate{}, err
	}
	return solar.Coordinate{Lat: q.Lat, Lng: q.Lng}, nil
}

// layersQuery holds query parameters for the layer catalog. Zero values
// fall back to the resolver defaults.
type layersQuery struct {
	Coordinate solar.Coordinate
	View       string  `validate:"omitempty,oneof=DSM_LAYER IMAGERY_LAYERS IMAGERY_AND_ANNUAL_FLUX_LAYERS IMAGERY_AND_ALL_FLUX_LAYERS FULL_LAYERS"`
	Quality    string  `validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	PixelSize  float64 `validate:"gte=0,lte=10"`
	Radius     float64 `validate:"gte=0,lte=1000"`
	Exact      bool
}

func (q *layersQuery) bind(c *fiber.Ctx) error {
	coord, err := parseCoordinateQuery(c)
	if err != nil {
		return err
	}
	q.Coordinate = coord
	q.View = strings.ToUpper(c.Query("view"))
	q.Quality = strings.ToUpper(c.Query("quality"))

	if v := c.Query("pixelSize"); v != "" {
		if q.PixelSize, err = strconv.ParseFloat(v, 64); err != nil {
			return errors.New("pixelSize must be a number")
		}
	}
	if v := c.Query("radius"); v != "" {
		if q.Radius, err = strconv.ParseFloat(v, 64); err != nil {
			return errors.New("radius must be a number")
		}
	}
	if v := c.Query("exact"); v != "" {
		if q.Exact, err = strconv.ParseBool(v); err != nil {
			return errors.New("exact must be true or false")
		}
	}
	return validate.Struct(q)
}

func (q layersQuery) toRequest() solar.LayerRequest {
	return solar.LayerRequest{
		Coordinate:      q.Coordinate,
		RadiusM:         q.Radius,
		View:            solar.View(q.View),
		RequiredQuality: solar.Quality(q.Quality),
		PixelSizeM:      q.PixelSize,
		ExactQuality:    q.Exact,
	}
}
