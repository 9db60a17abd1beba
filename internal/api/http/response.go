package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/solar"
)

// envelope is the body of every API response.
type envelope struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorCode apierr.Code   `json:"errorCode,omitempty"`
	Action    apierr.Action `json:"action,omitempty"`
}

const notFoundMessage = "This analysis does not exist."

var statusByCode = map[apierr.Code]int{
	apierr.EdgeFunctionError:   fiber.StatusBadGateway,
	apierr.NetworkError:        fiber.StatusGatewayTimeout,
	apierr.FunctionNotFound:    fiber.StatusServiceUnavailable,
	apierr.EmptyResponse:       fiber.StatusBadGateway,
	apierr.MalformedResponse:   fiber.StatusBadGateway,
	apierr.GeocodingFailed:     fiber.StatusBadGateway,
	apierr.AnalysisFailed:      fiber.StatusBadGateway,
	apierr.InvalidAddress:      fiber.StatusUnprocessableEntity,
	apierr.FootprintNotFound:   fiber.StatusNotFound,
	apierr.FootprintTimeout:    fiber.StatusGatewayTimeout,
	apierr.FootprintInvalid:    fiber.StatusUnprocessableEntity,
	apierr.AuthRequired:        fiber.StatusUnauthorized,
	apierr.AuthExpired:         fiber.StatusUnauthorized,
	apierr.AuthInvalid:         fiber.StatusUnauthorized,
	apierr.InsufficientCredits: fiber.StatusPaymentRequired,
	apierr.UnknownError:        fiber.StatusInternalServerError,
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code apierr.Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(envelope{Success: true, Data: data})
}

func fail(c *fiber.Ctx, status int, rec *apierr.Record) error {
	return c.Status(status).JSON(envelope{
		Error:     rec.UserMessage,
		ErrorCode: rec.Code,
		Action:    rec.Action,
	})
}

func failRecord(c *fiber.Ctx, rec *apierr.Record) error {
	return fail(c, StatusFor(rec.Code), rec)
}

// failError renders an error returned by the service: a store miss, a
// classified record, or anything else.
func failError(c *fiber.Ctx, err error) error {
	if errors.Is(err, solar.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, apierr.Describe(apierr.UnknownError, notFoundMessage))
	}
	return failRecord(c, apierr.FromError(err))
}

func badRequest(detail string) *apierr.Record {
	rec := apierr.Describe(apierr.InvalidAddress, "The request is incomplete or invalid: "+detail)
	rec.Message = detail
	return rec
}

// ErrorHandler renders framework errors with the API envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := apierr.UnknownError
		switch {
		case fe.Code == fiber.StatusNotFound:
			code = apierr.FunctionNotFound
		case fe.Code < fiber.StatusInternalServerError:
			code = apierr.InvalidAddress
		}
		return fail(c, fe.Code, apierr.Describe(code, fe.Message))
	}
	var rec *apierr.Record
	if errors.As(err, &rec) {
		return failRecord(c, rec)
	}
	return fail(c, fiber.StatusInternalServerError, apierr.Describe(apierr.UnknownError, ""))
}

// analysisResponse is the presentation form of solar.AnalysisRecord. The
// roof outline is latitude-first.
type analysisResponse struct {
	ID            string           `json:"id"`
	Version       int              `json:"version"`
	PreviousID    string           `json:"previousId,omitempty"`
	Coordinate    solar.Coordinate `json:"coordinate"`
	RoofOutline   [][2]float64     `json:"roofOutline,omitempty"`
	OutlineSource string           `json:"roofOutlineSource,omitempty"`

	UsableAreaM2       float64             `json:"usableAreaM2"`
	AreaSource         solar.AreaSource    `json:"areaSource"`
	AnnualIrradiation  float64             `json:"annualIrradiation"`
	IrradiationSource  string              `json:"irradiationSource"`
	ShadingIndex       float64             `json:"shadingIndex"`
	ShadingSource      solar.ShadingSource `json:"shadingSource"`
	ShadingLossPercent int                 `json:"shadingLossPercent"`

	EstimatedProductionKWh float64       `json:"estimatedProductionKwh"`
	Verdict                solar.Verdict `json:"verdict"`
	Reasons                []string      `json:"reasons"`
	Recommendations        []string      `json:"recommendations"`
	Warnings               []string      `json:"warnings"`

	Coverage       solar.Coverage     `json:"coverage"`
	CacheIDs       solar.CacheIDs     `json:"cacheIds"`
	System         solar.SystemConfig `json:"systemConfig"`
	Confidence     solar.Confidence   `json:"confidence"`
	ImageryQuality solar.Quality      `json:"imageryQuality,omitempty"`
	LayerCount     int                `json:"layerCount"`
	AzimuthDeg     *float64           `json:"azimuthDeg,omitempty"`
	TiltDeg        *float64           `json:"tiltDeg,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

func toResponse(r solar.AnalysisRecord) analysisResponse {
	out := analysisResponse{
		ID:                     r.ID,
		Version:                r.Version,
		PreviousID:             r.PreviousID,
		Coordinate:             r.Coordinate,
		UsableAreaM2:           r.UsableAreaM2,
		AreaSource:             r.AreaSource,
		AnnualIrradiation:      r.AnnualIrradiation,
		IrradiationSource:      r.IrradiationSource,
		ShadingIndex:           r.ShadingIndex,
		ShadingSource:          r.ShadingSource,
		ShadingLossPercent:     r.ShadingLossPercent,
		EstimatedProductionKWh: r.EstimatedProductionKWh,
		Verdict:                r.Verdict,
		Reasons:                nonNil(r.Reasons),
		Recommendations:        nonNil(r.Recommendations),
		Warnings:               nonNil(r.Warnings),
		Coverage:               r.Coverage,
		CacheIDs:               r.CacheIDs,
		System:                 r.System,
		Confidence:             r.Confidence,
		ImageryQuality:         r.ImageryQuality,
		LayerCount:             r.LayerCount,
		AzimuthDeg:             r.AzimuthDeg,
		TiltDeg:                r.TiltDeg,
		CreatedAt:              r.CreatedAt,
	}
	if r.Polygon != nil {
		out.RoofOutline = r.Polygon.LatLng()
		out.OutlineSource = string(r.Polygon.Source)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
