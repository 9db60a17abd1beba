package solar

import "fmt"

// assessment is the subset of a record the verdict depends on.
type assessment struct {
	usableM2       float64
	areaSource     AreaSource
	irradiation    float64
	irrSource      string
	shadingPercent int
	shadingSource  ShadingSource
}

func (a assessment) confidence() Confidence {
	areaMeasured := a.areaSource != AreaEstimate
	irrMeasured := a.irrSource != IrradiationEstimate
	switch {
	case !areaMeasured || !irrMeasured:
		return ConfidenceLow
	case a.shadingSource == ShadingFlux:
		return ConfidenceHigh
	default:
		return ConfidenceMedium
	}
}

// decide applies the thresholds in a fixed order. Every blocking condition
// is reported before any cautionary one, and the same assessment always
// yields the same reasons.
func decide(cfg FusionConfig, a assessment) (Verdict, []string) {
	var blocking []string
	if a.usableM2 < cfg.MinViableAreaM2 {
		blocking = append(blocking, fmt.Sprintf("Usable roof area of %.1f m² is below the minimum viable area of %.0f m².", a.usableM2, cfg.MinViableAreaM2))
	}
	if a.irradiation < cfg.MinViableIrradiation {
		blocking = append(blocking, fmt.Sprintf("Annual irradiation of %.0f kWh/m² is below the minimum viable %.0f kWh/m².", a.irradiation, cfg.MinViableIrradiation))
	}
	if a.shadingPercent > cfg.MaxShadingPercent {
		blocking = append(blocking, fmt.Sprintf("Shading losses of %d%% exceed the maximum acceptable %d%%.", a.shadingPercent, cfg.MaxShadingPercent))
	}
	if len(blocking) > 0 {
		return VerdictNotApt, blocking
	}

	var caution []string
	if a.areaSource == AreaEstimate {
		caution = append(caution, "Roof area is a regional estimate; no building outline was measured.")
	}
	if a.irrSource == IrradiationEstimate {
		caution = append(caution, "Irradiation is a climatological estimate for this latitude.")
	}
	if a.shadingPercent >= cfg.CautionShadingPercent {
		caution = append(caution, fmt.Sprintf("Shading losses of %d%% are within the cautionary band (%d%% to %d%%).", a.shadingPercent, cfg.CautionShadingPercent, cfg.MaxShadingPercent))
	}
	if len(caution) > 0 {
		return VerdictPartial, caution
	}

	return VerdictApt, []string{fmt.Sprintf(
		"Roof area of %.1f m², irradiation of %.0f kWh/m² and shading losses of %d%% meet every viability threshold.",
		a.usableM2, a.irradiation, a.shadingPercent,
	)}
}
