package solar

import (
	"math"

	"github.com/i474232898/solar-viability/internal/common"
)

// SizeSystem picks the largest whole number of panels whose footprint fits
// within usableM2 × UsageFactor.
func SizeSystem(cfg FusionConfig, usableM2 float64) SystemConfig {
	sc := SystemConfig{PanelPowerW: cfg.PanelPowerW}
	if usableM2 <= 0 || cfg.PanelAreaM2 <= 0 || cfg.UsageFactor <= 0 {
		return sc
	}

	limit := usableM2 * cfg.UsageFactor
	count := int(math.Floor(limit / cfg.PanelAreaM2))
	for count > 0 && float64(count)*cfg.PanelAreaM2 > limit {
		count--
	}
	for float64(count+1)*cfg.PanelAreaM2 <= limit {
		count++
	}

	sc.PanelCount = count
	sc.SystemPowerKWp = common.Round(float64(count)*cfg.PanelPowerW/1000, 2)
	sc.OccupiedAreaM2 = math.Min(common.Round(float64(count)*cfg.PanelAreaM2, 2), limit)
	sc.PowerDensityWPerM2 = common.Round(float64(count)*cfg.PanelPowerW/usableM2, 2)
	sc.AreaUtilizationPercent = common.Round(sc.OccupiedAreaM2/usableM2*100, 1)
	return sc
}

// EstimateProduction returns the annual yield in kWh. A provider-supplied
// specific yield takes precedence over the area-based formula.
func EstimateProduction(cfg FusionConfig, irradiation, usableM2, shading float64, sc SystemConfig, perKWp *float64) float64 {
	unshaded := 1 - common.Clamp(shading, 0, 1)
	if perKWp != nil && *perKWp > 0 {
		return common.Round(*perKWp*sc.SystemPowerKWp*unshaded, 0)
	}
	return common.Round(irradiation*usableM2*cfg.ModuleEfficiency*cfg.PerformanceRatio*unshaded, 0)
}
