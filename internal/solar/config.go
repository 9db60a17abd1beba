package solar

// FusionConfig holds the constants and thresholds the fusion engine works
// with. It is passed by value into the Engine and never mutated.
type FusionConfig struct {
	// ModuleEfficiency is the panel conversion efficiency (0-1).
	ModuleEfficiency float64
	// PerformanceRatio covers inverter, wiring, soiling and thermal losses (0-1).
	PerformanceRatio float64

	// PanelPowerW and PanelAreaM2 describe the default panel model.
	PanelPowerW float64
	PanelAreaM2 float64
	// UsageFactor is the share of usable area panels may cover.
	UsageFactor float64

	MinViableAreaM2       float64
	MinViableIrradiation  float64
	MaxShadingPercent     int
	CautionShadingPercent int

	// EstimatedRoofAreaM2 replaces the area when no geometry is available.
	EstimatedRoofAreaM2 float64
	// MinFluxQuality is the imagery quality required to trust flux shading.
	MinFluxQuality Quality
}

// DefaultFusionConfig returns the documented defaults.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		ModuleEfficiency:      0.20,
		PerformanceRatio:      0.80,
		PanelPowerW:           400,
		PanelAreaM2:           1.95,
		UsageFactor:           0.8,
		MinViableAreaM2:       10,
		MinViableIrradiation:  900,
		MaxShadingPercent:     40,
		CautionShadingPercent: 25,
		EstimatedRoofAreaM2:   60,
		MinFluxQuality:        QualityMedium,
	}
}
