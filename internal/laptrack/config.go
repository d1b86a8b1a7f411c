package laptrack

import (
	"fmt"
	"runtime"

	"github.com/banshee-data/laptrack/internal/config"
)

// Config holds the tracker thresholds. It is passed explicitly to every
// builder; nothing in this package keeps global tuning state.
type Config struct {
	MaxLinkingDistance    float64    // Frame-to-frame gate (strictly less than)
	GapClosingMaxDistance float64    // Segment-to-segment gate (less than or equal)
	MergingMaxDistance    float64    // Merge gate; zero follows GapClosingMaxDistance
	SplittingMaxDistance  float64    // Split gate; zero follows GapClosingMaxDistance
	AlternativeCostFactor float64    // Multiplier applied to the no-link alternative cost
	GapClosingTimeWindow  int        // Maximum frame gap bridged by gap closing
	IntensityRatioCutoffs [2]float64 // Allowed [min, max] merge/split intensity ratio
	CutoffPercentile      float64    // Percentile of the score pool used for the stage-2 cutoff
	MinSegmentLength      int        // Shorter stage-1 segments are discarded
	IntensityFeature      string     // Feature read for merge/split intensity ratios

	AllowGapClosing bool
	AllowMerging    bool
	AllowSplitting  bool

	// LinkingFeaturePenalties weights feature differences into the
	// frame-to-frame linking cost. Empty means pure distance linking.
	LinkingFeaturePenalties map[string]float64

	// Per-event feature penalties for stage 2, applied the same way.
	GapClosingFeaturePenalties map[string]float64
	MergingFeaturePenalties    map[string]float64
	SplittingFeaturePenalties  map[string]float64

	// Workers bounds stage-1 concurrency. Zero means runtime.NumCPU().
	Workers int
}

// DefaultConfig returns the built-in tracker defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig, filling
// unset fields with defaults.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MaxLinkingDistance:         cfg.GetMaxLinkingDistance(),
		GapClosingMaxDistance:      cfg.GetGapClosingMaxDistance(),
		MergingMaxDistance:         cfg.GetMergingMaxDistance(),
		SplittingMaxDistance:       cfg.GetSplittingMaxDistance(),
		AlternativeCostFactor:      cfg.GetAlternativeCostFactor(),
		GapClosingTimeWindow:       cfg.GetGapClosingTimeWindow(),
		IntensityRatioCutoffs:      cfg.GetIntensityRatioCutoffs(),
		CutoffPercentile:           cfg.GetCutoffPercentile(),
		MinSegmentLength:           cfg.GetMinSegmentLength(),
		IntensityFeature:           cfg.GetIntensityFeature(FeatureMeanIntensity),
		AllowGapClosing:            cfg.GetAllowGapClosing(),
		AllowMerging:               cfg.GetAllowMerging(),
		AllowSplitting:             cfg.GetAllowSplitting(),
		LinkingFeaturePenalties:    cfg.GetLinkingFeaturePenalties(),
		GapClosingFeaturePenalties: cfg.GetGapClosingFeaturePenalties(),
		MergingFeaturePenalties:    cfg.GetMergingFeaturePenalties(),
		SplittingFeaturePenalties:  cfg.GetSplittingFeaturePenalties(),
		Workers:                    cfg.GetWorkers(),
	}
}

// Validate checks that every threshold is usable by the builders.
func (c Config) Validate() error {
	switch {
	case !(c.MaxLinkingDistance > 0):
		return fmt.Errorf("%w: max linking distance must be positive, got %g", ErrInvalidConfig, c.MaxLinkingDistance)
	case !(c.GapClosingMaxDistance > 0):
		return fmt.Errorf("%w: gap closing max distance must be positive, got %g", ErrInvalidConfig, c.GapClosingMaxDistance)
	case !(c.MergingMaxDistance >= 0):
		return fmt.Errorf("%w: merging max distance must be non-negative, got %g", ErrInvalidConfig, c.MergingMaxDistance)
	case !(c.SplittingMaxDistance >= 0):
		return fmt.Errorf("%w: splitting max distance must be non-negative, got %g", ErrInvalidConfig, c.SplittingMaxDistance)
	case !(c.AlternativeCostFactor >= 1):
		return fmt.Errorf("%w: alternative cost factor must be >= 1, got %g", ErrInvalidConfig, c.AlternativeCostFactor)
	case c.GapClosingTimeWindow < 1:
		return fmt.Errorf("%w: gap closing time window must be >= 1, got %d", ErrInvalidConfig, c.GapClosingTimeWindow)
	case !(c.IntensityRatioCutoffs[0] > 0) || !(c.IntensityRatioCutoffs[1] >= c.IntensityRatioCutoffs[0]):
		return fmt.Errorf("%w: intensity ratio cutoffs must satisfy 0 < min <= max, got %v", ErrInvalidConfig, c.IntensityRatioCutoffs)
	case !(c.CutoffPercentile > 0 && c.CutoffPercentile <= 1):
		return fmt.Errorf("%w: cutoff percentile must be in (0, 1], got %g", ErrInvalidConfig, c.CutoffPercentile)
	case c.MinSegmentLength < 1:
		return fmt.Errorf("%w: min segment length must be >= 1, got %d", ErrInvalidConfig, c.MinSegmentLength)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, c.Workers)
	}
	penalties := []struct {
		kind    string
		weights map[string]float64
	}{
		{"linking", c.LinkingFeaturePenalties},
		{"gap closing", c.GapClosingFeaturePenalties},
		{"merging", c.MergingFeaturePenalties},
		{"splitting", c.SplittingFeaturePenalties},
	}
	for _, p := range penalties {
		for name, w := range p.weights {
			if !(w >= 0) {
				return fmt.Errorf("%w: %s feature penalty %q must be non-negative, got %g", ErrInvalidConfig, p.kind, name, w)
			}
		}
	}
	return nil
}

func (c Config) mergingMaxDistance() float64 {
	if c.MergingMaxDistance > 0 {
		return c.MergingMaxDistance
	}
	return c.GapClosingMaxDistance
}

func (c Config) splittingMaxDistance() float64 {
	if c.SplittingMaxDistance > 0 {
		return c.SplittingMaxDistance
	}
	return c.GapClosingMaxDistance
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

func (c Config) intensityFeature() string {
	if c.IntensityFeature == "" {
		return FeatureMeanIntensity
	}
	return c.IntensityFeature
}
