package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tracker tuning
// parameters. Every field is optional; the Get* accessors supply the
// built-in default for anything left unset, so partial files are safe.
type TuningConfig struct {
	// Frame-to-frame linking
	MaxLinkingDistance      *float64           `json:"max_linking_distance,omitempty"`
	AlternativeCostFactor   *float64           `json:"alternative_cost_factor,omitempty"`
	LinkingFeaturePenalties map[string]float64 `json:"linking_feature_penalties,omitempty"`

	// Segment linking
	GapClosingMaxDistance *float64    `json:"gap_closing_max_distance,omitempty"`
	MergingMaxDistance    *float64    `json:"merging_max_distance,omitempty"`
	SplittingMaxDistance  *float64    `json:"splitting_max_distance,omitempty"`
	GapClosingTimeWindow  *int        `json:"gap_closing_time_window,omitempty"`
	IntensityRatioCutoffs *[2]float64 `json:"intensity_ratio_cutoffs,omitempty"`
	CutoffPercentile      *float64    `json:"cutoff_percentile,omitempty"`
	MinSegmentLength      *int        `json:"min_segment_length,omitempty"`
	IntensityFeature      *string     `json:"intensity_feature,omitempty"`
	AllowGapClosing       *bool       `json:"allow_gap_closing,omitempty"`
	AllowMerging          *bool       `json:"allow_merging,omitempty"`
	AllowSplitting        *bool       `json:"allow_splitting,omitempty"`

	GapClosingFeaturePenalties map[string]float64 `json:"gap_closing_feature_penalties,omitempty"`
	MergingFeaturePenalties    map[string]float64 `json:"merging_feature_penalties,omitempty"`
	SplittingFeaturePenalties  map[string]float64 `json:"splitting_feature_penalties,omitempty"`

	// Execution
	Workers *int `json:"workers,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/laptrack/detio/
		"../../../../" + DefaultConfigPath, // from internal/laptrack/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set. Unset fields always fall back to
// valid defaults.
func (c *TuningConfig) Validate() error {
	if c.MaxLinkingDistance != nil && !(*c.MaxLinkingDistance > 0) {
		return fmt.Errorf("max_linking_distance must be positive, got %f", *c.MaxLinkingDistance)
	}
	if c.GapClosingMaxDistance != nil && !(*c.GapClosingMaxDistance > 0) {
		return fmt.Errorf("gap_closing_max_distance must be positive, got %f", *c.GapClosingMaxDistance)
	}
	if c.MergingMaxDistance != nil && !(*c.MergingMaxDistance > 0) {
		return fmt.Errorf("merging_max_distance must be positive, got %f", *c.MergingMaxDistance)
	}
	if c.SplittingMaxDistance != nil && !(*c.SplittingMaxDistance > 0) {
		return fmt.Errorf("splitting_max_distance must be positive, got %f", *c.SplittingMaxDistance)
	}
	if c.AlternativeCostFactor != nil && !(*c.AlternativeCostFactor >= 1) {
		return fmt.Errorf("alternative_cost_factor must be >= 1, got %f", *c.AlternativeCostFactor)
	}
	if c.GapClosingTimeWindow != nil && *c.GapClosingTimeWindow < 1 {
		return fmt.Errorf("gap_closing_time_window must be >= 1, got %d", *c.GapClosingTimeWindow)
	}
	if c.IntensityRatioCutoffs != nil {
		lo, hi := c.IntensityRatioCutoffs[0], c.IntensityRatioCutoffs[1]
		if !(lo > 0) || !(hi >= lo) {
			return fmt.Errorf("intensity_ratio_cutoffs must satisfy 0 < min <= max, got [%f, %f]", lo, hi)
		}
	}
	if c.CutoffPercentile != nil && !(*c.CutoffPercentile > 0 && *c.CutoffPercentile <= 1) {
		return fmt.Errorf("cutoff_percentile must be in (0, 1], got %f", *c.CutoffPercentile)
	}
	if c.MinSegmentLength != nil && *c.MinSegmentLength < 1 {
		return fmt.Errorf("min_segment_length must be >= 1, got %d", *c.MinSegmentLength)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	for key, weights := range map[string]map[string]float64{
		"linking_feature_penalties":     c.LinkingFeaturePenalties,
		"gap_closing_feature_penalties": c.GapClosingFeaturePenalties,
		"merging_feature_penalties":     c.MergingFeaturePenalties,
		"splitting_feature_penalties":   c.SplittingFeaturePenalties,
	} {
		for name, w := range weights {
			if !(w >= 0) {
				return fmt.Errorf("%s[%q] must be non-negative, got %f", key, name, w)
			}
		}
	}
	return nil
}

// GetMaxLinkingDistance returns the max_linking_distance value or the default.
func (c *TuningConfig) GetMaxLinkingDistance() float64 {
	if c.MaxLinkingDistance == nil {
		return 2.0
	}
	return *c.MaxLinkingDistance
}

// GetAlternativeCostFactor returns the alternative_cost_factor value or the default.
func (c *TuningConfig) GetAlternativeCostFactor() float64 {
	if c.AlternativeCostFactor == nil {
		return 1.05
	}
	return *c.AlternativeCostFactor
}

// GetLinkingFeaturePenalties returns a copy of the feature penalty weights.
func (c *TuningConfig) GetLinkingFeaturePenalties() map[string]float64 {
	return clonePenalties(c.LinkingFeaturePenalties)
}

// GetGapClosingMaxDistance returns the gap_closing_max_distance value or the default.
func (c *TuningConfig) GetGapClosingMaxDistance() float64 {
	if c.GapClosingMaxDistance == nil {
		return 2.0
	}
	return *c.GapClosingMaxDistance
}

// GetMergingMaxDistance returns merging_max_distance, or 0 when unset so
// that merging follows gap_closing_max_distance.
func (c *TuningConfig) GetMergingMaxDistance() float64 {
	if c.MergingMaxDistance == nil {
		return 0
	}
	return *c.MergingMaxDistance
}

// GetSplittingMaxDistance returns splitting_max_distance, or 0 when unset so
// that splitting follows gap_closing_max_distance.
func (c *TuningConfig) GetSplittingMaxDistance() float64 {
	if c.SplittingMaxDistance == nil {
		return 0
	}
	return *c.SplittingMaxDistance
}

// GetGapClosingFeaturePenalties returns a copy of the gap closing penalty weights.
func (c *TuningConfig) GetGapClosingFeaturePenalties() map[string]float64 {
	return clonePenalties(c.GapClosingFeaturePenalties)
}

// GetMergingFeaturePenalties returns a copy of the merging penalty weights.
func (c *TuningConfig) GetMergingFeaturePenalties() map[string]float64 {
	return clonePenalties(c.MergingFeaturePenalties)
}

// GetSplittingFeaturePenalties returns a copy of the splitting penalty weights.
func (c *TuningConfig) GetSplittingFeaturePenalties() map[string]float64 {
	return clonePenalties(c.SplittingFeaturePenalties)
}

func clonePenalties(w map[string]float64) map[string]float64 {
	if len(w) == 0 {
		return nil
	}
	return maps.Clone(w)
}

// GetGapClosingTimeWindow returns the gap_closing_time_window value or the default.
func (c *TuningConfig) GetGapClosingTimeWindow() int {
	if c.GapClosingTimeWindow == nil {
		return 3
	}
	return *c.GapClosingTimeWindow
}

// GetIntensityRatioCutoffs returns the intensity_ratio_cutoffs value or the default.
func (c *TuningConfig) GetIntensityRatioCutoffs() [2]float64 {
	if c.IntensityRatioCutoffs == nil {
		return [2]float64{0.5, 4.0}
	}
	return *c.IntensityRatioCutoffs
}

// GetCutoffPercentile returns the cutoff_percentile value or the default.
func (c *TuningConfig) GetCutoffPercentile() float64 {
	if c.CutoffPercentile == nil {
		return 0.9
	}
	return *c.CutoffPercentile
}

// GetMinSegmentLength returns the min_segment_length value or the default.
func (c *TuningConfig) GetMinSegmentLength() int {
	if c.MinSegmentLength == nil {
		return 3
	}
	return *c.MinSegmentLength
}

// GetIntensityFeature returns the intensity_feature value or def.
func (c *TuningConfig) GetIntensityFeature(def string) string {
	if c.IntensityFeature == nil || *c.IntensityFeature == "" {
		return def
	}
	return *c.IntensityFeature
}

// GetAllowGapClosing returns the allow_gap_closing value or the default.
func (c *TuningConfig) GetAllowGapClosing() bool {
	if c.AllowGapClosing == nil {
		return true
	}
	return *c.AllowGapClosing
}

// GetAllowMerging returns the allow_merging value or the default.
func (c *TuningConfig) GetAllowMerging() bool {
	if c.AllowMerging == nil {
		return true
	}
	return *c.AllowMerging
}

// GetAllowSplitting returns the allow_splitting value or the default.
func (c *TuningConfig) GetAllowSplitting() bool {
	if c.AllowSplitting == nil {
		return true
	}
	return *c.AllowSplitting
}

// GetWorkers returns the workers value, or 0 meaning one per CPU.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}
