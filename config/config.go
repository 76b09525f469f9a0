// Package config is the typed configuration tree (C14): one struct
// per options group named in spec.md §6, composed into a single root
// Config, each carrying yaml tags for an external gopkg.in/yaml.v3
// loader (loading itself is out of scope per §1 — only the tags, the
// contract a loader needs, live here) and a Validate() error method.
// Validation failures are plain errors, except that a "recalc"
// out_of_order_policy wraps *perrs.RecalcUnsupported.
package config

import (
	"fmt"
	"time"

	"signalcore/aggregator"
	"signalcore/bar"
	"signalcore/candidate"
	"signalcore/detectors"
	"signalcore/indicators"
	"signalcore/overlap"
	"signalcore/registry"
	"signalcore/risk"
	"signalcore/zonewatcher"

	"github.com/shopspring/decimal"
)

// DetectorConfig groups the detectors.* options: per-detector
// thresholds plus which closed timeframes detectors run against.
type DetectorConfig struct {
	FVG               detectors.FVGConfig   `yaml:"fvg"`
	Pivot             detectors.PivotConfig `yaml:"pivot"`
	OutOfOrderPolicy  string                `yaml:"out_of_order_policy"` // drop | raise
	EnabledTimeframes []bar.Timeframe       `yaml:"enabled_timeframes"`
}

// DefaultDetectorConfig mirrors the spec's stated FVG/Pivot defaults
// and enables detectors on every standard HTF above M1.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		FVG:               detectors.DefaultFVGConfig(),
		Pivot:             detectors.DefaultPivotConfig(),
		OutOfOrderPolicy:  "drop",
		EnabledTimeframes: []bar.Timeframe{bar.M5, bar.M15, bar.H1, bar.H4, bar.D1},
	}
}

// Validate checks the detector config, including rejecting
// out_of_order_policy="recalc" per the spec's open question #1
// (option b: reject at config validation rather than define
// recomputation semantics).
func (c DetectorConfig) Validate() error {
	if err := c.FVG.Validate(); err != nil {
		return err
	}
	if err := c.Pivot.Validate(); err != nil {
		return err
	}
	switch c.OutOfOrderPolicy {
	case "drop", "raise":
	default:
		if _, err := aggregator.ParsePolicy(c.OutOfOrderPolicy); err != nil {
			return fmt.Errorf("config: detectors.out_of_order_policy: %w", err)
		}
	}
	if len(c.EnabledTimeframes) == 0 {
		return fmt.Errorf("config: detectors.enabled_timeframes must be non-empty")
	}
	return nil
}

// Config is the root configuration tree: one field per spec.md §6
// options group, plus account equity for the risk sizer (not itself
// an options group in §6, but a required input to C11.Size).
type Config struct {
	Aggregation  aggregator.Config  `yaml:"aggregation"`
	Indicators   indicators.Config  `yaml:"indicators"`
	Detectors    DetectorConfig     `yaml:"detectors"`
	Pools        registry.Config    `yaml:"pools"`
	HLZ          overlap.Config     `yaml:"hlz"`
	ZoneWatcher  zonewatcher.Config `yaml:"zone_watcher"`
	Candidate    candidate.Config   `yaml:"candidate"`
	Risk         risk.Config        `yaml:"risk"`
	AccountEquity string            `yaml:"account_equity"` // decimal string; parsed by the host loader into money.Price
}

// Default returns a complete, internally-consistent default
// configuration: every sub-config's own DefaultConfig(), wired so
// Validate() passes out of the box, with one pools.<tf>.* entry per
// detector-enabled timeframe.
func Default() Config {
	det := DefaultDetectorConfig()
	return Config{
		Aggregation: aggregator.DefaultConfig(),
		Indicators:  indicators.DefaultConfig(),
		Detectors:   det,
		Pools: registry.Config{
			PerTF:             defaultPoolConfig(det.EnabledTimeframes),
			StrengthThreshold: decimal.NewFromFloat(0.2),
			GracePeriod:       time.Hour,
			MaxPoolsPerTF:     500,
		},
		HLZ:         overlap.Config{MinMembers: 2, MaxActiveHLZs: 200, SideMixing: false, MergeTolerance: decimal.Zero},
		ZoneWatcher: zonewatcher.Config{MaxActiveZones: 1000, PriceTolerance: decimal.Zero},
		Candidate:   candidate.DefaultConfig(),
		Risk:        risk.DefaultConfig(),
	}
}

// defaultPoolConfig gives every enabled timeframe a TTL proportional
// to its own duration (100x the bucket size, capped at the TTL wheel's
// 7-day maximum) and zero hit-tolerance, leaving callers free to
// override per-timeframe TTLs explicitly.
func defaultPoolConfig(timeframes []bar.Timeframe) map[bar.Timeframe]registry.TFConfig {
	const maxTTL = 7 * 24 * time.Hour
	out := make(map[bar.Timeframe]registry.TFConfig, len(timeframes))
	for _, tf := range timeframes {
		ttl := time.Duration(tf.Minutes()) * 100 * time.Minute
		if ttl > maxTTL {
			ttl = maxTTL
		}
		out[tf] = registry.TFConfig{
			TTL:           ttl,
			HitTolerance:  decimal.Zero,
			StrengthFloor: decimal.Zero,
		}
	}
	return out
}

// Validate runs every sub-config's Validate and cross-checks that the
// detector and pool registry configs agree on which timeframes are in
// play (every detector-enabled timeframe must have a pools.<tf>.*
// entry, or Create will fail at runtime with an unrelated-looking
// error).
func (c Config) Validate() error {
	if err := c.Aggregation.Validate(); err != nil {
		return fmt.Errorf("config: aggregation: %w", err)
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("config: indicators: %w", err)
	}
	if err := c.Detectors.Validate(); err != nil {
		return fmt.Errorf("config: detectors: %w", err)
	}
	if err := c.Pools.Validate(); err != nil {
		return fmt.Errorf("config: pools: %w", err)
	}
	if err := c.HLZ.Validate(); err != nil {
		return fmt.Errorf("config: hlz: %w", err)
	}
	if err := c.ZoneWatcher.Validate(); err != nil {
		return fmt.Errorf("config: zone_watcher: %w", err)
	}
	if err := c.Candidate.Validate(); err != nil {
		return fmt.Errorf("config: candidate: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("config: risk: %w", err)
	}
	for _, tf := range c.Detectors.EnabledTimeframes {
		if _, ok := c.Pools.PerTF[tf]; !ok {
			return fmt.Errorf("config: detectors.enabled_timeframes includes %s but pools.%s is not configured", tf, tf)
		}
	}
	return nil
}
