// Package aggregator implements the time aggregator (C4): it rolls a
// stream of base-timeframe bars into one or more higher timeframes and
// emits only closed higher-timeframe bars. Incomplete buckets are never
// emitted, which is what makes the rest of the pipeline look-ahead safe.
package aggregator

import (
	"fmt"
	"time"

	"signalcore/bar"
	"signalcore/money"
	"signalcore/perrs"
	"signalcore/ringbuffer"
)

// OutOfOrderPolicy controls what happens when a base bar arrives whose
// bucket id is behind the in-progress bucket for a target timeframe.
type OutOfOrderPolicy int

const (
	// Drop silently ignores the offending bar for the affected
	// timeframe.
	Drop OutOfOrderPolicy = iota
	// Raise returns a ClockSkew error instead of processing the bar.
	Raise
)

// Config configures the aggregator. TargetTimeframes must all have a
// duration greater than SourceTimeframe's.
type Config struct {
	SourceTimeframe  bar.Timeframe    `yaml:"source_tf_minutes"`
	TargetTimeframes []bar.Timeframe  `yaml:"target_timeframes_minutes"`
	BufferSize       int              `yaml:"buffer_size"`
	OutOfOrderPolicy OutOfOrderPolicy `yaml:"out_of_order_policy"`
	MaxClockSkewSecs int64            `yaml:"max_clock_skew_seconds"`
	StrictOrdering   bool             `yaml:"enable_strict_ordering"`
}

// DefaultConfig returns a reasonable default: base M1 rolling up into
// M5, M15, H1, H4, D1, dropping out-of-order bars.
func DefaultConfig() Config {
	return Config{
		SourceTimeframe:  bar.M1,
		TargetTimeframes: []bar.Timeframe{bar.M5, bar.M15, bar.H1, bar.H4, bar.D1},
		BufferSize:       256,
		OutOfOrderPolicy: Drop,
		MaxClockSkewSecs: 300,
		StrictOrdering:   true,
	}
}

// Validate rejects configurations the spec does not define behavior for.
// The spec leaves out_of_order_policy="recalc" formally unspecified and
// explicitly permits rejecting it outright instead of guessing at
// recomputation semantics; since OutOfOrderPolicy here is a closed Go
// enum with no "recalc" value, any caller attempting to construct one
// from an external string must fail before it ever reaches this type —
// ParsePolicy below is the enforcement point.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("aggregator: buffer_size must be positive")
	}
	for _, tf := range c.TargetTimeframes {
		if tf.Minutes() <= c.SourceTimeframe.Minutes() {
			return fmt.Errorf("aggregator: target timeframe %s is not higher than source %s", tf, c.SourceTimeframe)
		}
	}
	return nil
}

// ParsePolicy maps a config string to OutOfOrderPolicy, rejecting
// "recalc" per the spec's open question (option b: reject at config
// load rather than define undocumented recomputation semantics).
func ParsePolicy(s string) (OutOfOrderPolicy, error) {
	switch s {
	case "drop":
		return Drop, nil
	case "raise":
		return Raise, nil
	case "recalc":
		return 0, &perrs.RecalcUnsupported{}
	default:
		return 0, fmt.Errorf("aggregator: unknown out_of_order_policy %q", s)
	}
}

// ClosedBar is a bar emitted by the aggregator for one target timeframe.
type ClosedBar struct {
	Timeframe bar.Timeframe
	Bar       bar.Bar
}

type bucket struct {
	id      int64
	started bool
	acc     bar.Bar
	history *ringbuffer.Buffer[bar.Bar]
}

// Aggregator rolls a single symbol's base bars into its configured
// target timeframes.
type Aggregator struct {
	cfg     Config
	symbol  string
	buckets map[bar.Timeframe]*bucket
	lastTS  time.Time
	haveTS  bool
}

// New constructs an Aggregator for symbol. cfg must be valid; callers
// should call Config.Validate first.
func New(symbol string, cfg Config) *Aggregator {
	a := &Aggregator{
		cfg:     cfg,
		symbol:  symbol,
		buckets: make(map[bar.Timeframe]*bucket, len(cfg.TargetTimeframes)),
	}
	for _, tf := range cfg.TargetTimeframes {
		a.buckets[tf] = &bucket{history: ringbuffer.New[bar.Bar](cfg.BufferSize)}
	}
	return a
}

// Update feeds one base-timeframe bar and returns the closed
// higher-timeframe bars it produced, in ascending timeframe order
// (matching cfg.TargetTimeframes) for deterministic downstream
// iteration.
func (a *Aggregator) Update(b bar.Bar) ([]ClosedBar, error) {
	if a.cfg.StrictOrdering && a.haveTS && b.TS.Before(a.lastTS) {
		return nil, &perrs.ClockSkew{Symbol: a.symbol, BarTS: b.TS, LastTS: a.lastTS}
	}
	if a.haveTS && a.cfg.MaxClockSkewSecs > 0 {
		skew := b.TS.Sub(a.lastTS).Seconds()
		if skew > float64(a.cfg.MaxClockSkewSecs) {
			return nil, &perrs.FutureBar{Symbol: a.symbol, BarTS: b.TS, Now: a.lastTS}
		}
	}

	var closed []ClosedBar
	for _, tf := range a.cfg.TargetTimeframes {
		bk := a.buckets[tf]
		id := bar.BucketID(b.TS, tf)

		switch {
		case !bk.started:
			startBucket(bk, id, b)

		case id == bk.id:
			foldBucket(bk, b)

		case id > bk.id:
			out := finishBucket(bk, tf)
			bk.history.Push(out)
			closed = append(closed, ClosedBar{Timeframe: tf, Bar: out})
			startBucket(bk, id, b)

		default: // id < bk.id: base bar regressed for this timeframe
			switch a.cfg.OutOfOrderPolicy {
			case Raise:
				return closed, &perrs.ClockSkew{Symbol: a.symbol, BarTS: b.TS, LastTS: bar.BucketStart(time.Unix(bk.id*tf.Minutes()*60, 0).UTC(), tf)}
			default: // Drop
				// silently ignored for this timeframe only
			}
		}
	}

	a.lastTS = b.TS
	a.haveTS = true
	return closed, nil
}

// Flush always returns an empty sequence: incomplete buckets are never
// emitted, which is the look-ahead prevention the spec requires.
func (a *Aggregator) Flush() []ClosedBar { return nil }

// History returns the closed bars retained for tf, oldest first, up to
// the configured buffer size. Intended for detectors/tests that need a
// lookback window beyond the single closed bar just emitted.
func (a *Aggregator) History(tf bar.Timeframe) []bar.Bar {
	bk, ok := a.buckets[tf]
	if !ok {
		return nil
	}
	return bk.history.Slice()
}

func startBucket(bk *bucket, id int64, b bar.Bar) {
	bk.started = true
	bk.id = id
	bk.acc = bar.Bar{
		Symbol: b.Symbol,
		TS:     b.TS,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
}

func foldBucket(bk *bucket, b bar.Bar) {
	bk.acc.High = money.Max(bk.acc.High, b.High)
	bk.acc.Low = money.Min(bk.acc.Low, b.Low)
	bk.acc.Close = b.Close
	bk.acc.Volume = bk.acc.Volume.Add(b.Volume)
	bk.acc.TS = b.TS
}

// finishBucket closes the in-progress bucket. The emitted bar's ts is
// the ts of the last base bar folded into it (the bucket's true close
// time), not a recomputed boundary — see S1 in the testable properties.
func finishBucket(bk *bucket, tf bar.Timeframe) bar.Bar {
	out := bk.acc
	out.Timeframe = tf
	return out
}
