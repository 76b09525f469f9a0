// Package candidate implements the Candidate FSM (C10): each zone
// entry spawns a candidate that waits for EMA alignment, then runs a
// configurable filter chain, and either emits a Signal on READY or
// times out to EXPIRED. Filters are represented as small pure
// functions over (bar, snapshot, config) rather than an inheritance
// hierarchy, per §9's "Dynamic dispatch" design note, grounded on the
// same toggle-by-capability-flag shape the teacher's
// decision.geneticChromosome scoring uses (each factor independently
// weighted/disabled rather than subclassed).
package candidate

import (
	"fmt"
	"time"

	"signalcore/bar"
	"signalcore/domain"
	"signalcore/indicators"
	"signalcore/money"

	"github.com/shopspring/decimal"
)

// State is a candidate's FSM state.
type State int

const (
	WaitEMA State = iota
	Filters
	Ready
	Expired
)

func (s State) String() string {
	switch s {
	case Filters:
		return "filters"
	case Ready:
		return "ready"
	case Expired:
		return "expired"
	default:
		return "wait_ema"
	}
}

// SessionWindow is a named half-open UTC time-of-day interval,
// expressed in minutes since midnight.
type SessionWindow struct {
	Name         string `yaml:"name"`
	StartMinute  int    `yaml:"start_minute"`
	EndMinute    int    `yaml:"end_minute"`
	ExcludeLowVol bool  `yaml:"exclude_low_volume"`
}

func (s SessionWindow) contains(minuteOfDay int) bool {
	return minuteOfDay >= s.StartMinute && minuteOfDay < s.EndMinute
}

// FiltersConfig toggles and parameterizes each filter independently.
type FiltersConfig struct {
	EMAAlignment        bool            `yaml:"ema_alignment"`
	EMATolerancePct     money.Price     `yaml:"ema_tolerance_pct"`
	VolumeMultiple      money.Price     `yaml:"volume_multiple"`
	Sessions            []SessionWindow `yaml:"sessions"`
	AllowedRegimesLong  []indicators.Regime
	AllowedRegimesShort []indicators.Regime
	MinEntrySpacing     time.Duration `yaml:"min_entry_spacing"`
	SwingLookback       int           `yaml:"swing_lookback"`
}

// Config configures the FSM driver.
type Config struct {
	Expiry  time.Duration `yaml:"expiry"`
	Filters FiltersConfig
}

// DefaultConfig mirrors the spec's stated default allowed-regime sets.
func DefaultConfig() Config {
	return Config{
		Expiry: time.Hour,
		Filters: FiltersConfig{
			EMAAlignment:        true,
			EMATolerancePct:     decimal.NewFromFloat(0.001),
			VolumeMultiple:      decimal.NewFromFloat(1.0),
			AllowedRegimesLong:  []indicators.Regime{indicators.Bull, indicators.Neutral},
			AllowedRegimesShort: []indicators.Regime{indicators.Bear, indicators.Neutral},
			MinEntrySpacing:     0,
			SwingLookback:       5,
		},
	}
}

// Validate checks structural sanity.
func (c Config) Validate() error {
	if c.Expiry <= 0 {
		return fmt.Errorf("candidate: expiry must be positive")
	}
	if c.Filters.VolumeMultiple.IsNegative() {
		return fmt.Errorf("candidate: volume_multiple must be non-negative")
	}
	return nil
}

// Candidate is one FSM instance spawned from a zone entry.
type Candidate struct {
	ID         string
	ZoneID     string
	Side       domain.Side // Bullish = long bias, Bearish = short bias
	State      State
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastBarTS  time.Time
	zoneTop    money.Price
	zoneBottom money.Price
}

// Signal is the output of a candidate reaching READY.
type Signal struct {
	ID             string
	Side           domain.Side
	EntryHintPrice money.Price
	StopHintPrice  money.Price
	IssuedAt       time.Time
	SourceZoneID   string
}

// Machine drives every live candidate for one symbol.
type Machine struct {
	cfg           Config
	candidates    map[string]*Candidate
	order         []string
	seq           int
	lastReadyLong time.Time
	lastReadyShort time.Time
	haveLastLong  bool
	haveLastShort bool
}

// New constructs an empty Machine.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, candidates: make(map[string]*Candidate)}
}

// Spawn creates a new candidate in WAIT_EMA for a zone entry.
func (m *Machine) Spawn(zoneID string, side domain.Side, entryTS time.Time, zoneTop, zoneBottom money.Price) *Candidate {
	m.seq++
	c := &Candidate{
		ID:         fmt.Sprintf("cand-%d", m.seq),
		ZoneID:     zoneID,
		Side:       side,
		State:      WaitEMA,
		CreatedAt:  entryTS,
		ExpiresAt:  entryTS.Add(m.cfg.Expiry),
		LastBarTS:  entryTS,
		zoneTop:    zoneTop,
		zoneBottom: zoneBottom,
	}
	m.candidates[c.ID] = c
	m.order = append(m.order, c.ID)
	return c
}

// Active returns every non-terminal candidate in spawn order.
func (m *Machine) Active() []*Candidate {
	var out []*Candidate
	for _, id := range m.order {
		if c, ok := m.candidates[id]; ok && c.State != Ready && c.State != Expired {
			out = append(out, c)
		}
	}
	return out
}

// Advance feeds one bar to every active candidate and returns every
// Signal emitted this bar, plus the set of candidates that expired.
// Terminal candidates (READY, EXPIRED) are dropped from tracking.
func (m *Machine) Advance(b bar.Bar, snap indicators.Snapshot, recentBars []bar.Bar) ([]Signal, []string) {
	var signals []Signal
	var expired []string
	live := m.order[:0:0]

	for _, id := range m.order {
		c, ok := m.candidates[id]
		if !ok {
			continue
		}
		c.LastBarTS = b.TS
		sig := m.step(c, b, snap, recentBars)
		if sig != nil {
			signals = append(signals, *sig)
		}
		if c.State == Expired {
			expired = append(expired, id)
			delete(m.candidates, id)
			continue
		}
		if c.State == Ready {
			delete(m.candidates, id)
			continue
		}
		live = append(live, id)
	}
	m.order = live
	return signals, expired
}

// step runs one candidate through as many same-bar transitions as
// apply, matching S5's "WAIT_EMA -> FILTERS -> READY on the same bar".
func (m *Machine) step(c *Candidate, b bar.Bar, snap indicators.Snapshot, recentBars []bar.Bar) *Signal {
	for {
		switch c.State {
		case WaitEMA:
			if m.isExpired(c, b) {
				c.State = Expired
				return nil
			}
			if !emaGuard(c.Side, b, snap) {
				return nil
			}
			c.State = Filters
			// fall through to evaluate FILTERS on the same bar

		case Filters:
			if m.isExpired(c, b) {
				c.State = Expired
				return nil
			}
			if !m.allFiltersPass(c, b, snap) {
				return nil // stay in FILTERS, retry next bar
			}
			c.State = Ready
			sig := m.buildSignal(c, b, recentBars)
			m.recordReady(c.Side, b.TS)
			return &sig

		default:
			return nil
		}
	}
}

func (m *Machine) isExpired(c *Candidate, b bar.Bar) bool {
	return !b.TS.Before(c.ExpiresAt)
}

// emaGuard is the WAIT_EMA -> FILTERS guard: long needs close above
// ema_fast, short needs close below it.
func emaGuard(side domain.Side, b bar.Bar, snap indicators.Snapshot) bool {
	if side == domain.Bullish {
		return b.Close.GreaterThan(snap.EMAFast)
	}
	return b.Close.LessThan(snap.EMAFast)
}

func (m *Machine) allFiltersPass(c *Candidate, b bar.Bar, snap indicators.Snapshot) bool {
	f := m.cfg.Filters
	if f.EMAAlignment && !emaAlignmentPass(c.Side, b, snap, f.EMATolerancePct) {
		return false
	}
	if f.VolumeMultiple.IsPositive() && !volumePass(b, snap, f.VolumeMultiple) {
		return false
	}
	if !regimePass(c.Side, snap, f) {
		return false
	}
	if len(f.Sessions) > 0 && !sessionPass(b, f.Sessions) {
		return false
	}
	if f.MinEntrySpacing > 0 && !m.spacingPass(c.Side, b.TS, f.MinEntrySpacing) {
		return false
	}
	return true
}

func emaAlignmentPass(side domain.Side, b bar.Bar, snap indicators.Snapshot, tolerancePct money.Price) bool {
	diff := snap.EMAFast.Sub(snap.EMASlow)
	tolerance := tolerancePct.Mul(b.Close)
	if side == domain.Bullish {
		return diff.GreaterThan(tolerance.Neg())
	}
	return diff.LessThan(tolerance)
}

func volumePass(b bar.Bar, snap indicators.Snapshot, multiple money.Price) bool {
	return b.Volume.GreaterThanOrEqual(multiple.Mul(snap.VolumeSMA))
}

func regimePass(side domain.Side, snap indicators.Snapshot, f FiltersConfig) bool {
	allowed := f.AllowedRegimesLong
	if side == domain.Bearish {
		allowed = f.AllowedRegimesShort
	}
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == snap.Regime {
			return true
		}
	}
	return false
}

func sessionPass(b bar.Bar, sessions []SessionWindow) bool {
	minuteOfDay := b.TS.UTC().Hour()*60 + b.TS.UTC().Minute()
	for _, s := range sessions {
		if s.contains(minuteOfDay) {
			return true
		}
	}
	return false
}

func (m *Machine) spacingPass(side domain.Side, ts time.Time, minSpacing time.Duration) bool {
	if side == domain.Bullish {
		if !m.haveLastLong {
			return true
		}
		return ts.Sub(m.lastReadyLong) >= minSpacing
	}
	if !m.haveLastShort {
		return true
	}
	return ts.Sub(m.lastReadyShort) >= minSpacing
}

func (m *Machine) recordReady(side domain.Side, ts time.Time) {
	if side == domain.Bullish {
		m.lastReadyLong, m.haveLastLong = ts, true
		return
	}
	m.lastReadyShort, m.haveLastShort = ts, true
}

func (m *Machine) buildSignal(c *Candidate, b bar.Bar, recentBars []bar.Bar) Signal {
	var zoneFar, swingExtreme money.Price
	if c.Side == domain.Bullish {
		zoneFar = c.zoneBottom
		swingExtreme = swingLow(recentBars, m.cfg.Filters.SwingLookback, b.Low)
	} else {
		zoneFar = c.zoneTop
		swingExtreme = swingHigh(recentBars, m.cfg.Filters.SwingLookback, b.High)
	}

	var stop money.Price
	if c.Side == domain.Bullish {
		stop = money.Min(zoneFar, swingExtreme)
	} else {
		stop = money.Max(zoneFar, swingExtreme)
	}

	return Signal{
		ID:             fmt.Sprintf("sig-%s", c.ID),
		Side:           c.Side,
		EntryHintPrice: b.Close,
		StopHintPrice:  stop,
		IssuedAt:       b.TS,
		SourceZoneID:   c.ZoneID,
	}
}

func swingLow(bars []bar.Bar, lookback int, fallback money.Price) money.Price {
	out := fallback
	start := 0
	if len(bars) > lookback {
		start = len(bars) - lookback
	}
	for _, b := range bars[start:] {
		out = money.Min(out, b.Low)
	}
	return out
}

func swingHigh(bars []bar.Bar, lookback int, fallback money.Price) money.Price {
	out := fallback
	start := 0
	if len(bars) > lookback {
		start = len(bars) - lookback
	}
	for _, b := range bars[start:] {
		out = money.Max(out, b.High)
	}
	return out
}
