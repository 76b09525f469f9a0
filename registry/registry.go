// Package registry implements the pool registry (C7): it owns every
// Pool's lifecycle (creation, touch, expiry, retention of expired
// pools, and eventual purge), keyed by a deterministic fingerprint id, and
// drives a ttlwheel.Wheel to expire pools without any real time
// source of its own. This is the in-memory analogue of the teacher's
// store.StrategyConfig-backed persistence layer, repurposed from
// durable strategy storage into a process-lifetime index of live
// liquidity pools — the spec's "Persisted state layout: none" rules
// out carrying over the teacher's on-disk store itself.
package registry

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"time"

	"signalcore/bar"
	"signalcore/domain"
	"signalcore/money"
	"signalcore/perrs"
	"signalcore/ttlwheel"
)

// PoolState is the monotone lifecycle state of a Pool.
type PoolState int

const (
	Active PoolState = iota
	Touched
	Expired
	// Grace exists in the data model's enum but this implementation
	// folds the grace-period retention window into Expired: purge
	// eligibility (§8 invariant 8) is defined purely in terms of
	// state=EXPIRED and expired_at, so a separate observable Grace
	// state would add a transition with no behavioral difference.
	// Config.GracePeriod is validated but not read: an expired pool
	// stays in the registry until PurgeBefore removes it.
	Grace
)

func (s PoolState) String() string {
	switch s {
	case Touched:
		return "touched"
	case Expired:
		return "expired"
	case Grace:
		return "grace"
	default:
		return "active"
	}
}

// Pool is a liquidity pool recorded from a detection event.
type Pool struct {
	ID        string
	Symbol    string
	Timeframe bar.Timeframe
	Side      domain.Side
	Top       money.Price
	Bottom    money.Price
	Strength  money.Price
	CreatedAt time.Time
	ExpiresAt time.Time
	ExpiredAt time.Time // zero until the pool actually expires
	State     PoolState
}

// TFConfig holds the per-timeframe knobs from §6's `pools.<tf>.*`
// group.
type TFConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	HitTolerance  money.Price   `yaml:"hit_tolerance"`
	StrengthFloor money.Price   `yaml:"strength_floor"`
}

// Config configures the registry.
type Config struct {
	PerTF             map[bar.Timeframe]TFConfig `yaml:"per_tf"`
	StrengthThreshold money.Price                `yaml:"strength_threshold"`
	GracePeriod       time.Duration              `yaml:"grace_period"`
	MaxPoolsPerTF     int                        `yaml:"max_pools_per_tf"`
}

// Validate checks that every configured timeframe has a positive TTL
// and that capacity/grace knobs are sane.
func (c Config) Validate() error {
	if c.MaxPoolsPerTF <= 0 {
		return fmt.Errorf("registry: max_pools_per_tf must be positive")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("registry: grace_period must be non-negative")
	}
	for tf, tc := range c.PerTF {
		if tc.TTL <= 0 {
			return fmt.Errorf("registry: ttl for %s must be positive", tf)
		}
	}
	return nil
}

// PoolCreatedEvent is emitted by Create.
type PoolCreatedEvent struct {
	Pool Pool
}

// PoolTouchedEvent is emitted when a pool transitions ACTIVE -> TOUCHED.
type PoolTouchedEvent struct {
	PoolID string
	TS     time.Time
}

// PoolExpiredEvent is emitted when a pool's TTL fires.
type PoolExpiredEvent struct {
	PoolID string
	TS     time.Time
}

// Registry owns the set of Pools for one symbol.
type Registry struct {
	cfg    Config
	symbol string

	pools      map[string]*Pool
	order      []string // creation order, for deterministic iteration
	activeByTF map[bar.Timeframe]map[string]struct{}
	wheel      *ttlwheel.Wheel
}

// New constructs a Registry for symbol, with its TTL wheel's clock
// starting at start (typically the first bar's ts the driver sees).
func New(symbol string, cfg Config, start time.Time) *Registry {
	return &Registry{
		cfg:        cfg,
		symbol:     symbol,
		pools:      make(map[string]*Pool),
		activeByTF: make(map[bar.Timeframe]map[string]struct{}),
		wheel:      ttlwheel.New(start),
	}
}

// Create inserts a Pool from a detector's candidate event. It returns
// (nil, nil) — not an error — when the candidate's strength is below
// pools.strength_threshold, which is a filter, not a failure.
func (r *Registry) Create(ev domain.PoolCandidateEvent) (*PoolCreatedEvent, error) {
	if ev.Strength.LessThan(r.cfg.StrengthThreshold) {
		return nil, nil
	}
	tfCfg, ok := r.cfg.PerTF[ev.Timeframe]
	if !ok {
		return nil, fmt.Errorf("registry: no pool config for timeframe %s", ev.Timeframe)
	}

	bucket := r.activeByTF[ev.Timeframe]
	if len(bucket) >= r.cfg.MaxPoolsPerTF {
		return nil, &perrs.CapacityExceeded{Scope: "pools:" + ev.Timeframe.String(), Limit: r.cfg.MaxPoolsPerTF}
	}

	id := r.uniqueID(ev)
	expiresAt := ev.CreatedAt.Add(tfCfg.TTL)
	p := &Pool{
		ID:        id,
		Symbol:    ev.Symbol,
		Timeframe: ev.Timeframe,
		Side:      ev.Side,
		Top:       ev.Top,
		Bottom:    ev.Bottom,
		Strength:  ev.Strength,
		CreatedAt: ev.CreatedAt,
		ExpiresAt: expiresAt,
		State:     Active,
	}

	r.pools[id] = p
	r.order = append(r.order, id)
	if r.activeByTF[ev.Timeframe] == nil {
		r.activeByTF[ev.Timeframe] = make(map[string]struct{})
	}
	r.activeByTF[ev.Timeframe][id] = struct{}{}

	if err := r.wheel.Schedule(id, expiresAt); err != nil {
		return nil, err
	}
	return &PoolCreatedEvent{Pool: *p}, nil
}

// uniqueID computes the deterministic fingerprint id and, in the
// astronomically unlikely event of an adler32 collision against a
// still-live pool, disambiguates with a trailing counter so the
// "no two pools share an id" invariant always holds.
func (r *Registry) uniqueID(ev domain.PoolCandidateEvent) string {
	base := fingerprint(ev.Timeframe, ev.CreatedAt, ev.Top, ev.Bottom)
	id := base
	for n := 1; ; n++ {
		if _, exists := r.pools[id]; !exists {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// fingerprint builds `tf|rfc3339(created_at)|hex(adler32(pack(...)))`.
func fingerprint(tf bar.Timeframe, createdAt time.Time, top, bottom money.Price) string {
	buf := make([]byte, 0, 32)
	buf = binary.BigEndian.AppendUint16(buf, uint16(tf))
	buf = binary.BigEndian.AppendUint64(buf, uint64(createdAt.UTC().Unix()))
	buf = append(buf, []byte(top.String())...)
	buf = append(buf, '|')
	buf = append(buf, []byte(bottom.String())...)
	sum := adler32.Checksum(buf)
	return fmt.Sprintf("%s|%s|%08x", tf.String(), createdAt.UTC().Format(time.RFC3339), sum)
}

// OnPrice transitions every ACTIVE pool whose (tolerance-widened) band
// contains price into TOUCHED, in creation order for a stable,
// deterministic event sequence.
func (r *Registry) OnPrice(ts time.Time, price money.Price) []PoolTouchedEvent {
	var events []PoolTouchedEvent
	for _, id := range r.order {
		p, ok := r.pools[id]
		if !ok || p.State != Active {
			continue
		}
		tol := r.cfg.PerTF[p.Timeframe].HitTolerance
		lo, hi := p.Bottom.Sub(tol), p.Top.Add(tol)
		if price.LessThan(lo) || price.GreaterThan(hi) {
			continue
		}
		p.State = Touched
		events = append(events, PoolTouchedEvent{PoolID: id, TS: ts})
	}
	return events
}

// AdvanceTime drives the TTL wheel forward to now and transitions
// every due pool to EXPIRED.
func (r *Registry) AdvanceTime(now time.Time) []PoolExpiredEvent {
	ids := r.wheel.Advance(now)
	if len(ids) == 0 {
		return nil
	}
	events := make([]PoolExpiredEvent, 0, len(ids))
	for _, id := range ids {
		p, ok := r.pools[id]
		if !ok {
			continue
		}
		p.State = Expired
		p.ExpiredAt = now
		if bucket := r.activeByTF[p.Timeframe]; bucket != nil {
			delete(bucket, id)
		}
		events = append(events, PoolExpiredEvent{PoolID: id, TS: now})
	}
	return events
}

// PurgeBefore removes every pool with state EXPIRED and expired_at
// before ts; ACTIVE and TOUCHED pools are never touched, satisfying
// invariant 8. Returns the number of pools removed.
func (r *Registry) PurgeBefore(ts time.Time) int {
	removed := 0
	kept := r.order[:0:0]
	for _, id := range r.order {
		p, ok := r.pools[id]
		if ok && p.State == Expired && p.ExpiredAt.Before(ts) {
			delete(r.pools, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return removed
}

// QueryActive returns every non-expired pool, optionally restricted
// to one timeframe, in creation order. Callers must not mutate the
// returned Pool values in place — they are registry-owned.
func (r *Registry) QueryActive(tf *bar.Timeframe) []Pool {
	var out []Pool
	for _, id := range r.order {
		p, ok := r.pools[id]
		if !ok || p.State == Expired {
			continue
		}
		if tf != nil && p.Timeframe != *tf {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// Get returns a copy of the pool with id, if it still exists.
func (r *Registry) Get(id string) (Pool, bool) {
	p, ok := r.pools[id]
	if !ok {
		return Pool{}, false
	}
	return *p, true
}

// Counts returns the number of currently-active (ACTIVE or TOUCHED)
// pools per timeframe, for the `max_pools_per_tf` invariant and for
// metrics.
func (r *Registry) Counts() map[bar.Timeframe]int {
	out := make(map[bar.Timeframe]int, len(r.activeByTF))
	for tf, ids := range r.activeByTF {
		out[tf] = len(ids)
	}
	return out
}
