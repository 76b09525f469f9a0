// Package zonewatcher implements the zone watcher (C9): it tracks
// every live pool and HLZ as a price band and reports the bar on
// which price first enters that band. Membership is pushed in by the
// driver whenever the registry or overlap engine report a lifecycle
// change; the watcher itself holds only price bands, never the
// originating Pool/HLZ values, keeping with the weak-reference
// discipline the overlap engine already follows.
package zonewatcher

import (
	"fmt"
	"time"

	"signalcore/bar"
	"signalcore/domain"
	"signalcore/money"
	"signalcore/overlap"
	"signalcore/perrs"
	"signalcore/registry"
)

// ZoneKind distinguishes a pool-backed zone from an HLZ-backed zone.
type ZoneKind int

const (
	PoolZone ZoneKind = iota
	HLZZone
)

func (k ZoneKind) String() string {
	if k == HLZZone {
		return "hlz"
	}
	return "pool"
}

// Config configures the watcher.
type Config struct {
	PriceTolerance money.Price `yaml:"price_tolerance"`
	ConfirmClosure bool        `yaml:"confirm_closure"`
	MinStrength    money.Price `yaml:"min_strength"`
	MaxActiveZones int         `yaml:"max_active_zones"`
}

// Validate checks structural sanity.
func (c Config) Validate() error {
	if c.MaxActiveZones <= 0 {
		return fmt.Errorf("zonewatcher: max_active_zones must be positive")
	}
	if c.PriceTolerance.IsNegative() {
		return fmt.Errorf("zonewatcher: price_tolerance must be non-negative")
	}
	return nil
}

// ZoneEnteredEvent is emitted the bar price range first intersects a
// tracked zone's (tolerance-widened) band.
type ZoneEnteredEvent struct {
	ZoneID     string
	ZoneKind   ZoneKind
	EntryTS    time.Time
	EntryPrice money.Price
	Side       domain.Side
}

type trackedZone struct {
	id        string
	kind      ZoneKind
	top       money.Price
	bottom    money.Price
	side      domain.Side
	strength  money.Price
	wasInside bool
	tracking  bool // false once strength < min_strength (excluded from entries)
}

// Watcher tracks zones for one symbol.
type Watcher struct {
	cfg   Config
	order []string
	zones map[string]*trackedZone
}

// New constructs an empty Watcher.
func New(cfg Config) *Watcher {
	return &Watcher{cfg: cfg, zones: make(map[string]*trackedZone)}
}

// UpsertPool adds or updates a pool-backed zone from the registry.
func (w *Watcher) UpsertPool(p registry.Pool) error {
	return w.upsert(p.ID, PoolZone, p.Top, p.Bottom, p.Side, p.Strength)
}

// RemovePool stops tracking a pool-backed zone (e.g. on PoolExpired).
func (w *Watcher) RemovePool(id string) { w.remove(id) }

// UpsertHLZ adds or updates an HLZ-backed zone from the overlap engine.
func (w *Watcher) UpsertHLZ(h overlap.HLZ) error {
	side := h.Side
	strength := h.CombinedStrength
	return w.upsert(h.ID, HLZZone, h.Top, h.Bottom, side, strength)
}

// RemoveHLZ stops tracking an HLZ-backed zone (e.g. on HLZDissolved).
func (w *Watcher) RemoveHLZ(id string) { w.remove(id) }

func (w *Watcher) upsert(id string, kind ZoneKind, top, bottom money.Price, side domain.Side, strength money.Price) error {
	if z, ok := w.zones[id]; ok {
		z.top, z.bottom, z.side, z.strength = top, bottom, side, strength
		z.tracking = strength.GreaterThanOrEqual(w.cfg.MinStrength)
		return nil
	}
	if len(w.zones) >= w.cfg.MaxActiveZones {
		return &perrs.CapacityExceeded{Scope: "zone_watcher.active", Limit: w.cfg.MaxActiveZones}
	}
	w.zones[id] = &trackedZone{
		id: id, kind: kind, top: top, bottom: bottom, side: side,
		strength: strength, tracking: strength.GreaterThanOrEqual(w.cfg.MinStrength),
	}
	w.order = append(w.order, id)
	return nil
}

func (w *Watcher) remove(id string) {
	delete(w.zones, id)
}

// OnBar reports the zones newly entered by this bar's price range. At
// most one event per zone per bar.
func (w *Watcher) OnBar(b bar.Bar) []ZoneEnteredEvent {
	var events []ZoneEnteredEvent
	tol := w.cfg.PriceTolerance
	for _, id := range w.order {
		z, ok := w.zones[id]
		if !ok {
			continue
		}
		zlo, zhi := z.bottom.Sub(tol), z.top.Add(tol)
		inside := b.Low.LessThanOrEqual(zhi) && b.High.GreaterThanOrEqual(zlo)
		entered := inside && !z.wasInside && z.tracking
		z.wasInside = inside
		if !entered {
			continue
		}
		if w.cfg.ConfirmClosure {
			closeInside := b.Close.GreaterThanOrEqual(zlo) && b.Close.LessThanOrEqual(zhi)
			if !closeInside {
				continue
			}
		}
		events = append(events, ZoneEnteredEvent{
			ZoneID: id, ZoneKind: z.kind, EntryTS: b.TS, EntryPrice: b.Close, Side: z.side,
		})
	}
	return events
}

// Count reports how many zones are currently tracked.
func (w *Watcher) Count() int { return len(w.zones) }
