// Package overlap implements the HLZ (High-Liquidity Zone) engine
// (C8). It never holds a strong handle on a Pool — only its id — and
// re-reads current pool state from the registry whenever it needs it,
// per §9's "Overlap engine references Pools by id only."
package overlap

import (
	"fmt"
	"hash/adler32"
	"sort"
	"strings"

	"signalcore/bar"
	"signalcore/domain"
	"signalcore/money"
	"signalcore/perrs"
	"signalcore/registry"

	"github.com/shopspring/decimal"
)

// Config configures the overlap engine.
type Config struct {
	MinMembers        int                          `yaml:"min_members"`
	MinStrength       money.Price                  `yaml:"min_strength"`
	MergeTolerance    money.Price                  `yaml:"merge_tolerance"`
	SideMixing        bool                         `yaml:"side_mixing"`
	MaxActiveHLZs     int                          `yaml:"max_active_hlzs"`
	RecomputeOnUpdate bool                         `yaml:"recompute_on_update"`
	TFWeight          map[bar.Timeframe]money.Price `yaml:"tf_weight"`
	// DropOnTouch resolves the spec's open question on HLZ handling of
	// PoolTouched: false (the default) retains membership through
	// TOUCHED until EXPIRED; true drops membership as soon as a member
	// pool is touched.
	DropOnTouch bool `yaml:"drop_on_touch"`
}

// Validate checks structural sanity.
func (c Config) Validate() error {
	if c.MinMembers < 2 {
		return fmt.Errorf("overlap: min_members must be at least 2")
	}
	if c.MaxActiveHLZs <= 0 {
		return fmt.Errorf("overlap: max_active_hlzs must be positive")
	}
	return nil
}

func (c Config) weight(tf bar.Timeframe) money.Price {
	if w, ok := c.TFWeight[tf]; ok {
		return w
	}
	return decimal.NewFromInt(1)
}

// HLZ is a band formed by the intersection of overlapping pools.
// Members are not required to come from distinct timeframes.
type HLZ struct {
	ID               string
	Top              money.Price
	Bottom           money.Price
	MemberPoolIDs    []string
	CombinedStrength money.Price
	Timeframes       map[bar.Timeframe]struct{}
	Side             domain.Side
	Mixed            bool
}

// HLZCreated, HLZUpdated and HLZDissolved are the three events the
// engine emits.
type HLZCreated struct{ HLZ HLZ }
type HLZUpdated struct{ HLZ HLZ }
type HLZDissolved struct{ ID string }

// Engine maintains the set of active HLZs for one symbol.
type Engine struct {
	cfg   Config
	reg   *registry.Registry
	hlzs  map[string]*HLZ
	order []string
}

// New constructs an Engine backed by reg for pool lookups.
func New(cfg Config, reg *registry.Registry) *Engine {
	return &Engine{cfg: cfg, reg: reg, hlzs: make(map[string]*HLZ)}
}

// OnPoolCreated evaluates whether the newly created pool, combined
// with other currently-active pools, forms or extends an HLZ.
func (e *Engine) OnPoolCreated(created registry.PoolCreatedEvent) (any, error) {
	newPool := created.Pool
	members := e.intersectingMembers(newPool)
	if len(members) < e.cfg.MinMembers {
		return nil, nil
	}

	strength := e.combinedStrength(members)
	if strength.LessThan(e.cfg.MinStrength) {
		return nil, nil
	}

	top, bottom := bandIntersection(members)
	side, mixed := sideOf(members, e.cfg.SideMixing)

	if existing := e.findMergeable(top, bottom, side, mixed); existing != nil {
		e.mergeInto(existing, members, top, bottom, strength)
		return HLZUpdated{HLZ: *existing}, nil
	}

	if len(e.hlzs) >= e.cfg.MaxActiveHLZs {
		return nil, &perrs.CapacityExceeded{Scope: "hlz.active", Limit: e.cfg.MaxActiveHLZs}
	}

	h := &HLZ{
		ID:               hlzID(members),
		Top:              top,
		Bottom:           bottom,
		MemberPoolIDs:    idsOf(members),
		CombinedStrength: strength,
		Timeframes:       tfSetOf(members),
		Side:             side,
		Mixed:            mixed,
	}
	e.hlzs[h.ID] = h
	e.order = append(e.order, h.ID)
	return HLZCreated{HLZ: *h}, nil
}

// OnPoolTouched applies the configured touch policy.
func (e *Engine) OnPoolTouched(ev registry.PoolTouchedEvent) []HLZDissolved {
	if !e.cfg.DropOnTouch {
		return nil
	}
	return e.removeMember(ev.PoolID)
}

// OnPoolExpired always drops the expiring pool's membership.
func (e *Engine) OnPoolExpired(ev registry.PoolExpiredEvent) []HLZDissolved {
	return e.removeMember(ev.PoolID)
}

func (e *Engine) removeMember(poolID string) []HLZDissolved {
	var dissolved []HLZDissolved
	for _, id := range e.order {
		h, ok := e.hlzs[id]
		if !ok {
			continue
		}
		idx := indexOf(h.MemberPoolIDs, poolID)
		if idx < 0 {
			continue
		}
		h.MemberPoolIDs = append(h.MemberPoolIDs[:idx], h.MemberPoolIDs[idx+1:]...)
		if len(h.MemberPoolIDs) < e.cfg.MinMembers {
			delete(e.hlzs, id)
			dissolved = append(dissolved, HLZDissolved{ID: id})
		}
	}
	if len(dissolved) > 0 {
		e.order = compact(e.order, e.hlzs)
	}
	return dissolved
}

// intersectingMembers returns the newly created pool plus every other
// currently-active, side-compatible pool that can join it without
// inverting the resulting band. Membership is grown greedily against
// the *running* intersection rather than against newPool alone: a
// candidate whose band overlaps newPool but not every pool already
// admitted would pull top below bottom once folded in (§4.9/§8's
// `bottom(h) ≤ top(h)` invariant), so it is left out of this HLZ
// instead of corrupting the band. Candidates are visited in the
// registry's deterministic creation order, so which maximal clique
// is found (when more than one exists) is itself deterministic.
func (e *Engine) intersectingMembers(newPool registry.Pool) []registry.Pool {
	out := []registry.Pool{newPool}
	top, bottom := newPool.Top, newPool.Bottom
	for _, p := range e.reg.QueryActive(nil) {
		if p.ID == newPool.ID {
			continue
		}
		if !e.cfg.SideMixing && p.Side != newPool.Side {
			continue
		}
		if !intersects(p.Top, p.Bottom, top, bottom) {
			continue
		}
		newTop := money.Min(top, p.Top)
		newBottom := money.Max(bottom, p.Bottom)
		if newTop.LessThan(newBottom) {
			continue // would invert the running band; p is not in this clique
		}
		out = append(out, p)
		top, bottom = newTop, newBottom
	}
	return out
}

func (e *Engine) combinedStrength(members []registry.Pool) money.Price {
	total := money.Zero
	for _, p := range members {
		total = total.Add(e.cfg.weight(p.Timeframe).Mul(p.Strength))
	}
	return total
}

func (e *Engine) findMergeable(top, bottom money.Price, side domain.Side, mixed bool) *HLZ {
	for _, id := range e.order {
		h, ok := e.hlzs[id]
		if !ok {
			continue
		}
		if !mixed && !h.Mixed && h.Side != side {
			continue
		}
		if bandGap(h.Top, h.Bottom, top, bottom).LessThanOrEqual(e.cfg.MergeTolerance) {
			return h
		}
	}
	return nil
}

func (e *Engine) mergeInto(h *HLZ, members []registry.Pool, top, bottom, strength money.Price) {
	seen := make(map[string]struct{}, len(h.MemberPoolIDs))
	for _, id := range h.MemberPoolIDs {
		seen[id] = struct{}{}
	}
	for _, p := range members {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		h.MemberPoolIDs = append(h.MemberPoolIDs, p.ID)
		h.Timeframes[p.Timeframe] = struct{}{}
		seen[p.ID] = struct{}{}
	}
	h.Top = money.Max(h.Top, top)
	h.Bottom = money.Min(h.Bottom, bottom)
	h.CombinedStrength = h.CombinedStrength.Add(strength)
}

// Active returns every currently-live HLZ in creation order.
func (e *Engine) Active() []HLZ {
	out := make([]HLZ, 0, len(e.order))
	for _, id := range e.order {
		if h, ok := e.hlzs[id]; ok {
			out = append(out, *h)
		}
	}
	return out
}

func intersects(aTop, aBottom, bTop, bBottom money.Price) bool {
	return aTop.GreaterThanOrEqual(bBottom) && bTop.GreaterThanOrEqual(aBottom)
}

// bandGap is zero when the bands already overlap, otherwise the
// positive distance between their nearest edges.
func bandGap(aTop, aBottom, bTop, bBottom money.Price) money.Price {
	if intersects(aTop, aBottom, bTop, bBottom) {
		return money.Zero
	}
	return money.Max(aBottom.Sub(bTop), bBottom.Sub(aTop))
}

func bandIntersection(members []registry.Pool) (top, bottom money.Price) {
	top, bottom = members[0].Top, members[0].Bottom
	for _, p := range members[1:] {
		top = money.Min(top, p.Top)
		bottom = money.Max(bottom, p.Bottom)
	}
	return top, bottom
}

func sideOf(members []registry.Pool, mixing bool) (domain.Side, bool) {
	side := members[0].Side
	for _, p := range members[1:] {
		if p.Side != side {
			if !mixing {
				// side_mixing=false already filtered these out
				// upstream; this is defensive only.
				return side, false
			}
			return side, true
		}
	}
	return side, false
}

func idsOf(members []registry.Pool) []string {
	out := make([]string, len(members))
	for i, p := range members {
		out[i] = p.ID
	}
	return out
}

func tfSetOf(members []registry.Pool) map[bar.Timeframe]struct{} {
	out := make(map[bar.Timeframe]struct{}, len(members))
	for _, p := range members {
		out[p.Timeframe] = struct{}{}
	}
	return out
}

func indexOf(ids []string, id string) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

func compact(order []string, hlzs map[string]*HLZ) []string {
	out := order[:0:0]
	for _, id := range order {
		if _, ok := hlzs[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// hlzID builds a deterministic id from the sorted member pool ids: an
// adler32 checksum of those ids joined with commas.
func hlzID(members []registry.Pool) string {
	ids := idsOf(members)
	sort.Strings(ids)
	joined := strings.Join(ids, ",")
	sum := adler32.Checksum([]byte(joined))
	return fmt.Sprintf("hlz|%08x", sum)
}
