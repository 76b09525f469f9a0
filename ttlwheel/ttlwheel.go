// Package ttlwheel implements the hierarchical TTL wheel (C6): four
// cascading levels (seconds, minutes, hours, days) giving O(1)
// scheduling and O(1) cancellation for TTLs between one second and
// seven days. There is no real time source inside the wheel — "now"
// is always supplied by the caller via Advance, which is what keeps
// the whole pipeline deterministic and replayable.
package ttlwheel

import (
	"fmt"
	"sort"
	"time"

	"github.com/bits-and-blooms/bitset"
)

const (
	secSlots  = 60
	minSlots  = 60
	hourSlots = 24
	daySlots  = 7

	secUnit  = int64(1)
	minUnit  = int64(60)
	hourUnit = int64(3600)
	dayUnit  = int64(86400)

	maxTTLSeconds = dayUnit * daySlots // 7 days
)

type entry struct {
	id    string
	expAt int64 // unix seconds
}

type level struct {
	unit     int64
	numSlots int
	slots    []map[string]*entry
	occupied *bitset.BitSet // occupied.Test(slot) iff slots[slot] is non-empty
}

func newLevel(unit int64, numSlots int) level {
	slots := make([]map[string]*entry, numSlots)
	for i := range slots {
		slots[i] = make(map[string]*entry)
	}
	return level{unit: unit, numSlots: numSlots, slots: slots, occupied: bitset.New(uint(numSlots))}
}

func (l *level) slotFor(expAt int64) int {
	return int((expAt / l.unit) % int64(l.numSlots))
}

// Wheel schedules string item ids against an externally driven clock.
type Wheel struct {
	now    int64    // unix seconds
	levels [4]level // seconds, minutes, hours, days
	byID   map[string]*location
	due    []string
}

type location struct {
	lvl  int
	slot int
}

// New constructs an empty wheel with its clock set to start. Every
// Schedule and Advance call is interpreted relative to this clock, so
// callers must establish it with the same "now" the rest of the
// pipeline is using — there is no implicit clock recovery from the
// first scheduled expiry, since an expiry is a future deadline, not
// the current time.
func New(start time.Time) *Wheel {
	return &Wheel{
		now: start.Unix(),
		levels: [4]level{
			newLevel(secUnit, secSlots),
			newLevel(minUnit, minSlots),
			newLevel(hourUnit, hourSlots),
			newLevel(dayUnit, daySlots),
		},
		byID: make(map[string]*location),
	}
}

// Schedule inserts id with the given absolute expiry. Expiries more
// than seven days past the wheel's current clock are rejected; the
// spec bounds TTLs to [1s, 7d]. Late scheduling (expiresAt <= now) is
// legal and moves the item directly into the due list, to be returned
// by the next Advance.
func (w *Wheel) Schedule(id string, expiresAt time.Time) error {
	exp := expiresAt.Unix()
	delta := exp - w.now
	if delta > maxTTLSeconds {
		return fmt.Errorf("ttlwheel: ttl %ds exceeds the 7-day maximum", delta)
	}
	w.place(id, exp, delta)
	return nil
}

// place inserts id at the finest level whose span covers delta, or
// straight into the due list if delta <= 0.
func (w *Wheel) place(id string, expAt, delta int64) {
	if delta <= 0 {
		w.due = append(w.due, id)
		return
	}
	lvl := w.levelFor(delta)
	slot := w.levels[lvl].slotFor(expAt)
	e := &entry{id: id, expAt: expAt}
	w.levels[lvl].slots[slot][id] = e
	w.levels[lvl].occupied.Set(uint(slot))
	w.byID[id] = &location{lvl: lvl, slot: slot}
}

func (w *Wheel) levelFor(delta int64) int {
	switch {
	case delta < secUnit*secSlots:
		return 0
	case delta < minUnit*minSlots:
		return 1
	case delta < hourUnit*hourSlots:
		return 2
	default:
		return 3
	}
}

// Cancel removes id from the wheel, if present. O(1).
func (w *Wheel) Cancel(id string) {
	loc, ok := w.byID[id]
	if !ok {
		return
	}
	lvl := &w.levels[loc.lvl]
	delete(lvl.slots[loc.slot], id)
	if len(lvl.slots[loc.slot]) == 0 {
		lvl.occupied.Clear(uint(loc.slot))
	}
	delete(w.byID, id)
}

// Advance moves the wheel's clock forward to now and returns every
// item id that expired in the interval, in the order their seconds
// slots were crossed (items expiring at the same instant are ordered
// by id for a stable, deterministic tie-break). Items that were already
// due when scheduled come first, in scheduling order.
//
// Rather than stepping w.now one second at a time up to target, each
// iteration jumps straight to the next second at which some level
// actually has an occupied slot — found by scanning each level's fixed,
// small slot count (60+60+24+7 bits, never more) instead of the
// seconds in the gap. Cost is O(k) in the number of items that cascade
// or expire, not O(target-w.now); a quiet wheel jumps straight to
// target in one step.
func (w *Wheel) Advance(now time.Time) []string {
	target := now.Unix()
	expired := w.due
	w.due = nil

	for w.now < target {
		next, ok := w.nextEventTime(target)
		if !ok {
			w.now = target
			break
		}
		w.now = next
		w.cascade(3, dayUnit, daySlots)
		w.cascade(2, hourUnit, hourSlots)
		w.cascade(1, minUnit, minSlots)
		// A cascade puts items expiring exactly at w.now on the due list;
		// they expire together with this second's slot.
		crossed := append(w.popSeconds(), w.due...)
		w.due = nil
		sort.Strings(crossed)
		expired = append(expired, crossed...)
	}
	return expired
}

// nextEventTime returns the earliest time strictly after the current
// w.now, and no later than target, at which any level has an occupied
// slot that would cascade or pop. ok is false when nothing is
// scheduled on or before target.
func (w *Wheel) nextEventTime(target int64) (int64, bool) {
	best, found := int64(0), false
	consider := func(t int64, ok bool) {
		if !ok || t > target {
			return
		}
		if !found || t < best {
			best, found = t, true
		}
	}
	consider(w.nextSecondSlot())
	consider(w.nextLevelBoundary(1, minUnit, minSlots))
	consider(w.nextLevelBoundary(2, hourUnit, hourSlots))
	consider(w.nextLevelBoundary(3, dayUnit, daySlots))
	return best, found
}

// nextSecondSlot scans level 0's fixed 60 slots for the next occupied
// one after w.now, wrapping as the slot index cycles.
func (w *Wheel) nextSecondSlot() (int64, bool) {
	lvl := &w.levels[0]
	start := (w.now + 1) % secSlots
	for d := int64(0); d < secSlots; d++ {
		slot := int((start + d) % secSlots)
		if lvl.occupied.Test(uint(slot)) {
			return w.now + 1 + d, true
		}
	}
	return 0, false
}

// nextLevelBoundary scans a coarser level's fixed slot count for the
// next multiple of unit, strictly after w.now, whose slot is occupied.
func (w *Wheel) nextLevelBoundary(lvlIdx int, unit int64, numSlots int) (int64, bool) {
	lvl := &w.levels[lvlIdx]
	base := ((w.now / unit) + 1) * unit
	for d := 0; d < numSlots; d++ {
		t := base + unit*int64(d)
		slot := int((t / unit) % int64(numSlots))
		if lvl.occupied.Test(uint(slot)) {
			return t, true
		}
	}
	return 0, false
}

// cascade moves every entry out of the coarse level's slot that is
// rolling over at w.now, re-placing each at whatever finer level its
// remaining delta now fits.
func (w *Wheel) cascade(lvl int, unit int64, numSlots int) {
	if w.now%unit != 0 {
		return
	}
	slot := int((w.now / unit) % int64(numSlots))
	if !w.levels[lvl].occupied.Test(uint(slot)) {
		return
	}
	bucket := w.levels[lvl].slots[slot]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	for _, id := range ids {
		e := bucket[id]
		delete(bucket, id)
		delete(w.byID, id)
		w.place(id, e.expAt, e.expAt-w.now)
	}
	w.levels[lvl].occupied.Clear(uint(slot))
}

func (w *Wheel) popSeconds() []string {
	slot := int(w.now % secSlots)
	if !w.levels[0].occupied.Test(uint(slot)) {
		return nil
	}
	bucket := w.levels[0].slots[slot]
	out := make([]string, 0, len(bucket))
	for id := range bucket {
		out = append(out, id)
	}
	sort.Strings(out)
	for _, id := range out {
		delete(bucket, id)
		delete(w.byID, id)
	}
	w.levels[0].occupied.Clear(uint(slot))
	return out
}

// Len reports how many items are currently scheduled (excluding the
// due list already returned by Advance).
func (w *Wheel) Len() int {
	return len(w.byID)
}
