// Package pipeline implements the pipeline driver (C12): it wires
// C3 (indicators) through C11 (risk sizer) into the single per-bar
// dispatch order mandated by spec.md §4.12/§5 and drains the result
// into the caller-supplied EventSink, OrderIntentSink and
// MetricsSink. One Driver instance owns exactly one symbol's stage
// instances, matching §5's "parallelism allowed only across
// independent symbols, shared-nothing" model: nothing here is safe
// to call from two goroutines on the same Driver at once, by design.
package pipeline

import (
	"fmt"
	"time"

	"signalcore/aggregator"
	"signalcore/bar"
	"signalcore/candidate"
	"signalcore/config"
	"signalcore/detectors"
	"signalcore/domain"
	"signalcore/indicators"
	"signalcore/logging"
	"signalcore/money"
	"signalcore/overlap"
	"signalcore/perrs"
	"signalcore/ports"
	"signalcore/registry"
	"signalcore/ringbuffer"
	"signalcore/risk"
	"signalcore/zonewatcher"
)

type tfDetectors struct {
	fvg   *detectors.FVGDetector
	pivot *detectors.PivotDetector
}

// zoneBand is the price band a zone watches, kept by the driver
// because zonewatcher.ZoneEnteredEvent intentionally carries only the
// entry price, not the originating band: the candidate FSM needs the
// zone's far boundary (§4.10's stop-hint rule) at spawn time, so the
// driver remembers it alongside whatever the watcher itself tracks.
type zoneBand struct {
	top    money.Price
	bottom money.Price
}

// Driver orchestrates one symbol's full stage chain for each base
// bar, in the order spec.md §5 mandates: indicator update, closed HTF
// emissions, pool lifecycle, zone entries, candidate transitions,
// signals.
type Driver struct {
	symbol string
	cfg    config.Config
	equity money.Price

	ind    *indicators.Pack
	agg    *aggregator.Aggregator
	det    map[bar.Timeframe]*tfDetectors
	reg    *registry.Registry
	ovl    *overlap.Engine
	zw     *zonewatcher.Watcher
	cand   *candidate.Machine
	bands  map[string]zoneBand
	recent *ringbuffer.Buffer[bar.Bar]

	events  ports.EventSink
	intents ports.OrderIntentSink
	metrics ports.MetricsSink
	log     logging.Logger

	lastSnap indicators.Snapshot
}

// New constructs a Driver for symbol. cfg must already pass
// Config.Validate. start is the instant the registry's TTL wheel
// clock begins at — normally the first bar's ts the caller will feed.
func New(symbol string, cfg config.Config, equity money.Price, start time.Time, events ports.EventSink, intents ports.OrderIntentSink, metrics ports.MetricsSink, log logging.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}

	det := make(map[bar.Timeframe]*tfDetectors, len(cfg.Detectors.EnabledTimeframes))
	for _, tf := range cfg.Detectors.EnabledTimeframes {
		det[tf] = &tfDetectors{
			fvg:   detectors.NewFVGDetector(symbol, tf, cfg.Detectors.FVG),
			pivot: detectors.NewPivotDetector(symbol, tf, cfg.Detectors.Pivot),
		}
	}

	if err := cfg.Aggregation.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid aggregation config: %w", err)
	}
	agg := aggregator.New(symbol, cfg.Aggregation)

	reg := registry.New(symbol, cfg.Pools, start)

	d := &Driver{
		symbol:  symbol,
		cfg:     cfg,
		equity:  equity,
		ind:     indicators.New(cfg.Indicators),
		agg:     agg,
		det:     det,
		reg:     reg,
		ovl:     overlap.New(cfg.HLZ, reg),
		zw:      zonewatcher.New(cfg.ZoneWatcher),
		cand:    candidate.New(cfg.Candidate),
		bands:   make(map[string]zoneBand),
		recent:  ringbuffer.New[bar.Bar](cfg.Candidate.Filters.SwingLookback + 8),
		events:  events,
		intents: intents,
		metrics: metrics,
		log:     log.ForSymbol(symbol),
	}
	return d, nil
}

// SetEquity updates the account equity used by the risk sizer on
// subsequent bars; the host process calls this as positions open and
// close.
func (d *Driver) SetEquity(e money.Price) { d.equity = e }

// Feed processes exactly one base-timeframe bar end to end: no
// suspension points, runs to completion before returning, per §5.
// A strict-policy clock violation (ClockSkew/FutureBar under "raise")
// is returned to the caller, who should stop feeding this symbol;
// every other error kind is recoverable and has already been
// reported via the EventSink and the logger before Feed returns nil
// (no MetricsSink counter is incremented for it).
func (d *Driver) Feed(b bar.Bar) error {
	if err := b.Validate(); err != nil {
		d.reportRecoverable("InvalidBar", b.TS, err)
		return nil
	}

	d.metrics.IncBarsIn(d.symbol)
	d.recent.Push(b)

	// 1. indicator update
	snap := d.updateIndicators(b)
	d.lastSnap = snap

	// 2+3. closed HTF emissions, detector dispatch, pool creation
	closed, err := d.agg.Update(b)
	if err != nil {
		if fatal := d.handleAggregatorError(b, err); fatal != nil {
			return fatal
		}
		return nil
	}
	for _, cb := range closed {
		d.onClosedBar(cb)
	}

	// 4. pool lifecycle: expiry then touch, both driven by this bar's ts/close
	d.advancePools(b)

	// 6. zone entries -> candidate spawn
	entries := d.zw.OnBar(b)
	for _, e := range entries {
		d.onZoneEntered(e)
	}

	// 7. candidate transitions -> signals -> risk sizing
	recentBars := d.recent.Slice()
	signals, expiredIDs := d.cand.Advance(b, snap, recentBars)
	if n := len(expiredIDs); n > 0 {
		d.metrics.IncCandidatesExpired(d.symbol, n)
		for _, id := range expiredIDs {
			cid := id
			d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: b.TS, CandExpired: &cid})
		}
	}
	for _, sig := range signals {
		d.onSignal(sig)
	}

	return nil
}

func (d *Driver) updateIndicators(b bar.Bar) (snap indicators.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			if au, ok := r.(*perrs.ATRUnderflow); ok {
				au.Symbol = d.symbol
				d.log.Fatal(d.symbol, b.TS, au)
				snap = d.lastSnap
				return
			}
			panic(r)
		}
	}()
	return d.ind.Update(b)
}

func (d *Driver) handleAggregatorError(b bar.Bar, err error) error {
	switch err.(type) {
	case *perrs.ClockSkew, *perrs.FutureBar:
		if d.cfg.Aggregation.OutOfOrderPolicy == aggregator.Raise {
			d.log.Fatal(d.symbol, b.TS, err)
			return err
		}
	}
	d.reportRecoverable(fmt.Sprintf("%T", err), b.TS, err)
	return nil
}

func (d *Driver) reportRecoverable(kind string, ts time.Time, err error) {
	d.log.Diagnostic(kind, err.Error(), ts, err)
	d.events.Publish(ports.Event{
		Symbol: d.symbol,
		BarTS:  ts,
		Diagnostic: &ports.DiagnosticEvent{
			Kind:   kind,
			Symbol: d.symbol,
			BarTS:  ts,
			Detail: err.Error(),
		},
	})
}

// onClosedBar feeds a single closed HTF bar through that timeframe's
// detectors and, for every emitted candidate event, through pool
// creation and its downstream overlap/zone-watcher consequences.
func (d *Driver) onClosedBar(cb aggregator.ClosedBar) {
	d.metrics.IncAggregatorEmitted(d.symbol, cb.Timeframe)
	d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: cb.Bar.TS})

	tfd, ok := d.det[cb.Timeframe]
	if !ok {
		return
	}
	var candidates []domain.PoolCandidateEvent
	if ev := tfd.fvg.Update(cb.Bar); ev != nil {
		candidates = append(candidates, *ev)
	}
	for _, ev := range tfd.pivot.Update(cb.Bar) {
		candidates = append(candidates, *ev)
	}
	for _, ev := range candidates {
		d.onPoolCandidate(ev)
	}
}

func (d *Driver) onPoolCandidate(ev domain.PoolCandidateEvent) {
	created, err := d.reg.Create(ev)
	if err != nil {
		d.reportRecoverable("CapacityExceeded", ev.CreatedAt, err)
		return
	}
	if created == nil {
		return // below strength_threshold: a filter, not an event
	}
	d.metrics.IncPoolsCreated(d.symbol, ev.Timeframe, ev.Kind)
	d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: ev.CreatedAt, PoolCreated: created})

	p := created.Pool
	d.bands[p.ID] = zoneBand{top: p.Top, bottom: p.Bottom}
	if err := d.zw.UpsertPool(p); err != nil {
		d.reportRecoverable("CapacityExceeded", ev.CreatedAt, err)
	}

	hlzEv, err := d.ovl.OnPoolCreated(*created)
	if err != nil {
		d.reportRecoverable("CapacityExceeded", ev.CreatedAt, err)
		return
	}
	d.handleHLZEvent(ev.CreatedAt, hlzEv)
	d.publishActivePoolGauges()
}

func (d *Driver) handleHLZEvent(ts time.Time, hlzEv any) {
	switch v := hlzEv.(type) {
	case overlap.HLZCreated:
		d.metrics.IncHLZCreated(d.symbol)
		d.bands[v.HLZ.ID] = zoneBand{top: v.HLZ.Top, bottom: v.HLZ.Bottom}
		if err := d.zw.UpsertHLZ(v.HLZ); err != nil {
			d.reportRecoverable("CapacityExceeded", ts, err)
		}
		d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: ts, HLZCreated: &v})
	case overlap.HLZUpdated:
		d.bands[v.HLZ.ID] = zoneBand{top: v.HLZ.Top, bottom: v.HLZ.Bottom}
		if err := d.zw.UpsertHLZ(v.HLZ); err != nil {
			d.reportRecoverable("CapacityExceeded", ts, err)
		}
		d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: ts, HLZUpdated: &v})
	case nil:
		// no HLZ effect
	}
	d.metrics.SetActiveHLZs(d.symbol, len(d.ovl.Active()))
}

// advancePools drives pool expiry then pool touch off this bar's
// clock and close price, applying the §4 open-question decision that
// on_price is driven by close only (see DESIGN.md).
func (d *Driver) advancePools(b bar.Bar) {
	expiredByTF := make(map[bar.Timeframe]int)
	for _, ev := range d.reg.AdvanceTime(b.TS) {
		p, ok := d.reg.Get(ev.PoolID)
		if ok {
			expiredByTF[p.Timeframe]++
		}
		delete(d.bands, ev.PoolID)
		d.zw.RemovePool(ev.PoolID)
		for _, dissolved := range d.ovl.OnPoolExpired(ev) {
			d.onHLZDissolved(b.TS, dissolved)
		}
		evc := ev
		d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: b.TS, PoolExpired: &evc})
	}
	for tf, n := range expiredByTF {
		d.metrics.IncExpiredPools(d.symbol, tf, n)
	}

	for _, ev := range d.reg.OnPrice(b.TS, b.Close) {
		for _, dissolved := range d.ovl.OnPoolTouched(ev) {
			d.onHLZDissolved(b.TS, dissolved)
		}
		evc := ev
		d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: b.TS, PoolTouched: &evc})
	}

	d.publishActivePoolGauges()
	d.metrics.SetActiveHLZs(d.symbol, len(d.ovl.Active()))
}

func (d *Driver) onHLZDissolved(ts time.Time, ev overlap.HLZDissolved) {
	d.metrics.IncHLZDissolved(d.symbol)
	delete(d.bands, ev.ID)
	d.zw.RemoveHLZ(ev.ID)
	evc := ev
	d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: ts, HLZDissolved: &evc})
}

func (d *Driver) publishActivePoolGauges() {
	active := make(map[bar.Timeframe]int)
	touched := make(map[bar.Timeframe]int)
	for tf := range d.det {
		for _, p := range d.reg.QueryActive(&tf) {
			if p.State == registry.Touched {
				touched[p.Timeframe]++
			} else {
				active[p.Timeframe]++
			}
		}
	}
	for tf, n := range active {
		d.metrics.SetActivePools(d.symbol, tf, n)
	}
	for tf, n := range touched {
		d.metrics.SetTouchedPools(d.symbol, tf, n)
	}
}

func (d *Driver) onZoneEntered(e zonewatcher.ZoneEnteredEvent) {
	d.metrics.IncZoneEntries(d.symbol, e.ZoneKind.String())
	ec := e
	d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: e.EntryTS, ZoneEntered: &ec})

	band := d.bands[e.ZoneID]
	d.cand.Spawn(e.ZoneID, e.Side, e.EntryTS, band.top, band.bottom)
	d.metrics.IncCandidatesSpawned(d.symbol)
}

func (d *Driver) onSignal(sig candidate.Signal) {
	d.metrics.IncCandidatesReady(d.symbol)
	sc := sig
	d.events.Publish(ports.Event{Symbol: d.symbol, BarTS: sig.IssuedAt, Signal: &sc})

	intent, err := risk.Size(sig, d.equity, d.lastSnap, d.cfg.Risk)
	if err != nil {
		reason := "unknown"
		if rej, ok := err.(*perrs.Rejected); ok {
			reason = rej.Reason
		}
		d.metrics.IncSignalsRejected(d.symbol, reason)
		d.intents.PublishIntent(d.symbol, nil, err)
		return
	}
	d.metrics.IncSignalsEmitted(d.symbol)
	d.intents.PublishIntent(d.symbol, intent, nil)
}
