// Package detect infers completion of the host's asynchronous response
// to a submitted prompt. The host exposes no completion event, so the
// detector races independent heuristic signals and trusts whichever
// fires first. Every path resolves: an ambiguous completion is treated
// as success, because stalling the queue forever is worse than
// optimistically advancing and discovering a host error on the next
// submission.
package detect

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Reason identifies the heuristic that declared completion.
type Reason string

const (
	ReasonEdge      Reason = "submit-reenable-edge"
	ReasonActivity  Reason = "dom-activity"
	ReasonPrimary   Reason = "primary-timeout"
	ReasonFallback  Reason = "fallback-timeout"
	ReasonCeiling   Reason = "ceiling-timeout"
	ReasonCancelled Reason = "cancelled"
)

// ReadyProber reports whether the host's submit control is usable
// right now. Satisfied by locator.Locator.
type ReadyProber interface {
	SubmitReady(ctx context.Context) (bool, error)
}

// ActivitySignal streams cumulative DOM mutation counts since the
// submission. Satisfied by browser.ActivityProbe; faked in tests.
type ActivitySignal interface {
	Observe(ctx context.Context) <-chan int
}

// Config holds the tunable timing knobs. The exact values are policy,
// not semantics — see DefaultConfig for the shipped defaults.
type Config struct {
	PollInterval       time.Duration
	EdgeSettle         time.Duration
	ActivitySettle     time.Duration
	ActivityThreshold  int
	PrimaryTimeout     time.Duration
	PrimaryTimeoutLast time.Duration
	FallbackTimeout    time.Duration
	CeilingTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       500 * time.Millisecond,
		EdgeSettle:         500 * time.Millisecond,
		ActivitySettle:     time.Second,
		ActivityThreshold:  25,
		PrimaryTimeout:     15 * time.Second,
		PrimaryTimeoutLast: 10 * time.Second,
		FallbackTimeout:    30 * time.Second,
		CeilingTimeout:     45 * time.Second,
	}
}

type Detector struct {
	prober   ReadyProber
	activity ActivitySignal
	cfg      Config
}

func New(prober ReadyProber, activity ActivitySignal, cfg Config) *Detector {
	return &Detector{prober: prober, activity: activity, cfg: cfg}
}

// Wait blocks until heuristic evidence indicates the host finished its
// response, bounded by the ceiling timeout. The first signal to fire
// wins and all sibling timers/pollers are cancelled with it. lastItem
// selects the shorter primary timeout used for the final queued item.
func (d *Detector) Wait(ctx context.Context, lastItem bool) Reason {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	win := make(chan Reason, 4)
	var sawActivity atomic.Bool

	go d.watchEdge(ctx, win)
	go d.watchActivity(ctx, &sawActivity, win)
	go d.watchTimers(ctx, lastItem, &sawActivity, win)

	select {
	case r := <-win:
		log.Printf("completion declared: %s", r)
		return r
	case <-ctx.Done():
		return ReasonCancelled
	}
}

// watchEdge polls the submit control and fires on a rising edge from
// "observed unusable at least once" to "usable", after a settle delay
// that absorbs transient flicker.
func (d *Detector) watchEdge(ctx context.Context, win chan<- Reason) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	seenDisabled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready, err := d.prober.SubmitReady(ctx)
			if err != nil {
				continue
			}
			if !ready {
				seenDisabled = true
				continue
			}
			if !seenDisabled {
				continue
			}
			if !sleepCtx(ctx, d.cfg.EdgeSettle) {
				return
			}
			// Re-check after the settle: a flicker that went
			// disabled again is not a completion.
			ready, err = d.prober.SubmitReady(ctx)
			if err != nil || !ready {
				continue
			}
			signal(win, ReasonEdge)
			return
		}
	}
}

// watchActivity fires once mutation volume crossed the threshold and
// the submit control is usable. This covers host states that never
// toggle the disabled attribute at all.
func (d *Detector) watchActivity(ctx context.Context, sawActivity *atomic.Bool, win chan<- Reason) {
	if d.activity == nil {
		return
	}
	ticks := d.activity.Observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case count, ok := <-ticks:
			if !ok {
				return
			}
			if count < d.cfg.ActivityThreshold {
				continue
			}
			sawActivity.Store(true)
			ready, err := d.prober.SubmitReady(ctx)
			if err != nil || !ready {
				continue
			}
			if !sleepCtx(ctx, d.cfg.ActivitySettle) {
				return
			}
			signal(win, ReasonActivity)
			return
		}
	}
}

func (d *Detector) watchTimers(ctx context.Context, lastItem bool, sawActivity *atomic.Bool, win chan<- Reason) {
	primary := d.cfg.PrimaryTimeout
	if lastItem {
		primary = d.cfg.PrimaryTimeoutLast
	}

	primaryT := time.NewTimer(primary)
	fallbackT := time.NewTimer(d.cfg.FallbackTimeout)
	ceilingT := time.NewTimer(d.cfg.CeilingTimeout)
	defer primaryT.Stop()
	defer fallbackT.Stop()
	defer ceilingT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-primaryT.C:
			// When the growth heuristic saw the host visibly
			// working, defer to the longer fallback/ceiling pair
			// instead of cutting a slow response short.
			if sawActivity.Load() {
				continue
			}
			signal(win, ReasonPrimary)
			return
		case <-fallbackT.C:
			// Safety net for slow responses: only meaningful
			// when the growth heuristic saw the host working.
			if sawActivity.Load() {
				signal(win, ReasonFallback)
				return
			}
		case <-ceilingT.C:
			signal(win, ReasonCeiling)
			return
		}
	}
}

func signal(win chan<- Reason, r Reason) {
	select {
	case win <- r:
	default:
	}
}

// sleepCtx waits d or until ctx is done; reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
