package browser

import (
	"context"
	"log"
	"time"
)

// activityProbeJS installs a MutationObserver over the host's main
// content region that accumulates added/removed node counts into a
// page global. Installing twice is a no-op, so the probe survives
// host re-renders that keep the document alive.
const activityProbeJS = `(() => {
	if (window.__ppActivity) {
		return true;
	}
	const state = { count: 0 };
	const root = document.querySelector('main') || document.body;
	if (!root) {
		return false;
	}
	const obs = new MutationObserver((muts) => {
		for (const m of muts) {
			state.count += m.addedNodes.length + m.removedNodes.length;
		}
	});
	obs.observe(root, { childList: true, subtree: true });
	window.__ppActivity = state;
	return true;
})()`

const activityReadJS = `(() => {
	return window.__ppActivity ? window.__ppActivity.count : 0;
})()`

// ActivityProbe turns raw DOM mutation volume into the activity
// stream the completion detector consumes. It holds no element
// references; every read goes back to the live page.
type ActivityProbe struct {
	ev       Evaluator
	interval time.Duration
}

// Evaluator is the slice of Manager the probe needs.
type Evaluator interface {
	Eval(ctx context.Context, expr string, out any) error
}

func NewActivityProbe(ev Evaluator, interval time.Duration) *ActivityProbe {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ActivityProbe{ev: ev, interval: interval}
}

// Observe installs the observer if needed, then emits the mutation
// count accumulated since this observation started, on an interval,
// until ctx is cancelled. Each submission gets its own Observe call so
// counts are per-prompt. Read errors are skipped, not fatal: the page
// may be mid-navigation and the next tick usually succeeds.
func (p *ActivityProbe) Observe(ctx context.Context) <-chan int {
	ch := make(chan int, 1)

	go func() {
		defer close(ch)

		var ok bool
		if err := p.ev.Eval(ctx, activityProbeJS, &ok); err != nil || !ok {
			log.Printf("activity probe install failed (ok=%v): %v", ok, err)
		}
		var baseline int
		if err := p.ev.Eval(ctx, activityReadJS, &baseline); err != nil {
			baseline = 0
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var count int
				if err := p.ev.Eval(ctx, activityReadJS, &count); err != nil {
					log.Printf("activity probe read failed: %v", err)
					continue
				}
				if count < baseline {
					// Counter restarted (page reload); rebase.
					baseline = 0
				}
				select {
				case ch <- count - baseline:
				default:
					// Consumer lagging; drop the tick.
				}
			}
		}
	}()

	return ch
}
